package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/repository"
	"farm-subscription-backend/internal/infra/metrics"
)

type adminPayment struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Plan            string     `json:"plan"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Method          string     `json:"method"`
	Status          string     `json:"status"`
	Reference       *string    `json:"reference,omitempty"`
	ExternalOrderID *string    `json:"external_order_id,omitempty"`
	AdminNote       string     `json:"admin_note,omitempty"`
	IPAddress       string     `json:"ip_address,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	SubscriptionID  *string    `json:"subscription_id,omitempty"`
	// ActivationGap flags verified records still waiting for their
	// subscription; the reconciler closes these.
	ActivationGap bool `json:"activation_gap,omitempty"`
}

func toAdminPayment(rec *model.PaymentRecord) adminPayment {
	return adminPayment{
		ID:              rec.ID,
		UserID:          rec.UserID,
		Plan:            rec.PlanName,
		Amount:          rec.Amount,
		Currency:        rec.Currency,
		Method:          string(rec.Method),
		Status:          string(rec.Status),
		Reference:       rec.ReferenceID,
		ExternalOrderID: rec.ExternalOrderID,
		AdminNote:       rec.AdminNote,
		IPAddress:       rec.IPAddress,
		CreatedAt:       rec.CreatedAt,
		ExpiresAt:       rec.ExpiresAt,
		VerifiedAt:      rec.VerifiedAt,
		SubscriptionID:  rec.SubscriptionID,
		ActivationGap:   rec.Status == model.PaymentStatusVerified && rec.SubscriptionID == nil,
	}
}

// paymentsListHandler serves the review queue. Defaults to the pending set,
// which is where manual payments wait for an operator.
func (s *Server) paymentsListHandler(w http.ResponseWriter, r *http.Request) {
	status := model.PaymentStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.PaymentStatusPending
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	recs, err := s.payments.ListByStatus(r.Context(), repository.NoTX, status, offset, limit)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Failed to list payments", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	data := make([]adminPayment, 0, len(recs))
	for _, rec := range recs {
		// Same lazy sweep as the user history view: pending records past their
		// window are expired on read and leave the review queue.
		if rec.Status == model.PaymentStatusPending && rec.Expired(now) {
			if ok, err := s.payments.MarkTerminal(r.Context(), repository.NoTX, rec.ID, model.PaymentStatusExpired, ""); err != nil {
				s.log.Error().Err(err).Str("payment_id", rec.ID).Msg("lazy expiry failed")
			} else if ok {
				rec.Status = model.PaymentStatusExpired
				metrics.IncPayment(string(model.PaymentStatusExpired), string(rec.Method))
			}
		}
		if rec.Status != status {
			continue
		}
		data = append(data, toAdminPayment(rec))
	}
	response := struct {
		Data   []adminPayment `json:"data"`
		Limit  int            `json:"limit"`
		Offset int            `json:"offset"`
	}{Data: data, Limit: limit, Offset: offset}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (s *Server) paymentVerifyHandler(w http.ResponseWriter, r *http.Request, id string) {
	var req noteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	res, err := s.verifyUC.VerifyManual(r.Context(), id, req.Note)
	if err != nil {
		s.writeErr(w, err, "Failed to verify payment")
		return
	}

	response := struct {
		PaymentID        string    `json:"payment_id"`
		Status           string    `json:"status"`
		ExpiresAt        time.Time `json:"expires_at,omitempty"`
		AlreadyProcessed bool      `json:"already_processed"`
	}{
		PaymentID:        res.PaymentID,
		Status:           string(res.Status),
		ExpiresAt:        res.ExpiresAt,
		AlreadyProcessed: res.AlreadyProcessed,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) paymentRejectHandler(w http.ResponseWriter, r *http.Request, id string) {
	var req noteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.verifyUC.Reject(r.Context(), id, req.Note); err != nil {
		s.writeErr(w, err, "Failed to reject payment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantRequest struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
	Note   string `json:"note"`
}

func (s *Server) subscriptionGrantHandler(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Plan == "" {
		http.Error(w, "user_id and plan are required", http.StatusBadRequest)
		return
	}

	sub, err := s.subUC.GrantManual(r.Context(), req.UserID, req.Plan, req.Note)
	if err != nil {
		s.writeErr(w, err, "Failed to grant subscription")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sub)
}

func (s *Server) subscriptionRevokeHandler(w http.ResponseWriter, r *http.Request, id string) {
	var req noteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.subUC.Revoke(r.Context(), id, req.Note); err != nil {
		s.writeErr(w, err, "Failed to revoke subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := s.verifyUC.Reconcile(r.Context())
	if err != nil {
		s.writeErr(w, err, "Reconcile failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		Reconciled int `json:"reconciled"`
	}{Reconciled: n})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	byPlan, err := s.subs.CountActiveByPlan(r.Context(), repository.NoTX)
	if err != nil {
		s.writeErr(w, err, "Failed to get stats")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		ActiveSubsByPlan map[string]int `json:"active_subs_by_plan"`
	}{ActiveSubsByPlan: byPlan})
}

func (s *Server) writeErr(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrAlreadyProcessed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrAmountMismatch), errors.Is(err, domain.ErrCaptureFailed):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.log.Error().Err(err).Msg(fallback)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
