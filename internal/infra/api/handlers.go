package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/repository"
	"farm-subscription-backend/internal/infra/logging"
	"farm-subscription-backend/internal/usecase"
)

const maxBodyBytes = 64 << 10

// signatureHeader carries the webhook body HMAC.
const signatureHeader = "X-Razorpay-Signature"

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, domain.ErrInvalidArgument)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		s.writeError(w, r, domain.ErrInvalidArgument)
		return
	}

	ip := clientIP(r)
	if err := s.fraud.CheckSignup(r.Context(), ip); err != nil {
		s.writeError(w, r, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := model.NewUser(req.Email, string(hash), ip)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.users.Save(r.Context(), repository.NoTX, user); err != nil {
		s.writeError(w, r, err)
		return
	}

	tok, err := MintToken(s.authCfg.JWTSecret, user, s.authCfg.TokenTTL, s.nowFn())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: tok, ExpiresAt: s.nowFn().Add(s.authCfg.TokenTTL)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, domain.ErrInvalidArgument)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.users.FindByEmail(r.Context(), repository.NoTX, req.Email)
	if err != nil {
		// Same answer for unknown email and bad password.
		writeErrorCode(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeErrorCode(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	tok, err := MintToken(s.authCfg.JWTSecret, user, s.authCfg.TokenTTL, s.nowFn())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, ExpiresAt: s.nowFn().Add(s.authCfg.TokenTTL)})
}

type createOrderRequest struct {
	Plan         string   `json:"plan"`
	Modules      []string `json:"modules,omitempty"`
	PeriodMonths int      `json:"period_months,omitempty"`
}

type orderResponse struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	KeyID     string `json:"key_id"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, domain.ErrInvalidArgument)
		return
	}

	handle, err := s.orders.Create(r.Context(), id.UserID, usecase.CreateOrderRequest{
		PlanName:     req.Plan,
		Modules:      req.Modules,
		PeriodMonths: req.PeriodMonths,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		PaymentID: handle.PaymentID,
		OrderID:   handle.OrderID,
		Amount:    handle.Amount,
		Currency:  handle.Currency,
		KeyID:     handle.KeyID,
	})
}

type manualPaymentRequest struct {
	Plan      string `json:"plan"`
	Reference string `json:"reference"`
}

func (s *Server) handleSubmitManual(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req manualPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, domain.ErrInvalidArgument)
		return
	}

	rec, err := s.orders.SubmitManual(r.Context(), id.UserID, usecase.ManualPaymentRequest{
		PlanName:  req.Plan,
		Reference: req.Reference,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toPaymentDTO(rec))
}

type verifyResponse struct {
	PaymentID        string    `json:"payment_id"`
	Plan             string    `json:"plan"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"`
	AlreadyProcessed bool      `json:"already_processed"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req usecase.VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, domain.ErrInvalidArgument)
		return
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		s.writeError(w, r, domain.ErrInvalidArgument)
		return
	}

	res, err := s.verify.ConfirmCallback(r.Context(), id.UserID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		PaymentID:        res.PaymentID,
		Plan:             res.Plan,
		Amount:           res.Amount,
		Status:           string(res.Status),
		ExpiresAt:        res.ExpiresAt,
		AlreadyProcessed: res.AlreadyProcessed,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	err = s.verify.ConfirmWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrSignatureMismatch):
		// No detail: the caller failed authentication.
		http.Error(w, "bad request", http.StatusBadRequest)
	default:
		// Persistence failure. A 5xx makes the processor redeliver.
		logging.With(r.Context(), s.log).Error().Err(err).Msg("webhook processing failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type paymentDTO struct {
	ID         string     `json:"id"`
	Plan       string     `json:"plan"`
	Amount     int64      `json:"amount"`
	Currency   string     `json:"currency"`
	Method     string     `json:"method"`
	Status     string     `json:"status"`
	Reference  *string    `json:"reference,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

func toPaymentDTO(rec *model.PaymentRecord) paymentDTO {
	return paymentDTO{
		ID:         rec.ID,
		Plan:       rec.PlanName,
		Amount:     rec.Amount,
		Currency:   rec.Currency,
		Method:     string(rec.Method),
		Status:     string(rec.Status),
		Reference:  rec.ReferenceID,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		VerifiedAt: rec.VerifiedAt,
	}
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	recs, err := s.orders.ListMine(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]paymentDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toPaymentDTO(rec))
	}
	writeJSON(w, http.StatusOK, struct {
		Data []paymentDTO `json:"data"`
	}{Data: out})
}

type subscriptionResponse struct {
	Plan      string    `json:"plan"`
	StartsAt  time.Time `json:"starts_at"`
	ExpiresAt time.Time `json:"expires_at"`
	DaysLeft  int       `json:"days_left"`
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	sub, err := s.subs.Current(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	left := int(time.Until(sub.ExpiresAt).Hours() / 24)
	if left < 0 {
		left = 0
	}
	writeJSON(w, http.StatusOK, subscriptionResponse{
		Plan:      sub.PlanName,
		StartsAt:  sub.StartAt,
		ExpiresAt: sub.ExpiresAt,
		DaysLeft:  left,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: code})
}

// writeError maps domain sentinels onto the HTTP status taxonomy. Unmapped
// errors become a 500 carrying only the correlation id.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeErrorCode(w, http.StatusBadRequest, "invalid_argument")
	case errors.Is(err, domain.ErrSignatureMismatch):
		writeErrorCode(w, http.StatusBadRequest, "signature_mismatch")
	case errors.Is(err, domain.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeErrorCode(w, http.StatusConflict, "already_exists")
	case errors.Is(err, domain.ErrAlreadyProcessed):
		writeErrorCode(w, http.StatusConflict, "already_processed")
	case errors.Is(err, domain.ErrDuplicateReference),
		errors.Is(err, domain.ErrCrossUserReference),
		errors.Is(err, domain.ErrPendingExists):
		writeErrorCode(w, http.StatusConflict, "submission_blocked")
	case errors.Is(err, domain.ErrRateLimited):
		writeErrorCode(w, http.StatusTooManyRequests, "rate_limited")
	case errors.Is(err, domain.ErrAmountMismatch), errors.Is(err, domain.ErrCaptureFailed):
		writeErrorCode(w, http.StatusUnprocessableEntity, "payment_rejected")
	case errors.Is(err, domain.ErrNoActiveSubscription):
		writeErrorCode(w, http.StatusForbidden, "subscription_required")
	case errors.Is(err, domain.ErrTamperDetected):
		writeErrorCode(w, http.StatusForbidden, "subscription_revoked")
	case errors.Is(err, domain.ErrGatewayUnavailable):
		writeErrorCode(w, http.StatusBadGateway, "gateway_unavailable")
	default:
		tid := logging.TraceID(r.Context())
		logging.With(r.Context(), s.log).Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, struct {
			Error   string `json:"error"`
			TraceID string `json:"trace_id,omitempty"`
		}{Error: "internal", TraceID: tid})
	}
}

// clientIP prefers the first X-Forwarded-For hop; the service runs behind a
// terminating proxy in production.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
