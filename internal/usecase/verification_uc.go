package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/adapter"
	"farm-subscription-backend/internal/domain/ports/repository"
	paysig "farm-subscription-backend/internal/infra/adapters/payment"
	"farm-subscription-backend/internal/infra/metrics"
)

// VerifyRequest is the client callback evidence.
type VerifyRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// WebhookEvent is the processor's server-to-server notification, parsed from
// the raw body after its signature checks out.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string `json:"id"`
				OrderID  string `json:"order_id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
				Status   string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// VerifyResult reports the outcome of a verification attempt. Repeated
// attempts against the same record return the same result with
// AlreadyProcessed set.
type VerifyResult struct {
	PaymentID        string
	Plan             string
	Amount           int64
	Status           model.PaymentStatus
	ExpiresAt        time.Time
	AlreadyProcessed bool
}

// Compile-time check
var _ VerificationUseCase = (*verificationUC)(nil)

// VerificationUseCase owns the pending->terminal transitions. The callback
// path, the webhook path, the admin surface and the reconciler all funnel
// into the same activation primitive, so the exactly-once guarantee holds no
// matter which channel delivers evidence first.
type VerificationUseCase interface {
	ConfirmCallback(ctx context.Context, userID string, req VerifyRequest) (*VerifyResult, error)
	ConfirmWebhook(ctx context.Context, rawBody []byte, signature string) error
	// VerifyManual is the admin confirmation of a manually submitted payment.
	VerifyManual(ctx context.Context, paymentID, adminNote string) (*VerifyResult, error)
	Reject(ctx context.Context, paymentID, adminNote string) error
	// Reconcile completes activation for verified payments that have no
	// subscription yet (crash between the CAS and the activation write).
	Reconcile(ctx context.Context) (int, error)
}

type verificationUC struct {
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	plans    repository.PlanRepository
	subUC    SubscriptionUseCase
	gateway  adapter.PaymentGateway
	tm       repository.TransactionManager
	sink     adapter.NotificationSink

	keySecret     string
	webhookSecret string

	log   *zerolog.Logger
	nowFn func() time.Time
}

func NewVerificationUseCase(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	subUC SubscriptionUseCase,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	sink adapter.NotificationSink,
	keySecret, webhookSecret string,
	logger *zerolog.Logger,
) *verificationUC {
	l := logger.With().Str("component", "VerificationUC").Logger()
	return &verificationUC{
		payments:      payments,
		subs:          subs,
		plans:         plans,
		subUC:         subUC,
		gateway:       gateway,
		tm:            tm,
		sink:          sink,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		log:           &l,
		nowFn:         time.Now,
	}
}

func (uc *verificationUC) ConfirmCallback(ctx context.Context, userID string, req VerifyRequest) (*VerifyResult, error) {
	start := uc.nowFn()

	if !paysig.VerifyCheckoutSignature(uc.keySecret, req.OrderID, req.PaymentID, req.Signature) {
		metrics.ObserveVerify("callback", "signature_mismatch", msSince(start))
		uc.log.Warn().
			Str("user_id", userID).
			Str("order_id", req.OrderID).
			Msg("callback signature mismatch; possible forgery")
		return nil, domain.ErrSignatureMismatch
	}

	rec, err := uc.payments.FindByExternalOrderID(ctx, repository.NoTX, req.OrderID)
	if err != nil {
		metrics.ObserveVerify("callback", "not_found", msSince(start))
		return nil, err
	}
	// The callback arrives over an authenticated session; the record must
	// belong to the caller. Don't reveal that the order exists otherwise.
	if rec.UserID != userID {
		metrics.ObserveVerify("callback", "wrong_user", msSince(start))
		uc.log.Warn().
			Str("user_id", userID).
			Str("order_id", req.OrderID).
			Msg("callback for another user's order")
		return nil, domain.ErrNotFound
	}

	res, err := uc.tryActivate(ctx, rec, req.PaymentID, req.Signature, true)
	metrics.ObserveVerify("callback", outcome(res, err), msSince(start))
	return res, err
}

func (uc *verificationUC) ConfirmWebhook(ctx context.Context, rawBody []byte, signature string) error {
	start := uc.nowFn()

	if !paysig.VerifyWebhookSignature(uc.webhookSecret, rawBody, signature) {
		metrics.ObserveVerify("webhook", "signature_mismatch", msSince(start))
		uc.log.Warn().Msg("webhook signature mismatch; dropping event")
		return domain.ErrSignatureMismatch
	}

	var ev WebhookEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		// Signed but unparseable: ack so the processor stops retrying.
		uc.log.Error().Err(err).Msg("webhook body unparseable")
		return nil
	}
	if ev.Event != "payment.captured" && ev.Event != "payment.authorized" {
		uc.log.Debug().Str("event", ev.Event).Msg("ignoring webhook event type")
		return nil
	}

	entity := ev.Payload.Payment.Entity
	rec, err := uc.payments.FindByExternalOrderID(ctx, repository.NoTX, entity.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		uc.log.Warn().Str("order_id", entity.OrderID).Msg("webhook for unknown order")
		return nil
	}
	if err != nil {
		return err
	}

	res, err := uc.tryActivate(ctx, rec, entity.ID, signature, true)
	metrics.ObserveVerify("webhook", outcome(res, err), msSince(start))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAmountMismatch), errors.Is(err, domain.ErrCaptureFailed):
		// Business rejection: the record is terminal now and the processor
		// should not retry. The caller is a machine, not a person.
		uc.log.Warn().Err(err).Str("payment_id", rec.ID).Msg("webhook verification rejected payment")
		return nil
	default:
		return err
	}
}

func (uc *verificationUC) VerifyManual(ctx context.Context, paymentID, adminNote string) (*VerifyResult, error) {
	start := uc.nowFn()
	rec, err := uc.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	// Admin verification carries no gateway evidence; the secondary
	// confirmation is skipped.
	res, err := uc.tryActivate(ctx, rec, rec.ExternalPaymentID, "", false)
	metrics.ObserveVerify("admin", outcome(res, err), msSince(start))
	return res, err
}

func (uc *verificationUC) Reject(ctx context.Context, paymentID, adminNote string) error {
	ok, err := uc.payments.MarkTerminal(ctx, repository.NoTX, paymentID, model.PaymentStatusRejected, adminNote)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAlreadyProcessed
	}
	metrics.IncPayment(string(model.PaymentStatusRejected), "")
	uc.notify(ctx, adapter.Event{
		Title:    "Payment rejected",
		Message:  fmt.Sprintf("payment=%s note=%q", paymentID, adminNote),
		Severity: adapter.SeverityWarning,
		DedupKey: "reject:" + paymentID,
	})
	return nil
}

func (uc *verificationUC) Reconcile(ctx context.Context) (int, error) {
	recs, err := uc.payments.ListVerifiedWithoutSubscription(ctx, repository.NoTX, 100)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	done := 0
	for _, rec := range recs {
		if err := uc.activateFor(ctx, rec); err != nil {
			uc.log.Error().Err(err).Str("payment_id", rec.ID).Msg("reconcile activation failed")
			continue
		}
		done++
		uc.log.Info().Str("payment_id", rec.ID).Msg("reconciled verified payment without subscription")
	}
	return done, nil
}

// tryActivate is the single pending->verified transition primitive. The
// conditional update in MarkVerified decides the winner of any race; every
// other caller observes an already-processed record and applies no side
// effects.
func (uc *verificationUC) tryActivate(ctx context.Context, rec *model.PaymentRecord, externalPaymentID, signature string, secondary bool) (*VerifyResult, error) {
	if rec.Status.IsTerminal() {
		return uc.processedResult(ctx, rec), nil
	}

	// Defense-in-depth: ask the processor for the authoritative payment
	// object. The signature already proved authenticity, so a network failure
	// here degrades to signature-only confirmation instead of blocking.
	if secondary && externalPaymentID != "" {
		remote, err := uc.gateway.FetchPayment(ctx, externalPaymentID)
		switch {
		case err != nil:
			uc.log.Warn().Err(err).
				Str("payment_id", rec.ID).
				Msg("confirm_degraded: secondary gateway confirmation unavailable")
		case !remote.Settled():
			return nil, uc.rejectRecord(ctx, rec, domain.ErrCaptureFailed,
				fmt.Sprintf("gateway status %q", remote.Status))
		case remote.Amount != rec.Amount:
			return nil, uc.rejectRecord(ctx, rec, domain.ErrAmountMismatch,
				fmt.Sprintf("expected %d got %d", rec.Amount, remote.Amount))
		}
	}

	var sub *model.Subscription
	won := false
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := uc.payments.MarkVerified(ctx, tx, rec.ID, externalPaymentID, signature, uc.nowFn())
		if err != nil {
			return err
		}
		if !ok {
			return nil // lost the race; no side effects
		}
		won = true

		plan, err := uc.planFor(ctx, tx, rec)
		if err != nil {
			return err
		}
		sub, err = uc.subUC.Activate(ctx, tx, rec.UserID, plan, rec.ID)
		if err != nil {
			return err
		}
		return uc.payments.SetSubscriptionID(ctx, tx, rec.ID, sub.ID)
	})
	if err != nil {
		return nil, err
	}

	if !won {
		fresh, ferr := uc.payments.FindByID(ctx, repository.NoTX, rec.ID)
		if ferr != nil {
			return nil, ferr
		}
		return uc.processedResult(ctx, fresh), nil
	}

	metrics.IncPayment(string(model.PaymentStatusVerified), string(rec.Method))
	metrics.AddPaymentRevenue(rec.Currency, rec.Amount)
	uc.notify(ctx, adapter.Event{
		Title:    "Subscription activated",
		Message:  fmt.Sprintf("user=%s plan=%s amount=%d until=%s", rec.UserID, rec.PlanName, rec.Amount, sub.ExpiresAt.Format(time.RFC3339)),
		Severity: adapter.SeverityInfo,
		DedupKey: "activate:" + rec.ID,
	})

	return &VerifyResult{
		PaymentID: rec.ID,
		Plan:      rec.PlanName,
		Amount:    rec.Amount,
		Status:    model.PaymentStatusVerified,
		ExpiresAt: sub.ExpiresAt,
	}, nil
}

// activateFor closes a reconciliation gap: the record is verified but has no
// subscription attached.
func (uc *verificationUC) activateFor(ctx context.Context, rec *model.PaymentRecord) error {
	return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		plan, err := uc.planFor(ctx, tx, rec)
		if err != nil {
			return err
		}
		sub, err := uc.subUC.Activate(ctx, tx, rec.UserID, plan, rec.ID)
		if err != nil {
			return err
		}
		return uc.payments.SetSubscriptionID(ctx, tx, rec.ID, sub.ID)
	})
}

// planFor resolves the record's entitlement. Computed custom plans are not in
// the catalog; the record itself carries their duration.
func (uc *verificationUC) planFor(ctx context.Context, qx repository.Tx, rec *model.PaymentRecord) (*model.Plan, error) {
	plan, err := uc.plans.FindByName(ctx, qx, rec.PlanName)
	if err == nil {
		return plan, nil
	}
	if errors.Is(err, domain.ErrNotFound) && rec.PlanDays > 0 {
		return &model.Plan{Name: rec.PlanName, DurationDays: rec.PlanDays, Price: rec.Amount}, nil
	}
	return nil, err
}

func (uc *verificationUC) rejectRecord(ctx context.Context, rec *model.PaymentRecord, cause error, note string) error {
	ok, err := uc.payments.MarkTerminal(ctx, repository.NoTX, rec.ID, model.PaymentStatusRejected, note)
	if err != nil {
		return err
	}
	if !ok {
		// Lost to a concurrent transition; nothing to do.
		return domain.ErrAlreadyProcessed
	}
	metrics.IncPayment(string(model.PaymentStatusRejected), string(rec.Method))
	uc.log.Warn().
		Str("payment_id", rec.ID).
		Str("note", note).
		Msg("payment rejected by secondary confirmation")
	uc.notify(ctx, adapter.Event{
		Title:    "Payment rejected by gateway check",
		Message:  fmt.Sprintf("payment=%s user=%s %s", rec.ID, rec.UserID, note),
		Severity: adapter.SeverityAlert,
		DedupKey: "reject:" + rec.ID,
	})
	return cause
}

// processedResult replays a terminal record's outcome without side effects.
func (uc *verificationUC) processedResult(ctx context.Context, rec *model.PaymentRecord) *VerifyResult {
	res := &VerifyResult{
		PaymentID:        rec.ID,
		Plan:             rec.PlanName,
		Amount:           rec.Amount,
		Status:           rec.Status,
		AlreadyProcessed: true,
	}
	if rec.SubscriptionID != nil {
		if sub, err := uc.subs.FindByID(ctx, repository.NoTX, *rec.SubscriptionID); err == nil {
			res.ExpiresAt = sub.ExpiresAt
		}
	}
	return res
}

func (uc *verificationUC) notify(ctx context.Context, ev adapter.Event) {
	if uc.sink == nil {
		return
	}
	if err := uc.sink.Notify(ctx, ev); err != nil {
		uc.log.Warn().Err(err).Str("title", ev.Title).Msg("notify failed")
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Milliseconds())
}

func outcome(res *VerifyResult, err error) string {
	switch {
	case err == nil && res != nil && res.AlreadyProcessed:
		return "already_processed"
	case err == nil:
		return "verified"
	case errors.Is(err, domain.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, domain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, domain.ErrCaptureFailed):
		return "capture_failed"
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return "already_processed"
	default:
		return "error"
	}
}
