package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/config"
	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/adapter"
	"farm-subscription-backend/internal/domain/ports/repository"
	"farm-subscription-backend/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

type SubscriptionUseCase interface {
	// Activate inserts a subscription row for the plan, stacking on top of the
	// user's current active subscription when one exists. It is the single
	// activation primitive: payment verification, admin grants and the
	// reconciler all go through it.
	Activate(ctx context.Context, qx repository.Tx, userID string, plan *model.Plan, paymentID string) (*model.Subscription, error)
	Current(ctx context.Context, userID string) (*model.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error)
	GrantManual(ctx context.Context, userID, planName, adminNote string) (*model.Subscription, error)
	Revoke(ctx context.Context, subscriptionID, adminNote string) error
	// CheckEntitlement is the per-request tamper guard: it verifies the active
	// subscription's recorded duration against the plan ceiling and
	// deactivates it on the spot when it exceeds the entitlement.
	CheckEntitlement(ctx context.Context, userID string, role model.UserRole) (*model.Subscription, error)
}

type subscriptionUC struct {
	subs   repository.SubscriptionRepository
	plans  repository.PlanRepository
	tm     repository.TransactionManager
	sink   adapter.NotificationSink
	cfg    config.SubscriptionConfig
	log    *zerolog.Logger
	nowFns func() time.Time
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	tm repository.TransactionManager,
	sink adapter.NotificationSink,
	cfg config.SubscriptionConfig,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{
		subs:   subs,
		plans:  plans,
		tm:     tm,
		sink:   sink,
		cfg:    cfg,
		log:    &l,
		nowFns: time.Now,
	}
}

func (uc *subscriptionUC) Activate(ctx context.Context, qx repository.Tx, userID string, plan *model.Plan, paymentID string) (*model.Subscription, error) {
	if plan.IsZero() || userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := uc.nowFns()

	// Stacking: a renewal starts where the current grant ends, never earlier.
	start := now
	if cur, err := uc.subs.FindCurrentByUser(ctx, qx, userID, now); err == nil && cur.ExpiresAt.After(now) {
		start = cur.ExpiresAt
	} else if err != nil && !errors.Is(err, domain.ErrNoActiveSubscription) {
		return nil, err
	}

	sub, err := model.NewSubscription(uuid.NewString(), userID, plan, start, paymentID)
	if err != nil {
		return nil, err
	}
	if err := uc.subs.Save(ctx, qx, sub); err != nil {
		return nil, err
	}
	metrics.IncSubscriptionActivated(plan.Name)
	return sub, nil
}

func (uc *subscriptionUC) Current(ctx context.Context, userID string) (*model.Subscription, error) {
	return uc.subs.FindCurrentByUser(ctx, repository.NoTX, userID, uc.nowFns())
}

func (uc *subscriptionUC) ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	return uc.subs.ListByUser(ctx, repository.NoTX, userID)
}

func (uc *subscriptionUC) GrantManual(ctx context.Context, userID, planName, adminNote string) (*model.Subscription, error) {
	plan, err := uc.plans.FindByName(ctx, repository.NoTX, planName)
	if err != nil {
		return nil, err
	}

	var sub *model.Subscription
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		sub, err = uc.Activate(ctx, tx, userID, plan, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	uc.notify(ctx, adapter.Event{
		Title:    "Subscription granted",
		Message:  fmt.Sprintf("user=%s plan=%s note=%q", userID, planName, adminNote),
		Severity: adapter.SeverityInfo,
		DedupKey: "grant:" + sub.ID,
	})
	return sub, nil
}

func (uc *subscriptionUC) Revoke(ctx context.Context, subscriptionID, adminNote string) error {
	ok, err := uc.subs.Deactivate(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	metrics.IncSubscriptionRevoked("admin")
	uc.notify(ctx, adapter.Event{
		Title:    "Subscription revoked",
		Message:  fmt.Sprintf("subscription=%s note=%q", subscriptionID, adminNote),
		Severity: adapter.SeverityWarning,
		DedupKey: "revoke:" + subscriptionID,
	})
	return nil
}

// CheckEntitlement runs on every gated request: one indexed lookup plus
// arithmetic, no external calls.
func (uc *subscriptionUC) CheckEntitlement(ctx context.Context, userID string, role model.UserRole) (*model.Subscription, error) {
	if role == model.UserRoleAdmin {
		return nil, nil
	}

	sub, err := uc.subs.FindCurrentByUser(ctx, repository.NoTX, userID, uc.nowFns())
	if err != nil {
		return nil, err
	}

	maxDays := uc.cfg.FallbackMaxDays
	if plan, err := uc.plans.FindByName(ctx, repository.NoTX, sub.PlanName); err == nil {
		maxDays = plan.MaxDays(uc.cfg.TamperBufferDays, uc.cfg.TrialCeilingDays)
	}

	observed := sub.DurationDays()
	if observed <= maxDays {
		return sub, nil
	}

	// Recorded duration exceeds what the plan can grant: the row was tampered
	// with. Kill it and deny the request.
	if _, err := uc.subs.Deactivate(ctx, repository.NoTX, sub.ID); err != nil {
		uc.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("tamper deactivate failed")
	}
	metrics.IncTamperDetected()
	metrics.IncSubscriptionRevoked("tamper")
	uc.log.Warn().
		Str("user_id", userID).
		Str("plan", sub.PlanName).
		Int("observed_days", observed).
		Int("max_days", maxDays).
		Msg("subscription tampering detected")
	return nil, domain.ErrTamperDetected
}

func (uc *subscriptionUC) notify(ctx context.Context, ev adapter.Event) {
	if uc.sink == nil {
		return
	}
	if err := uc.sink.Notify(ctx, ev); err != nil {
		uc.log.Warn().Err(err).Str("title", ev.Title).Msg("notify failed")
	}
}
