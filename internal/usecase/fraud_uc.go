package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/config"
	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/repository"
	"farm-subscription-backend/internal/infra/metrics"
)

// Compile-time check
var _ FraudUseCase = (*fraudUC)(nil)

// FraudUseCase runs the pre-submission and pre-signup checks. All signals are
// computed on demand from existing payment/user rows; nothing is cached.
type FraudUseCase interface {
	// CheckSubmission must pass before any payment submission is accepted.
	CheckSubmission(ctx context.Context, userID, reference string) error
	// CheckSignup guards account creation against per-IP farming.
	CheckSignup(ctx context.Context, ip string) error
}

type fraudUC struct {
	payments repository.PaymentRepository
	users    repository.UserRepository
	cfg      config.FraudConfig
	log      *zerolog.Logger
	nowFn    func() time.Time
}

func NewFraudUseCase(payments repository.PaymentRepository, users repository.UserRepository, cfg config.FraudConfig, logger *zerolog.Logger) *fraudUC {
	l := logger.With().Str("component", "FraudUC").Logger()
	return &fraudUC{payments: payments, users: users, cfg: cfg, log: &l, nowFn: time.Now}
}

func (uc *fraudUC) CheckSubmission(ctx context.Context, userID, reference string) error {
	// A reference attached to any live record, for any user, is unusable:
	// screenshots and transaction ids get recycled across accounts.
	if reference != "" {
		rec, err := uc.payments.FindByReference(ctx, repository.NoTX, reference)
		switch {
		case err == nil && rec.UserID != userID:
			uc.block("cross_user_reference", userID, reference)
			return domain.ErrCrossUserReference
		case err == nil:
			uc.block("duplicate_reference", userID, reference)
			return domain.ErrDuplicateReference
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}

	// One manual submission at a time.
	if _, err := uc.payments.FindPendingByUser(ctx, repository.NoTX, userID, model.PaymentMethodManual); err == nil {
		uc.block("pending_exists", userID, reference)
		return domain.ErrPendingExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	since := uc.nowFn().Add(-24 * time.Hour)
	n, err := uc.payments.CountByUserSince(ctx, repository.NoTX, userID, since)
	if err != nil {
		return err
	}
	if n >= uc.cfg.DailySubmissionCap {
		uc.block("daily_cap", userID, reference)
		return domain.ErrRateLimited
	}
	return nil
}

func (uc *fraudUC) CheckSignup(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	since := uc.nowFn().Add(-7 * 24 * time.Hour)
	n, err := uc.users.CountBySignupIPSince(ctx, repository.NoTX, ip, since)
	if err != nil {
		return err
	}
	if n >= uc.cfg.WeeklySignupIPCap {
		metrics.IncFraudBlock("signup_ip_cap")
		uc.log.Warn().Str("ip", ip).Int("count", n).Msg("signup blocked by ip cap")
		return domain.ErrRateLimited
	}
	return nil
}

func (uc *fraudUC) block(reason, userID, reference string) {
	metrics.IncFraudBlock(reason)
	uc.log.Warn().
		Str("reason", reason).
		Str("user_id", userID).
		Str("reference", reference).
		Msg("payment submission blocked")
}
