package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/adapter"
	"farm-subscription-backend/internal/domain/ports/repository"
	"farm-subscription-backend/internal/infra/metrics"
	"farm-subscription-backend/internal/usecase"
)

// StaleOrderWorker sweeps pending records whose evidence never arrived. For
// gateway records that already carry a processor payment id it asks the
// processor one more time before giving up: a settled payment whose callback
// and webhook were both lost still deserves activation.
type StaleOrderWorker struct {
	interval   time.Duration
	staleAfter time.Duration
	payments   repository.PaymentRepository
	gateway    adapter.PaymentGateway
	verifyUC   usecase.VerificationUseCase
	log        *zerolog.Logger
	nowFn      func() time.Time
}

func NewStaleOrderWorker(
	interval, staleAfter time.Duration,
	payments repository.PaymentRepository,
	gateway adapter.PaymentGateway,
	verifyUC usecase.VerificationUseCase,
	logger *zerolog.Logger,
) *StaleOrderWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	l := logger.With().Str("component", "StaleOrderWorker").Logger()
	return &StaleOrderWorker{
		interval:   interval,
		staleAfter: staleAfter,
		payments:   payments,
		gateway:    gateway,
		verifyUC:   verifyUC,
		log:        &l,
		nowFn:      time.Now,
	}
}

func (w *StaleOrderWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting stale order worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale order worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *StaleOrderWorker) tick(ctx context.Context) {
	now := w.nowFn()
	cutoff := now.Add(-w.staleAfter)

	pending, err := w.payments.ListPendingOlderThan(ctx, repository.NoTX, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale pending failed")
		return
	}

	for _, rec := range pending {
		if rec.Method == model.PaymentMethodGateway && rec.ExternalPaymentID != "" {
			if w.recheck(ctx, rec) {
				continue
			}
		}
		if !rec.Expired(now) {
			continue
		}
		ok, err := w.payments.MarkTerminal(ctx, repository.NoTX, rec.ID, model.PaymentStatusExpired, "")
		if err != nil {
			w.log.Error().Err(err).Str("payment_id", rec.ID).Msg("expire stale pending failed")
			continue
		}
		if ok {
			metrics.IncPayment(string(model.PaymentStatusExpired), string(rec.Method))
			w.log.Info().Str("payment_id", rec.ID).Msg("pending payment expired")
		}
	}
}

// recheck reports true when the record was settled remotely and got activated.
func (w *StaleOrderWorker) recheck(ctx context.Context, rec *model.PaymentRecord) bool {
	remote, err := w.gateway.FetchPayment(ctx, rec.ExternalPaymentID)
	if err != nil {
		w.log.Warn().Err(err).Str("payment_id", rec.ID).Msg("gateway recheck unavailable")
		return false
	}
	if !remote.Settled() || remote.Amount != rec.Amount {
		return false
	}

	res, err := w.verifyUC.VerifyManual(ctx, rec.ID, "recovered by stale order recheck")
	if err != nil {
		w.log.Error().Err(err).Str("payment_id", rec.ID).Msg("stale order recovery failed")
		return false
	}
	w.log.Info().
		Str("payment_id", rec.ID).
		Bool("already_processed", res.AlreadyProcessed).
		Msg("stale gateway order recovered")
	return true
}
