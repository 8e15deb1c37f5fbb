package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/usecase"
)

// ActivationReconciler periodically closes the gap between a verified payment
// and its subscription. The gap exists only after a crash between the
// verification write and the activation write.
type ActivationReconciler struct {
	interval time.Duration
	verifyUC usecase.VerificationUseCase
	log      *zerolog.Logger
}

func NewActivationReconciler(interval time.Duration, verifyUC usecase.VerificationUseCase, logger *zerolog.Logger) *ActivationReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "ActivationReconciler").Logger()
	return &ActivationReconciler{interval: interval, verifyUC: verifyUC, log: &l}
}

func (w *ActivationReconciler) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting activation reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping activation reconciler")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.verifyUC.Reconcile(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("activation reconcile error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("activation gaps closed")
			}
		}
	}
}
