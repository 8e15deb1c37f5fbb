package repository

import (
	"context"
	"time"

	"farm-subscription-backend/internal/domain/model"
)

// SubscriptionRepository is the port for subscription rows. History is
// append-only; Deactivate is the only mutation.
type SubscriptionRepository interface {
	Save(ctx context.Context, qx any, sub *model.Subscription) error
	FindByID(ctx context.Context, qx any, id string) (*model.Subscription, error)
	// FindCurrentByUser returns the most recent row with ExpiresAt >= now and
	// Active, or ErrNoActiveSubscription.
	FindCurrentByUser(ctx context.Context, qx any, userID string, now time.Time) (*model.Subscription, error)
	ListByUser(ctx context.Context, qx any, userID string) ([]*model.Subscription, error)
	// Deactivate clears Active; reports false when the row was already inactive.
	Deactivate(ctx context.Context, qx any, id string) (bool, error)

	CountActiveByPlan(ctx context.Context, qx any) (map[string]int, error)
}
