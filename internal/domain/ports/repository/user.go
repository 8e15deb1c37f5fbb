package repository

import (
	"context"
	"time"

	"farm-subscription-backend/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, qx any, user *model.User) error
	FindByID(ctx context.Context, qx any, id string) (*model.User, error)
	FindByEmail(ctx context.Context, qx any, email string) (*model.User, error)
	// CountBySignupIPSince backs the per-IP account creation cap; it is computed
	// on demand from user rows, not cached.
	CountBySignupIPSince(ctx context.Context, qx any, ip string, since time.Time) (int, error)
}
