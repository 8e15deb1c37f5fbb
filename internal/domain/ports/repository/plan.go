package repository

import (
	"context"

	"farm-subscription-backend/internal/domain/model"
)

type PlanRepository interface {
	Save(ctx context.Context, qx any, plan *model.Plan) error
	FindByName(ctx context.Context, qx any, name string) (*model.Plan, error)
	ListAll(ctx context.Context, qx any) ([]*model.Plan, error)
}
