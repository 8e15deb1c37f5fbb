package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/repository"
)

var _ repository.PlanRepository = (*planRepo)(nil)

type planRepo struct{ pool *pgxpool.Pool }

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

func (r *planRepo) Save(ctx context.Context, qx any, p *model.Plan) error {
	const q = `
INSERT INTO plans (name, title, duration_days, price, trial, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (name) DO UPDATE SET title=$2, duration_days=$3, price=$4, trial=$5;`

	_, err := execSQL(ctx, r.pool, qx, q, p.Name, p.Title, p.DurationDays, p.Price, p.Trial, p.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *planRepo) FindByName(ctx context.Context, qx any, name string) (*model.Plan, error) {
	const q = `SELECT name, title, duration_days, price, trial, created_at FROM plans WHERE name=$1;`
	row, err := pickRow(ctx, r.pool, qx, q, name)
	if err != nil {
		return nil, err
	}
	p := &model.Plan{}
	if err := row.Scan(&p.Name, &p.Title, &p.DurationDays, &p.Price, &p.Trial, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *planRepo) ListAll(ctx context.Context, qx any) ([]*model.Plan, error) {
	const q = `SELECT name, title, duration_days, price, trial, created_at FROM plans ORDER BY price ASC;`
	rows, err := queryRows(ctx, r.pool, qx, q)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()

	var out []*model.Plan
	for rows.Next() {
		p := &model.Plan{}
		if err := rows.Scan(&p.Name, &p.Title, &p.DurationDays, &p.Price, &p.Trial, &p.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, nil
}
