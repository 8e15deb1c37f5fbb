package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, plan_name, start_at, expires_at, active, payment_id, created_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanName, &s.StartAt, &s.ExpiresAt, &s.Active, &s.PaymentID, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *subscriptionRepo) Save(ctx context.Context, qx any, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  ` + subscriptionColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT (id) DO UPDATE SET active=$6;`

	_, err := execSQL(ctx, r.pool, qx, q, s.ID, s.UserID, s.PlanName, s.StartAt, s.ExpiresAt, s.Active, s.PaymentID, s.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, qx any, id string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, qx, q, id)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) FindCurrentByUser(ctx context.Context, qx any, userID string, now time.Time) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id=$1 AND active AND expires_at >= $2 ORDER BY expires_at DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, qx, q, userID, now)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoActiveSubscription
	}
	return s, err
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, qx any, userID string) ([]*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id=$1 ORDER BY start_at DESC;`
	rows, err := queryRows(ctx, r.pool, qx, q, userID)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *subscriptionRepo) Deactivate(ctx context.Context, qx any, id string) (bool, error) {
	const q = `UPDATE subscriptions SET active=FALSE WHERE id=$1 AND active;`
	cmd, err := execSQL(ctx, r.pool, qx, q, id)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *subscriptionRepo) CountActiveByPlan(ctx context.Context, qx any) (map[string]int, error) {
	const q = `SELECT plan_name, COUNT(*) FROM subscriptions WHERE active AND expires_at >= NOW() GROUP BY plan_name;`
	rows, err := queryRows(ctx, r.pool, qx, q)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var plan string
		var n int
		if err := rows.Scan(&plan, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[plan] = n
	}
	return out, nil
}
