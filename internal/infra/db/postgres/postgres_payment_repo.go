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

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, plan_name, plan_days, amount, currency, method, status, external_order_id, external_payment_id, external_signature, reference_id, created_at, expires_at, verified_at, subscription_id, admin_note, ip_address, user_agent`

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	p := &model.PaymentRecord{}
	if err := row.Scan(&p.ID, &p.UserID, &p.PlanName, &p.PlanDays, &p.Amount, &p.Currency, &p.Method, &p.Status, &p.ExternalOrderID, &p.ExternalPaymentID, &p.ExternalSignature, &p.ReferenceID, &p.CreatedAt, &p.ExpiresAt, &p.VerifiedAt, &p.SubscriptionID, &p.AdminNote, &p.IPAddress, &p.UserAgent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *paymentRepo) Save(ctx context.Context, qx any, p *model.PaymentRecord) error {
	const q = `
INSERT INTO payments (
  ` + paymentColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
) ON CONFLICT (id) DO UPDATE SET
  status=$8, external_payment_id=$10, external_signature=$11, verified_at=$15, subscription_id=$16, admin_note=$17;`

	_, err := execSQL(ctx, r.pool, qx, q, p.ID, p.UserID, p.PlanName, p.PlanDays, p.Amount, p.Currency, p.Method, p.Status, p.ExternalOrderID, p.ExternalPaymentID, p.ExternalSignature, p.ReferenceID, p.CreatedAt, p.ExpiresAt, p.VerifiedAt, p.SubscriptionID, p.AdminNote, p.IPAddress, p.UserAgent)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, qx any, id string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if _, ok := qx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, qx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByExternalOrderID(ctx context.Context, qx any, orderID string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE external_order_id=$1 LIMIT 1`
	if _, ok := qx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, qx, q, orderID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByReference(ctx context.Context, qx any, reference string) (*model.PaymentRecord, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE reference_id=$1 AND status IN ('pending','verified') LIMIT 1;`
	row, err := pickRow(ctx, r.pool, qx, q, reference)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindPendingByUser(ctx context.Context, qx any, userID string, method model.PaymentMethod) (*model.PaymentRecord, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE user_id=$1 AND method=$2 AND status='pending' ORDER BY created_at DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, qx, q, userID, method)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) ListByUser(ctx context.Context, qx any, userID string) ([]*model.PaymentRecord, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE user_id=$1 ORDER BY created_at DESC;`
	rows, err := queryRows(ctx, r.pool, qx, q, userID)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *paymentRepo) ListByStatus(ctx context.Context, qx any, status model.PaymentStatus, offset, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status=$1 ORDER BY created_at DESC OFFSET $2 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, qx, q, string(status), offset, limit)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

// MarkVerified is the exactly-once transition: the WHERE status='pending' guard
// makes the update succeed for a single caller under any interleaving.
func (r *paymentRepo) MarkVerified(ctx context.Context, qx any, id, externalPaymentID, signature string, verifiedAt time.Time) (bool, error) {
	const q = `
    UPDATE payments
       SET status = 'verified',
           external_payment_id = $2,
           external_signature = $3,
           verified_at = $4
     WHERE id = $1
       AND status = 'pending';`

	cmd, err := execSQL(ctx, r.pool, qx, q, id, externalPaymentID, signature, verifiedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) MarkTerminal(ctx context.Context, qx any, id string, status model.PaymentStatus, adminNote string) (bool, error) {
	if !status.IsTerminal() {
		return false, domain.ErrInvalidArgument
	}
	const q = `
    UPDATE payments
       SET status = $2,
           admin_note = CASE WHEN $3 <> '' THEN $3 ELSE admin_note END
     WHERE id = $1
       AND status = 'pending';`

	cmd, err := execSQL(ctx, r.pool, qx, q, id, string(status), adminNote)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) SetSubscriptionID(ctx context.Context, qx any, paymentID, subscriptionID string) error {
	const q = `UPDATE payments SET subscription_id=$2 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, qx, q, paymentID, subscriptionID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) AttachExternalOrder(ctx context.Context, qx any, paymentID, externalOrderID string) error {
	const q = `UPDATE payments SET external_order_id=$2 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, qx, q, paymentID, externalOrderID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) ExpirePendingGatewayOrders(ctx context.Context, qx any, userID string) (int64, error) {
	const q = `UPDATE payments SET status='expired' WHERE user_id=$1 AND method='gateway' AND status='pending';`
	cmd, err := execSQL(ctx, r.pool, qx, q, userID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return 0, err
		}
		return 0, domain.ErrOperationFailed
	}
	return cmd.RowsAffected(), nil
}

func (r *paymentRepo) ListVerifiedWithoutSubscription(ctx context.Context, qx any, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status='verified' AND subscription_id IS NULL ORDER BY verified_at ASC LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, qx, q, limit)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, qx any, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, qx, q, olderThan, limit)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *paymentRepo) CountByUserSince(ctx context.Context, qx any, userID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM payments WHERE user_id=$1 AND created_at >= $2;`
	row, err := pickRow(ctx, r.pool, qx, q, userID, since)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func wrapListErr(err error) error {
	switch err {
	case pgx.ErrNoRows:
		return domain.ErrNotFound
	case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
		return err
	default:
		return domain.ErrOperationFailed
	}
}

func collectPayments(rows pgx.Rows) ([]*model.PaymentRecord, error) {
	var out []*model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
