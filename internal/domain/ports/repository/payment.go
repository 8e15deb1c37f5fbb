package repository

import (
	"context"
	"time"

	"farm-subscription-backend/internal/domain/model"
)

type PaymentRepository interface {
	Save(ctx context.Context, qx any, p *model.PaymentRecord) error
	FindByID(ctx context.Context, qx any, id string) (*model.PaymentRecord, error)
	FindByExternalOrderID(ctx context.Context, qx any, orderID string) (*model.PaymentRecord, error)
	// FindByReference matches any user's pending/verified record carrying the
	// manual transaction reference; this backs the duplicate/cross-user checks.
	FindByReference(ctx context.Context, qx any, reference string) (*model.PaymentRecord, error)
	FindPendingByUser(ctx context.Context, qx any, userID string, method model.PaymentMethod) (*model.PaymentRecord, error)
	ListByUser(ctx context.Context, qx any, userID string) ([]*model.PaymentRecord, error)
	// ListByStatus pages the admin review queue, newest first.
	ListByStatus(ctx context.Context, qx any, status model.PaymentStatus, offset, limit int) ([]*model.PaymentRecord, error)

	// MarkVerified is the pending->verified compare-and-swap: it succeeds for
	// exactly one caller even under concurrent delivery of the same evidence.
	MarkVerified(ctx context.Context, qx any, id, externalPaymentID, signature string, verifiedAt time.Time) (bool, error)
	// MarkTerminal moves a pending record to rejected or expired, guarded the
	// same way; it reports false when the record already left pending.
	MarkTerminal(ctx context.Context, qx any, id string, status model.PaymentStatus, adminNote string) (bool, error)
	SetSubscriptionID(ctx context.Context, qx any, paymentID, subscriptionID string) error
	// AttachExternalOrder links the processor's order id to a record that was
	// persisted before the remote call returned.
	AttachExternalOrder(ctx context.Context, qx any, paymentID, externalOrderID string) error

	// ExpirePendingGatewayOrders sweeps a user's stale pending gateway records
	// before a new order is created (single-pending-order policy).
	ExpirePendingGatewayOrders(ctx context.Context, qx any, userID string) (int64, error)

	// Reconciliation and fraud-signal reads.
	ListVerifiedWithoutSubscription(ctx context.Context, qx any, limit int) ([]*model.PaymentRecord, error)
	ListPendingOlderThan(ctx context.Context, qx any, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
	CountByUserSince(ctx context.Context, qx any, userID string, since time.Time) (int, error)
}
