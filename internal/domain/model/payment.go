package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"  // awaiting verification evidence
	PaymentStatusVerified PaymentStatus = "verified" // evidence accepted; subscription granted
	PaymentStatusRejected PaymentStatus = "rejected" // admin reject, amount mismatch or failed capture
	PaymentStatusExpired  PaymentStatus = "expired"  // expiry elapsed before any evidence arrived
)

// IsTerminal reports whether no further transition is possible.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusVerified || s == PaymentStatusRejected || s == PaymentStatusExpired
}

type PaymentMethod string

const (
	PaymentMethodGateway PaymentMethod = "gateway" // created through the remote processor
	PaymentMethodManual  PaymentMethod = "manual"  // user-submitted transaction reference
)

// PaymentRecord is one payment attempt and its verification state.
// Status moves exactly once out of pending; terminal states are final.
type PaymentRecord struct {
	ID       string // UUID
	UserID   string // UUID
	PlanName string
	PlanDays int   // entitlement length bought; authoritative for computed plans
	Amount   int64 // minor units, to avoid float errors
	Currency string

	Method PaymentMethod
	Status PaymentStatus

	// Gateway flow evidence. ExternalOrderID is unique when set; it is the
	// idempotency anchor for the dual-channel verification race.
	ExternalOrderID   *string
	ExternalPaymentID string
	ExternalSignature string

	// Manual flow: the bank/wallet transaction reference the user submitted.
	ReferenceID *string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	VerifiedAt *time.Time

	// Set after subscription activation; a verified record with a nil
	// SubscriptionID is an activation gap the reconciler must close.
	SubscriptionID *string

	AdminNote string
	IPAddress string
	UserAgent string
}

// Expired reports whether a still-pending record has outlived its window.
// Expiry is observed lazily on read; no background sweep is required.
func (p *PaymentRecord) Expired(now time.Time) bool {
	return p.Status == PaymentStatusPending && now.After(p.ExpiresAt)
}
