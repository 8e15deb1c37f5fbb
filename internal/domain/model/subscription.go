package model

import (
	"time"

	"farm-subscription-backend/internal/domain"
)

// Subscription is a time-bounded grant of access tied to a plan.
// Rows are append-only; only Active is ever flipped (tamper guard or revoke).
type Subscription struct {
	ID        string // UUID
	UserID    string // UUID
	PlanName  string
	StartAt   time.Time
	ExpiresAt time.Time
	Active    bool
	PaymentID string // originating PaymentRecord
	CreatedAt time.Time
}

// NewSubscription builds a subscription starting at the given instant.
// Stacking (start = end of the current active subscription) is decided by the
// caller; this constructor only enforces end > start.
func NewSubscription(id, userID string, plan *Plan, start time.Time, paymentID string) (*Subscription, error) {
	if id == "" || userID == "" || plan == nil || plan.DurationDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:        id,
		UserID:    userID,
		PlanName:  plan.Name,
		StartAt:   start,
		ExpiresAt: start.Add(time.Duration(plan.DurationDays) * 24 * time.Hour),
		Active:    true,
		PaymentID: paymentID,
		CreatedAt: time.Now(),
	}, nil
}

// DurationDays is the recorded entitlement length, rounded up to whole days.
func (s *Subscription) DurationDays() int {
	d := s.ExpiresAt.Sub(s.StartAt)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// Current reports whether the subscription grants access at the given instant.
func (s *Subscription) Current(now time.Time) bool {
	return s.Active && !now.After(s.ExpiresAt)
}
