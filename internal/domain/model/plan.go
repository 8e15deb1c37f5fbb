package model

import (
	"time"

	"farm-subscription-backend/internal/domain"
)

// Plan is the authoritative entitlement source: what a payment of Price buys,
// and for how long.
type Plan struct {
	Name         string // catalog key, e.g. "monthly"
	Title        string
	DurationDays int
	Price        int64 // minor units
	Trial        bool
	CreatedAt    time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.Name == "" }

// NewPlan validates and constructs a plan.
func NewPlan(name, title string, durationDays int, price int64, trial bool) (*Plan, error) {
	if name == "" || durationDays <= 0 || price < 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Plan{
		Name:         name,
		Title:        title,
		DurationDays: durationDays,
		Price:        price,
		Trial:        trial,
		CreatedAt:    time.Now(),
	}, nil
}

// MaxDays is the tamper-detection ceiling for a subscription on this plan.
// Trial plans get a fixed ceiling; catalog plans get their nominal duration
// plus a configured buffer tolerating clock/timezone skew.
func (p *Plan) MaxDays(bufferDays, trialCeilingDays int) int {
	if p.Trial {
		return trialCeilingDays
	}
	return p.DurationDays + bufferDays
}
