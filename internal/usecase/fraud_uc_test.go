//go:build !integration

package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"farm-subscription-backend/internal/config"
	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
)

func newFraudFixture(t *testing.T) (*fraudUC, *memPaymentRepo, *memUserRepo, *time.Time) {
	t.Helper()
	payments := newMemPaymentRepo()
	users := newMemUserRepo()
	cfg := config.FraudConfig{DailySubmissionCap: 3, WeeklySignupIPCap: 2}
	uc := NewFraudUseCase(payments, users, cfg, newTestLogger())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	uc.nowFn = func() time.Time { return now }
	return uc, payments, users, &now
}

func seedManualPayment(t *testing.T, payments *memPaymentRepo, id, userID, reference string, status model.PaymentStatus, createdAt time.Time) {
	t.Helper()
	var ref *string
	if reference != "" {
		r := reference
		ref = &r
	}
	err := payments.Save(context.Background(), nil, &model.PaymentRecord{
		ID: id, UserID: userID, PlanName: "monthly", Amount: 49_900, Currency: "INR",
		Method: model.PaymentMethodManual, Status: status, ReferenceID: ref,
		CreatedAt: createdAt, ExpiresAt: createdAt.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

func TestFraudUC_CheckSubmission(t *testing.T) {
	ctx := context.Background()

	t.Run("passes a clean submission", func(t *testing.T) {
		uc, _, _, _ := newFraudFixture(t)
		if err := uc.CheckSubmission(ctx, "user-1", "TXN-1"); err != nil {
			t.Errorf("expected no error, got: %v", err)
		}
	})

	t.Run("blocks a reference already used by the same user", func(t *testing.T) {
		uc, payments, _, now := newFraudFixture(t)
		seedManualPayment(t, payments, "pmt-1", "user-1", "TXN-1", model.PaymentStatusVerified, now.Add(-48*time.Hour))

		if err := uc.CheckSubmission(ctx, "user-1", "TXN-1"); !errors.Is(err, domain.ErrDuplicateReference) {
			t.Errorf("expected ErrDuplicateReference, got: %v", err)
		}
	})

	t.Run("blocks a reference belonging to another account", func(t *testing.T) {
		uc, payments, _, now := newFraudFixture(t)
		seedManualPayment(t, payments, "pmt-1", "user-2", "TXN-1", model.PaymentStatusVerified, now.Add(-48*time.Hour))

		if err := uc.CheckSubmission(ctx, "user-1", "TXN-1"); !errors.Is(err, domain.ErrCrossUserReference) {
			t.Errorf("expected ErrCrossUserReference, got: %v", err)
		}
	})

	t.Run("a reference on a terminal rejected record is reusable", func(t *testing.T) {
		uc, payments, _, now := newFraudFixture(t)
		seedManualPayment(t, payments, "pmt-1", "user-1", "TXN-1", model.PaymentStatusRejected, now.Add(-48*time.Hour))

		if err := uc.CheckSubmission(ctx, "user-1", "TXN-1"); err != nil {
			t.Errorf("rejected records should not block resubmission, got: %v", err)
		}
	})

	t.Run("blocks while a manual submission is pending", func(t *testing.T) {
		uc, payments, _, now := newFraudFixture(t)
		seedManualPayment(t, payments, "pmt-1", "user-1", "TXN-1", model.PaymentStatusPending, now.Add(-time.Hour))

		if err := uc.CheckSubmission(ctx, "user-1", "TXN-2"); !errors.Is(err, domain.ErrPendingExists) {
			t.Errorf("expected ErrPendingExists, got: %v", err)
		}
	})

	t.Run("enforces the daily submission cap", func(t *testing.T) {
		uc, payments, _, now := newFraudFixture(t)
		for i := 0; i < 3; i++ {
			seedManualPayment(t, payments, fmt.Sprintf("pmt-%d", i), "user-1", fmt.Sprintf("TXN-%d", i),
				model.PaymentStatusRejected, now.Add(-time.Duration(i+1)*time.Hour))
		}

		if err := uc.CheckSubmission(ctx, "user-1", "TXN-9"); !errors.Is(err, domain.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited at the cap, got: %v", err)
		}
	})

	t.Run("submissions older than a day do not count toward the cap", func(t *testing.T) {
		uc, payments, _, now := newFraudFixture(t)
		for i := 0; i < 3; i++ {
			seedManualPayment(t, payments, fmt.Sprintf("pmt-%d", i), "user-1", fmt.Sprintf("TXN-%d", i),
				model.PaymentStatusRejected, now.Add(-time.Duration(25+i)*time.Hour))
		}

		if err := uc.CheckSubmission(ctx, "user-1", "TXN-9"); err != nil {
			t.Errorf("expected no error for aged-out submissions, got: %v", err)
		}
	})
}

func TestFraudUC_CheckSignup(t *testing.T) {
	ctx := context.Background()

	seedUser := func(t *testing.T, users *memUserRepo, id, ip string, createdAt time.Time) {
		t.Helper()
		err := users.Save(ctx, nil, &model.User{
			ID: id, Email: id + "@example.com", PasswordHash: "x",
			Role: model.UserRoleUser, SignupIP: ip, CreatedAt: createdAt,
		})
		if err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	t.Run("passes under the weekly cap", func(t *testing.T) {
		uc, _, users, now := newFraudFixture(t)
		seedUser(t, users, "u1", "10.0.0.1", now.Add(-24*time.Hour))

		if err := uc.CheckSignup(ctx, "10.0.0.1"); err != nil {
			t.Errorf("expected no error, got: %v", err)
		}
	})

	t.Run("blocks at the weekly per-IP cap", func(t *testing.T) {
		uc, _, users, now := newFraudFixture(t)
		seedUser(t, users, "u1", "10.0.0.1", now.Add(-24*time.Hour))
		seedUser(t, users, "u2", "10.0.0.1", now.Add(-48*time.Hour))

		if err := uc.CheckSignup(ctx, "10.0.0.1"); !errors.Is(err, domain.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got: %v", err)
		}
	})

	t.Run("signups older than a week age out", func(t *testing.T) {
		uc, _, users, now := newFraudFixture(t)
		seedUser(t, users, "u1", "10.0.0.1", now.Add(-8*24*time.Hour))
		seedUser(t, users, "u2", "10.0.0.1", now.Add(-9*24*time.Hour))

		if err := uc.CheckSignup(ctx, "10.0.0.1"); err != nil {
			t.Errorf("expected no error, got: %v", err)
		}
	})

	t.Run("missing client ip is not blocked", func(t *testing.T) {
		uc, _, _, _ := newFraudFixture(t)
		if err := uc.CheckSignup(ctx, ""); err != nil {
			t.Errorf("expected no error, got: %v", err)
		}
	})
}
