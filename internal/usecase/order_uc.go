package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/config"
	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/adapter"
	"farm-subscription-backend/internal/domain/ports/repository"
	"farm-subscription-backend/internal/infra/metrics"
)

// CustomPlanName is the catalog key for the computed per-module plan.
const CustomPlanName = "custom"

type CreateOrderRequest struct {
	PlanName     string
	Modules      []string // module selection for the computed custom plan
	PeriodMonths int
	IPAddress    string
	UserAgent    string
}

type ManualPaymentRequest struct {
	PlanName  string
	Reference string // bank/wallet transaction reference
	IPAddress string
	UserAgent string
}

// OrderHandle is what the client's checkout widget needs to start payment.
type OrderHandle struct {
	PaymentID string
	OrderID   string
	Amount    int64
	Currency  string
	KeyID     string
}

// Compile-time check
var _ OrderUseCase = (*orderUC)(nil)

type OrderUseCase interface {
	Create(ctx context.Context, userID string, req CreateOrderRequest) (*OrderHandle, error)
	SubmitManual(ctx context.Context, userID string, req ManualPaymentRequest) (*model.PaymentRecord, error)
	// ListMine returns the user's payment history; pending records past their
	// expiry are swept to expired as part of the read.
	ListMine(ctx context.Context, userID string) ([]*model.PaymentRecord, error)
}

type orderUC struct {
	payments repository.PaymentRepository
	plans    repository.PlanRepository
	fraud    FraudUseCase
	gateway  adapter.PaymentGateway
	tm       repository.TransactionManager
	cfg      config.SubscriptionConfig
	currency string
	log      *zerolog.Logger
	nowFn    func() time.Time
}

func NewOrderUseCase(
	payments repository.PaymentRepository,
	plans repository.PlanRepository,
	fraud FraudUseCase,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	cfg config.SubscriptionConfig,
	currency string,
	logger *zerolog.Logger,
) *orderUC {
	l := logger.With().Str("component", "OrderUC").Logger()
	return &orderUC{
		payments: payments,
		plans:    plans,
		fraud:    fraud,
		gateway:  gateway,
		tm:       tm,
		cfg:      cfg,
		currency: currency,
		log:      &l,
		nowFn:    time.Now,
	}
}

func (uc *orderUC) Create(ctx context.Context, userID string, req CreateOrderRequest) (*OrderHandle, error) {
	// Gateway orders carry no reference, but the daily submission cap and the
	// pending-manual check still apply.
	if err := uc.fraud.CheckSubmission(ctx, userID, ""); err != nil {
		return nil, err
	}
	plan, err := uc.resolvePlan(ctx, req)
	if err != nil {
		return nil, err
	}

	now := uc.nowFn()
	rec := &model.PaymentRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanName:  plan.Name,
		PlanDays:  plan.DurationDays,
		Amount:    plan.Price,
		Currency:  uc.currency,
		Method:    model.PaymentMethodGateway,
		Status:    model.PaymentStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(uc.cfg.OrderTTL),
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	}

	// The local record is written before the remote call so a gateway timeout
	// can never leave a remote order with no local counterpart. Expiring the
	// user's previous pending gateway orders rides the same transaction.
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if n, err := uc.payments.ExpirePendingGatewayOrders(ctx, tx, userID); err != nil {
			return err
		} else if n > 0 {
			uc.log.Debug().Str("user_id", userID).Int64("count", n).Msg("expired stale pending orders")
		}
		return uc.payments.Save(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}

	receipt := ulid.Make().String()
	orderID, err := uc.gateway.CreateOrder(ctx, rec.Amount, rec.Currency, receipt, map[string]string{
		"payment_id": rec.ID,
		"user_id":    userID,
		"plan":       plan.Name,
	})
	if err != nil {
		// Not retried; the pending record ages out through lazy expiry.
		uc.log.Error().Err(err).Str("payment_id", rec.ID).Msg("gateway order create failed")
		if _, terr := uc.payments.MarkTerminal(ctx, repository.NoTX, rec.ID, model.PaymentStatusExpired, "gateway order create failed"); terr != nil {
			uc.log.Error().Err(terr).Str("payment_id", rec.ID).Msg("failed to expire dangling record")
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	if err := uc.payments.AttachExternalOrder(ctx, repository.NoTX, rec.ID, orderID); err != nil {
		return nil, err
	}

	return &OrderHandle{
		PaymentID: rec.ID,
		OrderID:   orderID,
		Amount:    rec.Amount,
		Currency:  rec.Currency,
		KeyID:     uc.gateway.KeyID(),
	}, nil
}

func (uc *orderUC) SubmitManual(ctx context.Context, userID string, req ManualPaymentRequest) (*model.PaymentRecord, error) {
	if req.Reference == "" {
		return nil, domain.ErrInvalidArgument
	}
	if err := uc.fraud.CheckSubmission(ctx, userID, req.Reference); err != nil {
		return nil, err
	}
	plan, err := uc.plans.FindByName(ctx, repository.NoTX, req.PlanName)
	if err != nil {
		return nil, err
	}

	now := uc.nowFn()
	ref := req.Reference
	rec := &model.PaymentRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		PlanName:    plan.Name,
		PlanDays:    plan.DurationDays,
		Amount:      plan.Price,
		Currency:    uc.currency,
		Method:      model.PaymentMethodManual,
		Status:      model.PaymentStatusPending,
		ReferenceID: &ref,
		CreatedAt:   now,
		ExpiresAt:   now.Add(uc.cfg.ManualTTL),
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
	}
	if err := uc.payments.Save(ctx, repository.NoTX, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (uc *orderUC) ListMine(ctx context.Context, userID string) ([]*model.PaymentRecord, error) {
	recs, err := uc.payments.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	now := uc.nowFn()
	for _, rec := range recs {
		if !rec.Expired(now) {
			continue
		}
		// Lazy sweep: the conditional update loses gracefully if a concurrent
		// verification got there first.
		if ok, err := uc.payments.MarkTerminal(ctx, repository.NoTX, rec.ID, model.PaymentStatusExpired, ""); err != nil {
			uc.log.Error().Err(err).Str("payment_id", rec.ID).Msg("lazy expiry failed")
		} else if ok {
			rec.Status = model.PaymentStatusExpired
			metrics.IncPayment(string(model.PaymentStatusExpired), string(rec.Method))
		}
	}
	return recs, nil
}

func (uc *orderUC) resolvePlan(ctx context.Context, req CreateOrderRequest) (*model.Plan, error) {
	if req.PlanName != CustomPlanName {
		return uc.plans.FindByName(ctx, repository.NoTX, req.PlanName)
	}

	if len(req.Modules) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	period := req.PeriodMonths
	if period <= 0 {
		period = 1
	}

	var monthly int64
	for _, m := range req.Modules {
		price, ok := uc.cfg.ModulePrices[m]
		if !ok {
			return nil, fmt.Errorf("%w: unknown module %q", domain.ErrInvalidArgument, m)
		}
		monthly += price
	}
	if uc.cfg.CustomPlanMinPrice > 0 && monthly < uc.cfg.CustomPlanMinPrice {
		monthly = uc.cfg.CustomPlanMinPrice
	}
	if uc.cfg.CustomPlanMaxPrice > 0 && monthly > uc.cfg.CustomPlanMaxPrice {
		monthly = uc.cfg.CustomPlanMaxPrice
	}

	return &model.Plan{
		Name:         CustomPlanName,
		Title:        "Custom module selection",
		DurationDays: period * 30,
		Price:        monthly * int64(period),
	}, nil
}
