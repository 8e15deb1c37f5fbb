//go:build !integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"farm-subscription-backend/internal/config"
	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/repository"
	paysig "farm-subscription-backend/internal/infra/adapters/payment"
	"farm-subscription-backend/internal/usecase"
)

const (
	testJWTSecret     = "jwt_secret_test"
	testWebhookSecret = "webhook_secret_test"
)

// Function-field stubs for the use case ports.

type stubOrders struct {
	createFn func(ctx context.Context, userID string, req usecase.CreateOrderRequest) (*usecase.OrderHandle, error)
	submitFn func(ctx context.Context, userID string, req usecase.ManualPaymentRequest) (*model.PaymentRecord, error)
	listFn   func(ctx context.Context, userID string) ([]*model.PaymentRecord, error)
}

func (s *stubOrders) Create(ctx context.Context, userID string, req usecase.CreateOrderRequest) (*usecase.OrderHandle, error) {
	return s.createFn(ctx, userID, req)
}
func (s *stubOrders) SubmitManual(ctx context.Context, userID string, req usecase.ManualPaymentRequest) (*model.PaymentRecord, error) {
	return s.submitFn(ctx, userID, req)
}
func (s *stubOrders) ListMine(ctx context.Context, userID string) ([]*model.PaymentRecord, error) {
	return s.listFn(ctx, userID)
}

type stubVerify struct {
	callbackFn func(ctx context.Context, userID string, req usecase.VerifyRequest) (*usecase.VerifyResult, error)
	webhookFn  func(ctx context.Context, body []byte, sig string) error
}

func (s *stubVerify) ConfirmCallback(ctx context.Context, userID string, req usecase.VerifyRequest) (*usecase.VerifyResult, error) {
	return s.callbackFn(ctx, userID, req)
}
func (s *stubVerify) ConfirmWebhook(ctx context.Context, body []byte, sig string) error {
	return s.webhookFn(ctx, body, sig)
}
func (s *stubVerify) VerifyManual(ctx context.Context, paymentID, adminNote string) (*usecase.VerifyResult, error) {
	return nil, domain.ErrNotFound
}
func (s *stubVerify) Reject(ctx context.Context, paymentID, adminNote string) error {
	return domain.ErrNotFound
}
func (s *stubVerify) Reconcile(ctx context.Context) (int, error) { return 0, nil }

type stubSubs struct {
	currentFn     func(ctx context.Context, userID string) (*model.Subscription, error)
	entitlementFn func(ctx context.Context, userID string, role model.UserRole) (*model.Subscription, error)
}

func (s *stubSubs) Activate(ctx context.Context, qx repository.Tx, userID string, plan *model.Plan, paymentID string) (*model.Subscription, error) {
	return nil, domain.ErrOperationFailed
}
func (s *stubSubs) Current(ctx context.Context, userID string) (*model.Subscription, error) {
	return s.currentFn(ctx, userID)
}
func (s *stubSubs) ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	return nil, nil
}
func (s *stubSubs) GrantManual(ctx context.Context, userID, planName, adminNote string) (*model.Subscription, error) {
	return nil, domain.ErrOperationFailed
}
func (s *stubSubs) Revoke(ctx context.Context, subscriptionID, adminNote string) error {
	return domain.ErrOperationFailed
}
func (s *stubSubs) CheckEntitlement(ctx context.Context, userID string, role model.UserRole) (*model.Subscription, error) {
	return s.entitlementFn(ctx, userID, role)
}

type stubFraud struct {
	signupErr error
}

func (s *stubFraud) CheckSubmission(ctx context.Context, userID, reference string) error { return nil }
func (s *stubFraud) CheckSignup(ctx context.Context, ip string) error                    { return s.signupErr }

type stubUsers struct {
	byEmail map[string]*model.User
	saved   []*model.User
}

func (s *stubUsers) Save(ctx context.Context, qx any, user *model.User) error {
	s.saved = append(s.saved, user)
	return nil
}
func (s *stubUsers) FindByID(ctx context.Context, qx any, id string) (*model.User, error) {
	return nil, domain.ErrNotFound
}
func (s *stubUsers) FindByEmail(ctx context.Context, qx any, email string) (*model.User, error) {
	if u, ok := s.byEmail[email]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}
func (s *stubUsers) CountBySignupIPSince(ctx context.Context, qx any, ip string, since time.Time) (int, error) {
	return 0, nil
}

type serverFixture struct {
	orders *stubOrders
	verify *stubVerify
	subs   *stubSubs
	fraud  *stubFraud
	users  *stubUsers
	srv    *Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &serverFixture{
		orders: &stubOrders{},
		verify: &stubVerify{},
		subs:   &stubSubs{},
		fraud:  &stubFraud{},
		users:  &stubUsers{byEmail: map[string]*model.User{}},
	}
	f.srv = NewServer(
		f.orders, f.verify, f.subs, f.fraud, f.users, nil,
		config.AuthConfig{JWTSecret: testJWTSecret, TokenTTL: time.Hour},
		config.FraudConfig{RequestsPerMinute: 30},
		&logger,
	)
	return f
}

func (f *serverFixture) token(t *testing.T, userID string, role model.UserRole) string {
	t.Helper()
	tok, err := MintToken(testJWTSecret, &model.User{ID: userID, Role: role}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func (f *serverFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestAuthEndpoints(t *testing.T) {
	t.Run("register returns a session token", func(t *testing.T) {
		f := newServerFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"email": "farmer@example.com", "password": "long-enough-pw",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Token == "" {
			t.Errorf("expected a token, got %s", rec.Body.String())
		}
		if len(f.users.saved) != 1 {
			t.Fatalf("expected one saved user, got %d", len(f.users.saved))
		}
		if f.users.saved[0].Role != model.UserRoleUser {
			t.Errorf("self-registration must not grant elevated roles")
		}
	})

	t.Run("register rejects short passwords", func(t *testing.T) {
		f := newServerFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"email": "farmer@example.com", "password": "short",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("register honors the signup fraud guard", func(t *testing.T) {
		f := newServerFixture(t)
		f.fraud.signupErr = domain.ErrRateLimited
		rec := f.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"email": "farmer@example.com", "password": "long-enough-pw",
		})
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("expected 429, got %d", rec.Code)
		}
		if len(f.users.saved) != 0 {
			t.Error("blocked signup must not create an account")
		}
	})

	t.Run("login succeeds with the right password only", func(t *testing.T) {
		f := newServerFixture(t)
		hash, _ := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
		f.users.byEmail["farmer@example.com"] = &model.User{
			ID: "user-1", Email: "farmer@example.com", PasswordHash: string(hash), Role: model.UserRoleUser,
		}

		rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "farmer@example.com", "password": "correct-password",
		})
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "farmer@example.com", "password": "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for a wrong password, got %d", rec.Code)
		}

		rec = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "nobody@example.com", "password": "whatever",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for an unknown email, got %d", rec.Code)
		}
	})
}

func TestAuthenticatedRoutes(t *testing.T) {
	t.Run("rejects requests without a token", func(t *testing.T) {
		f := newServerFixture(t)
		rec := f.do(t, http.MethodGet, "/api/v1/payments/mine", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("rejects tokens signed with another secret", func(t *testing.T) {
		f := newServerFixture(t)
		tok, _ := MintToken("other_secret", &model.User{ID: "user-1", Role: model.UserRoleUser}, time.Hour, time.Now())
		rec := f.do(t, http.MethodGet, "/api/v1/payments/mine", tok, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("scopes payment listing to the token subject", func(t *testing.T) {
		f := newServerFixture(t)
		var askedFor string
		f.orders.listFn = func(ctx context.Context, userID string) ([]*model.PaymentRecord, error) {
			askedFor = userID
			return []*model.PaymentRecord{}, nil
		}
		rec := f.do(t, http.MethodGet, "/api/v1/payments/mine", f.token(t, "user-1", model.UserRoleUser), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if askedFor != "user-1" {
			t.Errorf("expected listing for user-1, got %q", askedFor)
		}
	})
}

func TestVerifyEndpoint(t *testing.T) {
	t.Run("returns the verification result", func(t *testing.T) {
		f := newServerFixture(t)
		f.verify.callbackFn = func(ctx context.Context, userID string, req usecase.VerifyRequest) (*usecase.VerifyResult, error) {
			return &usecase.VerifyResult{
				PaymentID: "pmt-1", Plan: "monthly", Amount: 49_900,
				Status: model.PaymentStatusVerified, ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
			}, nil
		}
		rec := f.do(t, http.MethodPost, "/api/v1/verify", f.token(t, "user-1", model.UserRoleUser), map[string]string{
			"order_id": "order_1", "payment_id": "pay_1", "signature": "sig",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"status":"verified"`) {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("maps a signature mismatch to 400", func(t *testing.T) {
		f := newServerFixture(t)
		f.verify.callbackFn = func(ctx context.Context, userID string, req usecase.VerifyRequest) (*usecase.VerifyResult, error) {
			return nil, domain.ErrSignatureMismatch
		}
		rec := f.do(t, http.MethodPost, "/api/v1/verify", f.token(t, "user-1", model.UserRoleUser), map[string]string{
			"order_id": "order_1", "payment_id": "pay_1", "signature": "bad",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("requires all three evidence fields", func(t *testing.T) {
		f := newServerFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/verify", f.token(t, "user-1", model.UserRoleUser), map[string]string{
			"order_id": "order_1",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestWebhookEndpoint(t *testing.T) {
	t.Run("passes the raw body and signature through", func(t *testing.T) {
		f := newServerFixture(t)
		body := []byte(`{"event":"payment.captured"}`)
		sig := paysig.SignWebhook(testWebhookSecret, body)

		var gotBody []byte
		var gotSig string
		f.verify.webhookFn = func(ctx context.Context, b []byte, s string) error {
			gotBody, gotSig = b, s
			return nil
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", bytes.NewReader(body))
		req.Header.Set(signatureHeader, sig)
		rec := httptest.NewRecorder()
		f.srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !bytes.Equal(gotBody, body) || gotSig != sig {
			t.Error("handler must forward the exact raw body and signature")
		}
	})

	t.Run("answers 400 on signature failure without detail", func(t *testing.T) {
		f := newServerFixture(t)
		f.verify.webhookFn = func(ctx context.Context, b []byte, s string) error {
			return domain.ErrSignatureMismatch
		}
		rec := f.do(t, http.MethodPost, "/api/v1/webhook", "", map[string]string{"event": "x"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("answers 500 so the processor redelivers on storage failure", func(t *testing.T) {
		f := newServerFixture(t)
		f.verify.webhookFn = func(ctx context.Context, b []byte, s string) error {
			return domain.ErrOperationFailed
		}
		rec := f.do(t, http.MethodPost, "/api/v1/webhook", "", map[string]string{"event": "x"})
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestSubscriptionGate(t *testing.T) {
	t.Run("serves the subscription when entitled", func(t *testing.T) {
		f := newServerFixture(t)
		now := time.Now()
		sub := &model.Subscription{
			ID: "sub-1", UserID: "user-1", PlanName: "monthly",
			StartAt: now.Add(-24 * time.Hour), ExpiresAt: now.Add(29 * 24 * time.Hour), Active: true,
		}
		f.subs.entitlementFn = func(ctx context.Context, userID string, role model.UserRole) (*model.Subscription, error) {
			return sub, nil
		}
		f.subs.currentFn = func(ctx context.Context, userID string) (*model.Subscription, error) {
			return sub, nil
		}

		rec := f.do(t, http.MethodGet, "/api/v1/subscription", f.token(t, "user-1", model.UserRoleUser), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"plan":"monthly"`) {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("distinguishes missing from revoked", func(t *testing.T) {
		f := newServerFixture(t)
		f.subs.entitlementFn = func(ctx context.Context, userID string, role model.UserRole) (*model.Subscription, error) {
			return nil, domain.ErrNoActiveSubscription
		}
		rec := f.do(t, http.MethodGet, "/api/v1/subscription", f.token(t, "user-1", model.UserRoleUser), nil)
		if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "subscription_required") {
			t.Errorf("expected 403 subscription_required, got %d: %s", rec.Code, rec.Body.String())
		}

		f.subs.entitlementFn = func(ctx context.Context, userID string, role model.UserRole) (*model.Subscription, error) {
			return nil, domain.ErrTamperDetected
		}
		rec = f.do(t, http.MethodGet, "/api/v1/subscription", f.token(t, "user-1", model.UserRoleUser), nil)
		if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "subscription_revoked") {
			t.Errorf("expected 403 subscription_revoked, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestOrderEndpoints(t *testing.T) {
	t.Run("create order returns the checkout handle", func(t *testing.T) {
		f := newServerFixture(t)
		f.orders.createFn = func(ctx context.Context, userID string, req usecase.CreateOrderRequest) (*usecase.OrderHandle, error) {
			return &usecase.OrderHandle{
				PaymentID: "pmt-1", OrderID: "order_1", Amount: 49_900, Currency: "INR", KeyID: "key_test",
			}, nil
		}
		rec := f.do(t, http.MethodPost, "/api/v1/orders", f.token(t, "user-1", model.UserRoleUser), map[string]any{
			"plan": "monthly",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"order_id":"order_1"`) {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("maps fraud blocks on manual submission to 409", func(t *testing.T) {
		f := newServerFixture(t)
		f.orders.submitFn = func(ctx context.Context, userID string, req usecase.ManualPaymentRequest) (*model.PaymentRecord, error) {
			return nil, domain.ErrDuplicateReference
		}
		rec := f.do(t, http.MethodPost, "/api/v1/orders/manual", f.token(t, "user-1", model.UserRoleUser), map[string]string{
			"plan": "monthly", "reference": "TXN-1",
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("maps gateway outage to 502", func(t *testing.T) {
		f := newServerFixture(t)
		f.orders.createFn = func(ctx context.Context, userID string, req usecase.CreateOrderRequest) (*usecase.OrderHandle, error) {
			return nil, domain.ErrGatewayUnavailable
		}
		rec := f.do(t, http.MethodPost, "/api/v1/orders", f.token(t, "user-1", model.UserRoleUser), map[string]any{
			"plan": "monthly",
		})
		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}
	})
}
