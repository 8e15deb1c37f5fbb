package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/config"
	"farm-subscription-backend/internal/domain/ports/repository"
	redisinfra "farm-subscription-backend/internal/infra/redis"
	"farm-subscription-backend/internal/usecase"
)

// Server is the customer-facing HTTP surface: account, checkout, the two
// verification channels and subscription status.
type Server struct {
	orders  usecase.OrderUseCase
	verify  usecase.VerificationUseCase
	subs    usecase.SubscriptionUseCase
	fraud   usecase.FraudUseCase
	users   repository.UserRepository
	limiter *redisinfra.RateLimiter

	authCfg  config.AuthConfig
	fraudCfg config.FraudConfig

	log   *zerolog.Logger
	nowFn func() time.Time
}

func NewServer(
	orders usecase.OrderUseCase,
	verify usecase.VerificationUseCase,
	subs usecase.SubscriptionUseCase,
	fraud usecase.FraudUseCase,
	users repository.UserRepository,
	limiter *redisinfra.RateLimiter,
	authCfg config.AuthConfig,
	fraudCfg config.FraudConfig,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "APIServer").Logger()
	return &Server{
		orders:   orders,
		verify:   verify,
		subs:     subs,
		fraud:    fraud,
		users:    users,
		limiter:  limiter,
		authCfg:  authCfg,
		fraudCfg: fraudCfg,
		log:      &l,
		nowFn:    time.Now,
	}
}

// Router assembles the route tree. The webhook route stays outside the user
// auth group: the processor authenticates with its body signature, not a
// session.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))
	r.Use(Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(s.authCfg.JWTSecret, s.log))

			r.Group(func(r chi.Router) {
				if s.limiter != nil {
					r.Use(RateLimit(s.limiter, s.fraudCfg.RequestsPerMinute, s.log))
				}
				r.Post("/orders", s.handleCreateOrder)
				r.Post("/orders/manual", s.handleSubmitManual)
			})

			r.Post("/verify", s.handleVerify)
			r.Get("/payments/mine", s.handleListPayments)

			r.Group(func(r chi.Router) {
				r.Use(RequireSubscription(s.subs, s.log))
				r.Get("/subscription", s.handleSubscription)
			})
		})
	})

	return r
}
