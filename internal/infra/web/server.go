package web

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/domain/ports/repository"
	"farm-subscription-backend/internal/usecase"
)

// Server is the operator API: the manual review queue, subscription
// grants/revokes, reconciliation and metrics. It binds to a separate port and
// authenticates with a static bearer key.
type Server struct {
	verifyUC usecase.VerificationUseCase
	subUC    usecase.SubscriptionUseCase
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	apiKey   string
	log      *zerolog.Logger
}

func NewServer(
	verifyUC usecase.VerificationUseCase,
	subUC usecase.SubscriptionUseCase,
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "AdminServer").Logger()
	return &Server{
		verifyUC: verifyUC,
		subUC:    subUC,
		payments: payments,
		subs:     subs,
		apiKey:   apiKey,
		log:      &l,
	}
}

// RegisterRoutes sets up the routing for the admin API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	paymentsRouter := s.authMiddleware(s.paymentsRouter())
	mux.Handle("/api/v1/payments", paymentsRouter)
	mux.Handle("/api/v1/payments/", paymentsRouter)

	subsRouter := s.authMiddleware(s.subscriptionsRouter())
	mux.Handle("/api/v1/subscriptions", subsRouter)
	mux.Handle("/api/v1/subscriptions/", subsRouter)

	mux.Handle("/api/v1/reconcile", s.authMiddleware(http.HandlerFunc(s.reconcileHandler)))
	mux.Handle("/api/v1/stats", s.authMiddleware(http.HandlerFunc(s.statsHandler)))

	mux.Handle("/metrics", promhttp.Handler())
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("Admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// paymentsRouter dispatches /api/v1/payments and /api/v1/payments/{id}/{action}.
func (s *Server) paymentsRouter() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/payments")
		path = strings.Trim(path, "/")

		if path == "" {
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			s.paymentsListHandler(w, r)
			return
		}

		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || r.Method != http.MethodPost {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		id, action := parts[0], parts[1]
		switch action {
		case "verify":
			s.paymentVerifyHandler(w, r, id)
		case "reject":
			s.paymentRejectHandler(w, r, id)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	})
}

// subscriptionsRouter dispatches /api/v1/subscriptions/grant and
// /api/v1/subscriptions/{id}/revoke.
func (s *Server) subscriptionsRouter() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/subscriptions")
		path = strings.Trim(path, "/")

		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if path == "grant" {
			s.subscriptionGrantHandler(w, r)
			return
		}
		if id, ok := strings.CutSuffix(path, "/revoke"); ok && id != "" {
			s.subscriptionRevokeHandler(w, r, id)
			return
		}
		http.Error(w, "Not found", http.StatusNotFound)
	})
}
