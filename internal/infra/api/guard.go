package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/infra/logging"
	redisinfra "farm-subscription-backend/internal/infra/redis"
	"farm-subscription-backend/internal/usecase"
)

type Middleware func(http.Handler) http.Handler

func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TraceID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tid := uuid.NewString()
			ctx := logging.WithTraceID(r.Context(), tid)
			w.Header().Set("X-Request-Id", tid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestLog(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := logging.With(r.Context(), logger)
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: 200}
			next.ServeHTTP(ww, r)
			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.status).
				Dur("duration", time.Since(start)).
				Msg("http_request")
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func Recover(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l := logging.With(r.Context(), logger)
					l.Error().Interface("panic", rec).Msg("panic recovered")
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type identityKey struct{}

// Identity is the authenticated principal attached to the request context.
type Identity struct {
	UserID string
	Role   model.UserRole
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Claims is the JWT payload minted at login.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// MintToken issues a signed session token for the user.
func MintToken(secret string, u *model.User, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role: string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

// Authenticate verifies the Bearer token and attaches the Identity to the
// request context.
func Authenticate(secret string, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}

			var claims Claims
			tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid || claims.Subject == "" {
				logging.With(r.Context(), logger).Debug().Err(err).Msg("token rejected")
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}

			id := Identity{UserID: claims.Subject, Role: model.UserRole(claims.Role)}
			ctx := context.WithValue(r.Context(), identityKey{}, id)
			ctx = logging.WithUserID(ctx, id.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit throttles a request class per authenticated user with a fixed
// redis window. Limiter failures fail open; the durable fraud caps catch
// abuse that slips through.
func RateLimit(limiter *redisinfra.RateLimiter, perMinute int, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}
			allowed, err := limiter.Allow(r.Context(), redisinfra.SubmitKey(id.UserID), perMinute, time.Minute)
			if err != nil {
				logging.With(r.Context(), logger).Warn().Err(err).Msg("rate limiter unavailable; failing open")
				allowed = true
			}
			if !allowed {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSubscription gates content behind an active subscription. The tamper
// guard runs inside CheckEntitlement; a violation surfaces as a distinct 403
// so clients can tell "expired" from "revoked".
func RequireSubscription(subUC usecase.SubscriptionUseCase, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}
			_, err := subUC.CheckEntitlement(r.Context(), id.UserID, id.Role)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case isNoSubscription(err):
				http.Error(w, `{"error":"subscription_required"}`, http.StatusForbidden)
			case isTamper(err):
				http.Error(w, `{"error":"subscription_revoked"}`, http.StatusForbidden)
			default:
				logging.With(r.Context(), logger).Error().Err(err).Msg("entitlement check failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func isNoSubscription(err error) bool { return errors.Is(err, domain.ErrNoActiveSubscription) }
func isTamper(err error) bool         { return errors.Is(err, domain.ErrTamperDetected) }
