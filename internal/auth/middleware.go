package auth

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/freddennis10/astra-app-sub001/internal/token"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// Middleware guards protected routes with bearer access tokens.
type Middleware struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewMiddleware(svc *Service, logger *zap.SugaredLogger) *Middleware {
	return &Middleware{svc: svc, logger: logger}
}

// RequireAuth answers 401 when no usable bearer token is presented, 403 when
// the token is invalid, expired or revoked, and 503 when the blacklist
// cannot be consulted. Otherwise the claims are attached to the context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, present := bearerToken(r)
		if !present || access == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
			return
		}
		claims, err := m.svc.Authenticate(r.Context(), access)
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		case errors.Is(err, ErrTokenInvalid):
			writeJSON(w, http.StatusForbidden, errorBody{Error: "invalid or expired token"})
		case errors.Is(err, ErrDependencyUnavailable):
			m.logger.Warnw("auth middleware: dependency unavailable", "path", r.URL.Path, "err", err)
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "service temporarily unavailable"})
		default:
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
		}
	})
}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, c *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, c)
}

// ClaimsFromContext returns the claims attached by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*token.Claims)
	return c, ok
}
