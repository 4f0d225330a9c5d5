package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/freddennis10/astra-app-sub001/internal/auth"
	"github.com/freddennis10/astra-app-sub001/internal/user"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request at debug level. Server errors are
// logged at warn. Query strings are not logged because verify links carry
// tokens.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			log := logger.Debugw
			if status >= http.StatusInternalServerError {
				log = logger.Warnw
			}
			log("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
			}
			// only meaningful over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RecoverMiddleware turns a panic into a 500, logs it and reports it to
// Sentry on a per-request hub.
func RecoverMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hub := sentry.GetHubFromContext(r.Context())
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
				r = r.WithContext(sentry.SetHubOnContext(r.Context(), hub))
			}
			hub.Scope().SetRequest(r)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Errorw("panic serving request", "method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(rec))
				hub.RecoverWithContext(r.Context(), rec)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal error"}` + "\n"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the handlers and health checks mounted by RegisterRoutes.
type Deps struct {
	Auth       *auth.Handler
	Middleware *auth.Middleware
	Limiter    *auth.RateLimiter
	Users      *user.Handler
	// Checks maps a dependency name to its check.
	Checks map[string]Pinger
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", healthHandler(d.Checks))

	limited := func(route string, h http.HandlerFunc) http.Handler {
		if d.Limiter == nil {
			return h
		}
		return d.Limiter.Limit(route, h)
	}

	mux.Handle("POST /api/v1/auth/register", limited("register", d.Auth.Register))
	mux.Handle("POST /api/v1/auth/login", limited("login", d.Auth.Login))
	mux.Handle("POST /api/v1/auth/forgot-password", limited("forgot-password", d.Auth.ForgotPassword))
	mux.Handle("POST /api/v1/auth/reset-password", limited("reset-password", d.Auth.ResetPassword))
	mux.Handle("POST /api/v1/auth/logout", limited("logout", d.Auth.Logout))
	mux.HandleFunc("POST /api/v1/auth/refresh", d.Auth.Refresh)
	mux.HandleFunc("GET /api/v1/auth/verify-email", d.Auth.VerifyEmail)
	mux.HandleFunc("POST /api/v1/auth/validate", d.Auth.Validate)

	mux.Handle("GET /api/v1/users/me", d.Middleware.RequireAuth(http.HandlerFunc(d.Users.Me)))

	// recovery innermost so the logger sees the 500
	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(RecoverMiddleware(logger)(mux)))
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthHandler(checks map[string]Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		writeJSON(w, status, resp)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
