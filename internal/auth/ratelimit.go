package auth

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/freddennis10/astra-app-sub001/internal/tokenstore"
)

// RateLimiter is a fixed-window request counter per client IP and route,
// kept in the token store so every API replica shares it. Store failures
// let requests through.
type RateLimiter struct {
	store   tokenstore.Store
	max     int64
	window  time.Duration
	timeout time.Duration
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
}

func NewRateLimiter(store tokenstore.Store, max int, window time.Duration, clock clockwork.Clock, logger *zap.SugaredLogger) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		store:   store,
		max:     int64(max),
		window:  window,
		timeout: time.Second,
		clock:   clock,
		logger:  logger,
	}
}

// Limit wraps next with the limiter under the given route name.
func (rl *RateLimiter) Limit(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.max <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		now := rl.clock.Now()
		windowIdx := now.UnixNano() / int64(rl.window)
		key := tokenstore.RateLimitKey(route, clientIP(r), windowIdx)

		ctx, cancel := context.WithTimeout(r.Context(), rl.timeout)
		n, err := rl.store.Increment(ctx, key, rl.window)
		cancel()
		if err != nil {
			rl.logger.Warnw("rate limiter unavailable", "route", route, "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if n > rl.max {
			resetAt := time.Unix(0, (windowIdx+1)*int64(rl.window))
			retry := int(resetAt.Sub(now).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
