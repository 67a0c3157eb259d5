package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type requestIDKey struct{}

const requestIDHeader = "X-Request-ID"

// withRequestID generates or extracts a request ID from the X-Request-ID
// header, storing it on the request context and echoing it back on the
// response, grounded on the teacher's RequestIDMiddleware.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// requestIDFromContext returns the request ID withRequestID attached, or
// "" if none is present (e.g. in a test calling a handler directly).
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// perClientLimiter is a token-bucket limiter keyed by remote address,
// grounded on the teacher's middleware.RateLimiter, narrowed to the one
// call site (/v1/predict) this shell protects.
type perClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newPerClientLimiter(requestsPerMinute, burst int) *perClientLimiter {
	return &perClientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (l *perClientLimiter) allow(clientID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[clientID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// withRateLimit rejects requests exceeding limiter's per-client budget
// with 429, before next ever sees them.
func withRateLimit(limiter *perClientLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(r.RemoteAddr) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Code: "RATE_LIMITED", Message: "too many predict requests"})
			return
		}
		next(w, r)
	}
}
