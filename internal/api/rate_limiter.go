package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/metrics"
)

// Roles used for rate limiting
const (
	roleAnonymous = "anonymous"
	roleUser      = "user"
	roleAdmin     = "admin"
)

// RateLimiter manages rate limiting for API requests
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	// Rate limits per role (requests per second)
	limits map[string]rate.Limit

	// Burst size (number of requests that can be made in a burst)
	burstSize int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(anonymousRPS, userRPS, adminRPS int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limits: map[string]rate.Limit{
			roleAnonymous: rate.Limit(anonymousRPS),
			roleUser:      rate.Limit(userRPS),
			roleAdmin:     rate.Limit(adminRPS),
		},
		burstSize: 10, // Allow bursts of 10 requests
	}
}

// getLimiter returns the rate limiter for a caller key and role
func (rl *RateLimiter) getLimiter(key, role string) *rate.Limiter {
	key = role + ":" + key

	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	limit, ok := rl.limits[role]
	if !ok {
		limit = rl.limits[roleAnonymous]
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(limit, rl.burstSize)
	rl.limiters[key] = limiter

	return limiter
}

// RateLimitMiddleware enforces per-caller limits. Signed-in callers are keyed
// by user id, anonymous callers by client address.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, role := clientAddr(r), roleAnonymous
			if user := auth.UserFrom(r.Context()); user != nil {
				key, role = user.ID, roleUser
				if user.IsAdmin {
					role = roleAdmin
				}
			}

			limiter := rl.getLimiter(key, role)
			if !limiter.Allow() {
				metrics.RateLimitedTotal.WithLabelValues(role).Inc()
				respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded. Please try again later.", map[string]interface{}{
					"role":  role,
					"limit": float64(limiter.Limit()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
