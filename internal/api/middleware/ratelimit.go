package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"loan-underwriting/internal/config"
	"loan-underwriting/internal/domain/identity"
	"loan-underwriting/internal/infrastructure/monitoring"

	"golang.org/x/time/rate"
)

const (
	ScopeClient      = "client"
	ScopeApplication = "application"

	limiterIdleTTL = 10 * time.Minute
	sweepInterval  = time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiterMiddleware holds one token bucket per key. Buckets idle for
// longer than limiterIdleTTL are swept.
type RateLimiterMiddleware struct {
	limiters sync.Map
	cfg      config.RateLimitConfig
	scope    string
	keyFor   func(*http.Request) string
	logger   *slog.Logger
}

// NewRateLimiterMiddleware limits every request by client address.
func NewRateLimiterMiddleware(cfg config.RateLimitConfig, logger *slog.Logger) *RateLimiterMiddleware {
	return newRateLimiter(cfg, ScopeClient, extractIP, logger)
}

// NewApplicationRateLimiter limits loan applications per authenticated
// caller. It must sit behind AuthMiddleware; requests without an identity
// fall back to the client address.
func NewApplicationRateLimiter(cfg config.RateLimitConfig, logger *slog.Logger) *RateLimiterMiddleware {
	return newRateLimiter(cfg, ScopeApplication, callerKey, logger)
}

func newRateLimiter(cfg config.RateLimitConfig, scope string, keyFor func(*http.Request) string, logger *slog.Logger) *RateLimiterMiddleware {
	rl := &RateLimiterMiddleware{
		cfg:    cfg,
		scope:  scope,
		keyFor: keyFor,
		logger: logger.With("component", "RateLimiter", "scope", scope),
	}

	if cfg.Enabled {
		go rl.sweepLoop()
	}

	return rl
}

func (rl *RateLimiterMiddleware) getLimiter(key string, now time.Time) *rate.Limiter {
	v, ok := rl.limiters.Load(key)
	if !ok {
		v, _ = rl.limiters.LoadOrStore(key, &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst),
		})
	}
	cl := v.(*clientLimiter)
	cl.lastSeen.Store(now.UnixNano())
	return cl.limiter
}

func (rl *RateLimiterMiddleware) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for now := range ticker.C {
		if n := rl.sweep(now); n > 0 {
			rl.logger.Debug("Evicted idle rate limiters", "count", n)
		}
	}
}

// sweep drops buckets not touched within limiterIdleTTL of now and reports
// how many went.
func (rl *RateLimiterMiddleware) sweep(now time.Time) int {
	cutoff := now.Add(-limiterIdleTTL).UnixNano()
	evicted := 0
	rl.limiters.Range(func(key, value any) bool {
		if value.(*clientLimiter).lastSeen.Load() < cutoff {
			rl.limiters.Delete(key)
			evicted++
		}
		return true
	})
	return evicted
}

func extractIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	xRealIP := r.Header.Get("X-Real-IP")
	if xRealIP != "" {
		return xRealIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func callerKey(r *http.Request) string {
	if id, ok := identity.FromContext(r.Context()); ok {
		return "user:" + id.UserID.String()
	}
	return "ip:" + extractIP(r)
}

func (rl *RateLimiterMiddleware) retryAfter(limiter *rate.Limiter, now time.Time) string {
	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return "1"
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	secs := int(delay / time.Second)
	if delay%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (rl *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	if !rl.cfg.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		key := rl.keyFor(r)
		limiter := rl.getLimiter(key, now)

		if !limiter.AllowN(now, 1) {
			monitoring.RecordRateLimited(rl.scope)
			rl.logger.WarnContext(r.Context(), "Rate limit exceeded", "key", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", rl.retryAfter(limiter, now))
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
