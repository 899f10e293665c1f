package auth

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/anf-aiops/opsbot/pkg/api"
	"golang.org/x/time/rate"
)

// idleTTL is how long an unused per-user limiter is kept.
const idleTTL = 3 * time.Minute

// RateLimiter keeps one token bucket per tenant/user.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	clock    func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second with the given burst per user.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (rl *RateLimiter) WithClock(clock func() time.Time) *RateLimiter {
	rl.clock = clock
	return rl
}

// Allow reports whether actor may proceed now.
func (rl *RateLimiter) Allow(actor string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	v, ok := rl.visitors[actor]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[actor] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Sweep drops limiters idle for longer than idleTTL.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock()
	n := 0
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > idleTTL {
			delete(rl.visitors, k)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every minute until ctx is done.
func (rl *RateLimiter) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// Middleware enforces the limit per authenticated user, falling back to the
// remote address. Place it after NewMiddleware. A nil limiter lets everything
// through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil {
			next.ServeHTTP(w, r)
			return
		}
		actor := r.RemoteAddr
		if u, err := UserFrom(r.Context()); err == nil {
			actor = u.TenantID + "/" + u.UserID
		}
		if !rl.Allow(actor) {
			retryAfter := 1
			if rl.rps > 0 {
				retryAfter = int(math.Ceil(1 / float64(rl.rps)))
			}
			api.WriteTooManyRequests(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}
