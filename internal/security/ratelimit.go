package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL    = 10 * time.Minute
	defaultMaxClients = 10000
	sweepInterval     = time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles new relay sessions per client IP. Buckets of clients
// that stay quiet for longer than the idle TTL are forgotten.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	limit      rate.Limit
	burst      int
	idleTTL    time.Duration
	maxClients int
	now        func() time.Time
	cancel     context.CancelFunc
}

// NewRateLimiter starts a limiter allowing r sessions per second per IP
// with the given burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		buckets:    make(map[string]*bucket),
		limit:      r,
		burst:      burst,
		idleTTL:    defaultIdleTTL,
		maxClients: defaultMaxClients,
		now:        time.Now,
		cancel:     cancel,
	}
	go rl.sweepLoop(ctx)
	return rl
}

// Allow reports whether ip may open another session now.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[ip]
	if !ok {
		if len(rl.buckets) >= rl.maxClients {
			rl.sweepLocked(now)
			if len(rl.buckets) >= rl.maxClients {
				return false
			}
		}
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// UpdateRate applies a reloaded rate to every bucket. Tokens already spent
// stay spent, so a reload does not hand every client a fresh burst.
func (rl *RateLimiter) UpdateRate(r rate.Limit, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limit = r
	rl.burst = burst
	now := rl.now()
	for _, b := range rl.buckets {
		b.limiter.SetLimitAt(now, r)
		b.limiter.SetBurstAt(now, burst)
	}
}

// Tracked returns the number of IPs with a live bucket.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			rl.sweepLocked(rl.now())
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for ip, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idleTTL {
			delete(rl.buckets, ip)
		}
	}
}
