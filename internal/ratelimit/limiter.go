package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/wolfman30/buyer-lead-intake/internal/observability/metrics"
	"github.com/wolfman30/buyer-lead-intake/pkg/logging"
)

const defaultSweepInterval = 2 * time.Minute

// Result is the outcome of a Check or Status call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter int // seconds, set only when denied
}

// Limiter admits at most max requests per identity in any trailing window.
type Limiter struct {
	name   string
	max    int
	window time.Duration
	sweep  time.Duration
	store  Store

	mu      sync.Mutex
	now     func() time.Time
	metrics *metrics.RateLimitMetrics
	logger  *logging.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

func WithStore(s Store) Option {
	return func(l *Limiter) {
		if s != nil {
			l.store = s
		}
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.sweep = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithMetrics(m *metrics.RateLimitMetrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func WithLogger(logger *logging.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New builds a limiter backed by a MemoryStore unless WithStore is given.
func New(name string, max int, window time.Duration, opts ...Option) *Limiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		name:   name,
		max:    max,
		window: window,
		sweep:  defaultSweepInterval,
		store:  NewMemoryStore(),
		now:    time.Now,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Name() string { return l.name }

func (l *Limiter) Limit() int { return l.max }

// Check records one attempt for identity if it fits in the window. Denied
// attempts are not recorded. Store failures admit the request.
func (l *Limiter) Check(ctx context.Context, identity string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps, err := l.store.Get(ctx, identity)
	if err != nil {
		return l.failOpen(ctx, "get", identity, now, err)
	}
	loaded := len(stamps)
	stamps = after(stamps, now.Add(-l.window))

	if len(stamps) >= l.max {
		if len(stamps) < loaded {
			if err := l.store.Set(ctx, identity, stamps, l.window); err != nil {
				l.logger.FromContext(ctx).Warn("rate limit store prune write failed",
					"limiter", l.name, "identity", identity, "error", err)
			}
		}
		reset := stamps[0].Add(l.window)
		l.metrics.ObserveDecision(l.name, false)
		return Result{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: retryAfter(reset.Sub(now)),
		}
	}

	stamps = append(stamps, now)
	if err := l.store.Set(ctx, identity, stamps, l.window); err != nil {
		return l.failOpen(ctx, "set", identity, now, err)
	}
	l.metrics.ObserveDecision(l.name, true)
	return Result{
		Allowed:   true,
		Limit:     l.max,
		Remaining: l.max - len(stamps),
		ResetTime: stamps[0].Add(l.window),
	}
}

// Status reports the identity's current standing without consuming quota.
func (l *Limiter) Status(ctx context.Context, identity string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps, err := l.store.Get(ctx, identity)
	if err != nil {
		l.logger.FromContext(ctx).Warn("rate limit status unavailable", "limiter", l.name, "error", err)
		return Result{Allowed: true, Limit: l.max, Remaining: l.max, ResetTime: now.Add(l.window)}
	}
	stamps = after(stamps, now.Add(-l.window))
	if len(stamps) == 0 {
		return Result{Allowed: true, Limit: l.max, Remaining: l.max, ResetTime: now.Add(l.window)}
	}
	reset := stamps[0].Add(l.window)
	res := Result{
		Allowed:   len(stamps) < l.max,
		Limit:     l.max,
		Remaining: max(0, l.max-len(stamps)),
		ResetTime: reset,
	}
	if !res.Allowed {
		res.RetryAfter = retryAfter(reset.Sub(now))
	}
	return res
}

// Sweep drops expired timestamps and forgets idle identities.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed, err := l.store.Prune(ctx, l.now().Add(-l.window))
	if err != nil {
		return removed, err
	}
	l.metrics.ObserveSweep(l.name, removed)
	return removed, nil
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := l.Sweep(ctx)
			if err != nil {
				l.logger.Warn("rate limit sweep failed", "limiter", l.name, "error", err)
				continue
			}
			if removed > 0 {
				l.logger.Debug("rate limit sweep", "limiter", l.name, "removed", removed)
			}
		}
	}
}

func (l *Limiter) failOpen(ctx context.Context, op, identity string, now time.Time, err error) Result {
	l.logger.FromContext(ctx).Error("rate limit store failed, allowing request",
		"limiter", l.name, "op", op, "identity", identity, "error", err)
	l.metrics.ObserveDecision(l.name, true)
	return Result{Allowed: true, Limit: l.max, Remaining: l.max, ResetTime: now.Add(l.window)}
}

func retryAfter(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
