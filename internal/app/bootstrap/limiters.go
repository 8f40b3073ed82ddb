package bootstrap

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/buyer-lead-intake/internal/config"
	"github.com/wolfman30/buyer-lead-intake/internal/observability/metrics"
	"github.com/wolfman30/buyer-lead-intake/internal/ratelimit"
	"github.com/wolfman30/buyer-lead-intake/pkg/logging"
)

// Limiters are the sliding-window limiters guarding buyer mutations.
type Limiters struct {
	Create *ratelimit.Limiter
	Update *ratelimit.Limiter
}

// All returns the limiters for background sweeping.
func (l Limiters) All() []*ratelimit.Limiter {
	return []*ratelimit.Limiter{l.Create, l.Update}
}

// BuildLimiters creates the create and update limiters on the configured
// backend. The redis backend requires a client.
func BuildLimiters(cfg *appconfig.Config, rdb *redis.Client, m *metrics.RateLimitMetrics, logger *logging.Logger) (Limiters, error) {
	if cfg == nil {
		return Limiters{}, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	storeFor := func(name string) (ratelimit.Store, error) {
		switch cfg.RateLimitBackend {
		case "", "memory":
			return ratelimit.NewMemoryStore(), nil
		case "redis":
			if rdb == nil {
				return nil, fmt.Errorf("bootstrap: RATE_LIMIT_BACKEND=redis but redis is unavailable")
			}
			return ratelimit.NewRedisStore(rdb, ratelimit.WithKeyPrefix("buyerleads:ratelimit:"+name)), nil
		default:
			return nil, fmt.Errorf("bootstrap: unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
		}
	}

	build := func(name string, max int) (*ratelimit.Limiter, error) {
		store, err := storeFor(name)
		if err != nil {
			return nil, err
		}
		return ratelimit.New(name, max, cfg.RateLimitWindow,
			ratelimit.WithStore(store),
			ratelimit.WithSweepInterval(cfg.RateLimitSweepInterval),
			ratelimit.WithMetrics(m),
			ratelimit.WithLogger(logger.With("limiter", name)),
		), nil
	}

	create, err := build("create", cfg.CreateRateLimit)
	if err != nil {
		return Limiters{}, err
	}
	update, err := build("update", cfg.UpdateRateLimit)
	if err != nil {
		return Limiters{}, err
	}
	logger.Info("rate limiters ready",
		"backend", cfg.RateLimitBackend,
		"create_limit", cfg.CreateRateLimit,
		"update_limit", cfg.UpdateRateLimit,
		"window", cfg.RateLimitWindow.String(),
	)
	return Limiters{Create: create, Update: update}, nil
}
