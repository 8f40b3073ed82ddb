package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/buyer-lead-intake/internal/http/middleware"
	"github.com/wolfman30/buyer-lead-intake/internal/leads"
	"github.com/wolfman30/buyer-lead-intake/internal/ratelimit"
	"github.com/wolfman30/buyer-lead-intake/pkg/logging"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	BuyersHandler      *leads.Handler
	AuthSecret         string
	CreateLimiter      *ratelimit.Limiter
	UpdateLimiter      *ratelimit.Limiter
	Ingress            *httpmiddleware.IngressLimiter
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	HealthChecks       map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.Ingress != nil {
		r.Use(httpmiddleware.RateLimit(cfg.Ingress))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.BuyersHandler != nil {
		guards := leads.RouteGuards{Auth: httpmiddleware.JWTAuth(cfg.AuthSecret)}
		if cfg.CreateLimiter != nil {
			guards.Create = httpmiddleware.SlidingWindow(cfg.CreateLimiter)
		}
		if cfg.UpdateLimiter != nil {
			guards.Update = httpmiddleware.SlidingWindow(cfg.UpdateLimiter)
		}
		r.Mount("/api/buyers", cfg.BuyersHandler.Routes(guards))
	}

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			resp.Checks = make(map[string]string, len(names))
			for _, name := range names {
				if err := checks[name](ctx); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
