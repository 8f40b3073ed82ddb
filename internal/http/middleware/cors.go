package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, X-Request-Id"
	corsAllowMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	corsExposeHeaders = "Content-Disposition, Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset"
	corsMaxAgeSeconds = "600"
)

// originPolicy is the parsed CORS_ALLOWED_ORIGINS list.
type originPolicy struct {
	wildcard bool
	origins  map[string]bool
}

func newOriginPolicy(list []string) originPolicy {
	p := originPolicy{origins: make(map[string]bool, len(list))}
	for _, raw := range list {
		switch origin := strings.TrimSpace(raw); origin {
		case "":
		case "*":
			p.wildcard = true
		default:
			p.origins[origin] = true
		}
	}
	return p
}

func (p originPolicy) permits(origin string) bool {
	return origin != "" && (p.wildcard || p.origins[origin])
}

// CORS lets browser clients on the listed origins call the API and read the
// rate limit and download headers. "*" echoes any Origin back.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			h := w.Header()
			h.Add("Vary", "Origin")
			if policy.permits(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAgeSeconds)
			}

			preflight := r.Method == http.MethodOptions && origin != "" &&
				r.Header.Get("Access-Control-Request-Method") != ""
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
