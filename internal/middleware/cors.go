package middleware

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	// AllowedOrigins lists exact origins ("https://app.example.com") and
	// subdomain patterns ("https://*.example.com" or "*.example.com").
	// Empty denies every cross-origin request.
	AllowedOrigins []string

	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string

	// MaxAge is how long browsers may cache a preflight answer.
	MaxAge time.Duration
}

// DefaultCORSConfig returns defaults for the embedded dashboard. Requests
// authenticate with API key headers, so credentials are never allowed.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Accept-Language",
			"Authorization",
			"Content-Type",
			"X-API-Key",
			"X-Request-ID",
		},
		ExposedHeaders: []string{
			"Retry-After",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"X-Request-ID",
		},
		MaxAge: 24 * time.Hour,
	}
}

// originPattern is one parsed AllowedOrigins entry. An empty scheme
// matches any scheme.
type originPattern struct {
	scheme   string
	host     string
	wildcard bool
}

func parseOriginPattern(raw string) (originPattern, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var p originPattern

	if scheme, rest, ok := strings.Cut(raw, "://"); ok {
		p.scheme = scheme
		raw = rest
	}
	raw = strings.TrimSuffix(raw, "/")

	if strings.HasPrefix(raw, "*.") {
		p.wildcard = true
		raw = strings.TrimPrefix(raw, "*")
	}
	p.host = raw
	return p, raw != "" && raw != "."
}

func (p originPattern) match(scheme, host string) bool {
	if p.scheme != "" && p.scheme != scheme {
		return false
	}
	if !p.wildcard {
		return host == p.host
	}
	// "*.example.com" matches "a.example.com" but not "example.com" or "badexample.com".
	return strings.HasSuffix(host, p.host) && len(host) > len(p.host)
}

// originMatcher checks request origins against the configured patterns.
type originMatcher struct {
	patterns []originPattern
}

func newOriginMatcher(origins []string) originMatcher {
	m := originMatcher{patterns: make([]originPattern, 0, len(origins))}
	for _, o := range origins {
		if p, ok := parseOriginPattern(o); ok {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if len(m.patterns) == 0 {
		return false
	}
	u, err := url.Parse(strings.ToLower(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	for _, p := range m.patterns {
		if p.match(u.Scheme, u.Host) {
			return true
		}
	}
	return false
}

// CORS answers preflight requests and adds CORS headers for allowed
// origins. Disallowed origins get no CORS headers, and their preflights
// are refused with 403.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	matcher := newOriginMatcher(cfg.AllowedOrigins)
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(int(cfg.MaxAge / time.Second))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !matcher.allows(origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			if exposed != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposed)
			}

			if !preflight {
				next.ServeHTTP(w, r)
				return
			}

			if !slices.Contains(cfg.AllowedMethods, r.Header.Get("Access-Control-Request-Method")) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if maxAge != "" {
				w.Header().Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
