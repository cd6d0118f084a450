// Package middleware holds the HTTP middleware chain of the Clockdesk API:
// correlation IDs, access logging, panic recovery, response hardening,
// CORS, API key auth, scope guards and rate limits.
package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// SecurityConfig controls the hardening headers set on every response.
type SecurityConfig struct {
	// HSTS is the Strict-Transport-Security max-age. Zero omits the header,
	// which is what plain-HTTP development wants.
	HSTS time.Duration

	// FrameAncestors lists the CRM origins allowed to embed responses.
	// Empty denies framing entirely.
	FrameAncestors []string
}

// DefaultSecurityConfig is the production setting: one year of HSTS and
// no framing.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{HSTS: 365 * 24 * time.Hour}
}

// headers renders cfg once; Security copies the result onto each response.
func (cfg SecurityConfig) headers() http.Header {
	ancestors := "'none'"
	if len(cfg.FrameAncestors) > 0 {
		ancestors = strings.Join(cfg.FrameAncestors, " ")
	}

	h := http.Header{}
	h.Set("X-Content-Type-Options", "nosniff")
	// X-Frame-Options cannot name origins.
	if len(cfg.FrameAncestors) == 0 {
		h.Set("X-Frame-Options", "DENY")
	}
	h.Set("X-XSS-Protection", "0")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors "+ancestors)
	h.Set("Permissions-Policy", "camera=(), geolocation=(), microphone=(), payment=(), usb=()")
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	h.Set("Cross-Origin-Resource-Policy", "same-origin")
	h.Set("Cache-Control", "no-store")
	if cfg.HSTS > 0 {
		h.Set("Strict-Transport-Security",
			"max-age="+strconv.Itoa(int(cfg.HSTS/time.Second))+"; includeSubDomains; preload")
	}
	return h
}

// Security sets the hardening headers. API responses carry identity data,
// so they are never cacheable.
func Security(cfg SecurityConfig) func(http.Handler) http.Handler {
	static := cfg.headers()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dst := w.Header()
			for k, v := range static {
				dst[k] = slices.Clone(v)
			}
			dst.Del("Server")
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodySize rejects bodies that declare more than maxBytes up front and
// caps streamed bodies at maxBytes.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
