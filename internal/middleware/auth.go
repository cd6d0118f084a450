package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clockdesk/clockdesk/internal/auth"
	"github.com/clockdesk/clockdesk/internal/model"
)

// Every auth attempt takes at least this long, hit or miss.
const minAuthDuration = 200 * time.Millisecond

// KeyStore looks up API keys for authentication.
type KeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// AuthCache caches verified auth contexts under auth.CacheKey.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Keys   KeyStore
	Cache  AuthCache

	// Env, when set, rejects keys issued for another environment
	// (test keys against production).
	Env string

	// MinDuration overrides minAuthDuration when positive.
	MinDuration time.Duration
}

// errStore marks a key store failure, logged apart from bad credentials.
var errStore = errors.New("key store unavailable")

// authFailure is a rejected credential. reason goes to the log only; the
// client always sees the same 401.
type authFailure struct {
	reason   string
	redacted string
}

func (f *authFailure) Error() string { return "auth: " + f.reason }

type authenticator struct {
	cfg AuthConfig
}

// authenticate resolves the presented key to an auth context.
func (a *authenticator) authenticate(ctx context.Context, key string) (*model.AuthContext, bool, error) {
	if key == "" {
		return nil, false, &authFailure{reason: "missing_key"}
	}
	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		return nil, false, &authFailure{reason: "invalid_format", redacted: "[invalid]"}
	}
	if a.cfg.Env != "" && parsed.Env != a.cfg.Env {
		return nil, false, &authFailure{reason: "env_mismatch", redacted: parsed.Redacted()}
	}

	cacheKey := auth.CacheKey(key)
	if cached, _ := a.cfg.Cache.GetAuthContext(ctx, cacheKey); cached != nil {
		return cached, true, nil
	}

	candidates, err := a.cfg.Keys.GetAPIKeysByPrefix(ctx, parsed.Prefix)
	if err != nil {
		return nil, false, errors.Join(errStore, err)
	}
	matched := matchKey(key, candidates)
	if matched == nil {
		return nil, false, &authFailure{reason: "invalid_key", redacted: parsed.Redacted()}
	}

	ac := &model.AuthContext{
		KeyID:         matched.ID,
		KeyPrefix:     matched.KeyPrefix,
		OwnerID:       matched.OwnerID,
		TenantScope:   matched.TenantScope,
		Scopes:        matched.Scopes,
		RateLimitTier: matched.RateLimitTier,
	}
	_ = a.cfg.Cache.SetAuthContext(ctx, cacheKey, ac)

	// Outlives the request.
	bg := context.WithoutCancel(ctx)
	go func() {
		_ = a.cfg.Keys.UpdateAPIKeyLastUsed(bg, matched.ID)
	}()
	return ac, false, nil
}

// Auth authenticates API requests by key and puts the resulting
// AuthContext on the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	floor := cfg.MinDuration
	if floor <= 0 {
		floor = minAuthDuration
	}
	a := &authenticator{cfg: cfg}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deadline := time.Now().Add(floor)
			ctx := r.Context()

			ac, cacheHit, err := a.authenticate(ctx, extractAPIKey(r))
			if wait := time.Until(deadline); wait > 0 {
				time.Sleep(wait)
			}

			endpoint := r.Method + " " + r.URL.Path
			var failure *authFailure
			switch {
			case errors.As(err, &failure):
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", failure.reason),
					slog.String("key", failure.redacted),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", endpoint),
					slog.String("request_id", GetRequestID(ctx)),
				)
				writeAuthError(w)
				return
			case err != nil:
				cfg.Logger.Error("key lookup failed during auth",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(ctx)),
				)
				writeAuthError(w)
				return
			}

			setRequestKeyID(ctx, ac.KeyID)
			cfg.Logger.Info("authentication successful",
				slog.String("key_id", ac.KeyID),
				slog.String("key_prefix", ac.KeyPrefix),
				slog.String("owner_id", ac.OwnerID),
				slog.String("tenant_scope", ac.TenantScope),
				slog.String("endpoint", endpoint),
				slog.Bool("cache_hit", cacheHit),
				slog.String("request_id", GetRequestID(ctx)),
			)
			next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(ctx, ac)))
		})
	}
}

// matchKey returns the candidate whose hash verifies key. Several keys can
// share a prefix.
func matchKey(key string, candidates []*model.APIKey) *model.APIKey {
	for _, k := range candidates {
		if ok, err := auth.VerifyKey(key, k.KeyHash); err == nil && ok {
			return k
		}
	}
	return nil
}

// extractAPIKey reads "Authorization: Bearer <key>", falling back to X-API-Key.
func extractAPIKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// writeAuthError answers every auth failure identically.
func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key")
}
