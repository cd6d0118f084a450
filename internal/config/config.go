// Package config loads settings from the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	RedisURL       string        `env:"REDIS_URL,required,notEmpty"`
	StatusCacheTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"30s"`

	// LogLevel accepts any slog level name, e.g. "debug" or "WARN".
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"json"`

	// Sync runs call the CRM, so writes get more room than reads.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	RateLimitAPIEnabled bool `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitIPEnabled  bool `env:"RATE_LIMIT_IP_ENABLED" envDefault:"true"`
	RateLimitIPRPS      int  `env:"RATE_LIMIT_IP_RPS" envDefault:"20"`
	RateLimitIPBurst    int  `env:"RATE_LIMIT_IP_BURST" envDefault:"40"`
	// Sync triggers per tenant; 0 turns the limit off.
	SyncRateLimitPerMinute int `env:"SYNC_RATE_LIMIT_PER_MINUTE" envDefault:"6"`
	SyncRateLimitBurst     int `env:"SYNC_RATE_LIMIT_BURST" envDefault:"3"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	// CRM origins allowed to frame the app.
	FrameAncestors []string `env:"FRAME_ANCESTORS" envSeparator:","`

	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	CRMBaseURL        string        `env:"CRM_BASE_URL" envDefault:"https://services.leadconnectorhq.com"`
	CRMLegacyBaseURL  string        `env:"CRM_LEGACY_BASE_URL" envDefault:"https://rest.gohighlevel.com"`
	CRMAPIVersion     string        `env:"CRM_API_VERSION" envDefault:"2021-07-28"`
	CRMTimeout        time.Duration `env:"CRM_TIMEOUT" envDefault:"15s"`
	CRMMaxAttempts    int           `env:"CRM_MAX_ATTEMPTS" envDefault:"3"`
	CRMLegacyFallback bool          `env:"CRM_LEGACY_FALLBACK" envDefault:"true"`

	// CredentialSealingKey is 32 bytes, hex encoded.
	CredentialSealingKey string `env:"CREDENTIAL_SEALING_KEY,required,notEmpty"`

	BogusIdentityDenylist  []string      `env:"BOGUS_IDENTITY_DENYLIST" envSeparator:","`
	SyncTestEmailHeuristic bool          `env:"SYNC_TEST_EMAIL_HEURISTIC" envDefault:"true"`
	SessionRefreshTimeout  time.Duration `env:"SESSION_REFRESH_TIMEOUT" envDefault:"750ms"`

	RunHistoryEnabled   bool `env:"RUN_HISTORY_ENABLED" envDefault:"true"`
	RunHistoryBatchSize int  `env:"RUN_HISTORY_BATCH_SIZE" envDefault:"100"`
}

func (c *Config) IsDevelopment() bool { return c.AppEnv == EnvDevelopment }

func (c *Config) IsProduction() bool { return c.AppEnv == EnvProduction }

// Load reads the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// normalize trims list entries and drops empty ones.
func (c *Config) normalize() {
	c.CORSAllowedOrigins = trimList(c.CORSAllowedOrigins)
	c.FrameAncestors = trimList(c.FrameAncestors)
	c.BogusIdentityDenylist = trimList(c.BogusIdentityDenylist)
	c.LogFormat = strings.ToLower(c.LogFormat)
}

// Validate reports every setting the env tags cannot check.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(slices.Contains([]string{EnvDevelopment, EnvStaging, EnvProduction}, c.AppEnv),
		"APP_ENV must be development, staging or production")
	check(c.LogFormat == "json" || c.LogFormat == "text", "LOG_FORMAT must be json or text")
	key, err := hex.DecodeString(c.CredentialSealingKey)
	check(err == nil && len(key) == 32, "CREDENTIAL_SEALING_KEY must be 64 hex characters")
	check(c.CRMMaxAttempts >= 1, "CRM_MAX_ATTEMPTS must be at least 1")
	check(c.RunHistoryBatchSize >= 1, "RUN_HISTORY_BATCH_SIZE must be at least 1")
	check(c.SyncRateLimitPerMinute >= 0 && c.SyncRateLimitBurst >= 0, "sync rate limits must not be negative")
	check(c.SyncRateLimitPerMinute == 0 || c.SyncRateLimitBurst > 0,
		"SYNC_RATE_LIMIT_BURST must be positive when the sync limit is enabled")

	return errors.Join(errs...)
}

func trimList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
