// Package main is the entrypoint for the Clockdesk API server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/clockdesk/clockdesk/internal/auth"
	"github.com/clockdesk/clockdesk/internal/cache"
	"github.com/clockdesk/clockdesk/internal/config"
	"github.com/clockdesk/clockdesk/internal/crm"
	"github.com/clockdesk/clockdesk/internal/handler"
	"github.com/clockdesk/clockdesk/internal/identity"
	"github.com/clockdesk/clockdesk/internal/metrics"
	"github.com/clockdesk/clockdesk/internal/middleware"
	"github.com/clockdesk/clockdesk/internal/reconcile"
	"github.com/clockdesk/clockdesk/internal/repository"
	"github.com/clockdesk/clockdesk/internal/runlog"
	"github.com/clockdesk/clockdesk/internal/secret"
	"github.com/clockdesk/clockdesk/internal/server"
	"github.com/clockdesk/clockdesk/internal/service"
	"github.com/clockdesk/clockdesk/internal/trust"
)

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("clockdesk api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	sealer, err := secret.NewSealer(cfg.CredentialSealingKey)
	if err != nil {
		return fmt.Errorf("credential sealing key: %w", err)
	}
	repo, cacheClient, err := connect(ctx, cfg, sealer, logger)
	if err != nil {
		return err
	}

	recorder := metrics.NewInMemory()
	credentials := service.NewCredentialService(repo, cacheClient, recorder, logger)

	denylist := cfg.BogusIdentityDenylist
	if len(denylist) == 0 {
		denylist = identity.DefaultDenylist
	}
	identities := service.NewIdentityService(repo, identity.BogusRules{Denylist: denylist}, recorder, logger)

	directory := crm.NewClient(crm.Config{
		BaseURL:        cfg.CRMBaseURL,
		LegacyBaseURL:  cfg.CRMLegacyBaseURL,
		APIVersion:     cfg.CRMAPIVersion,
		Timeout:        cfg.CRMTimeout,
		MaxAttempts:    cfg.CRMMaxAttempts,
		LegacyFallback: cfg.CRMLegacyFallback,
	}, nil, logger)

	// The engine writes credentials through the service so cached status
	// is invalidated.
	engine := reconcile.NewEngine(credentials, repo, directory, reconcile.Config{
		TestEmailHeuristic: cfg.SyncTestEmailHeuristic,
	}, recorder, logger)
	resolver := trust.NewResolver(repo, credentials, cfg.SessionRefreshTimeout, logger)

	syncHandler := handler.NewSyncHandler(engine, credentials, cacheClient, handler.SyncLimit{
		PerMinute: cfg.SyncRateLimitPerMinute,
		Burst:     cfg.SyncRateLimitBurst,
	}, logger)
	syncHandler.SetTenantLookup(repo)

	runsHandler := handler.NewRunsHandler(repo, logger)
	runsHandler.SetTenantLookup(repo)
	identityHandler := handler.NewIdentityHandler(identities, resolver, logger)
	identityHandler.SetTenantLookup(repo)

	var (
		publisher *runlog.Publisher
		worker    *runlog.Worker
	)
	if cfg.RunHistoryEnabled {
		publisher = runlog.NewPublisher(cacheClient.Client(), logger, recorder)
		syncHandler.SetRunPublisher(publisher)
		worker = runlog.NewWorker(cacheClient.Client(), repo, logger, runlog.NewConsumerID(), recorder)
		worker.SetBatchSize(cfg.RunHistoryBatchSize)
	}

	mintEnv, acceptEnv := keyEnvs(cfg)
	apiKeys := handler.NewAPIKeyHandler(logger, repo, mintEnv)
	apiKeys.SetAuthCache(cacheClient)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	securityCfg := middleware.DefaultSecurityConfig()
	securityCfg.FrameAncestors = cfg.FrameAncestors
	if cfg.IsDevelopment() {
		securityCfg.HSTS = 0
	}

	router := server.NewRouter(server.Handlers{
		Root: handler.New(),
		Health: handler.NewHealthHandler(
			handler.Dependency{Name: "postgres", Checker: repo},
			handler.Dependency{Name: "redis", Checker: cacheClient},
		),
		Metrics:    handler.NewMetricsHandler(recorder),
		Sync:       syncHandler,
		Runs:       runsHandler,
		Identities: identityHandler,
		APIKeys:    apiKeys,
	}, server.RouterConfig{
		Logger: logger,
		Auth: middleware.AuthConfig{
			Logger: logger,
			Keys:   repo,
			Cache:  cacheClient,
			Env:    acceptEnv,
		},
		RateLimit: middleware.RateLimitConfig{
			Logger:     logger,
			Limiter:    cacheClient,
			APIEnabled: cfg.RateLimitAPIEnabled,
			IPEnabled:  cfg.RateLimitIPEnabled,
			IPRPS:      cfg.RateLimitIPRPS,
			IPBurst:    cfg.RateLimitIPBurst,
		},
		Security:    securityCfg,
		CORS:        corsCfg,
		MaxBodySize: cfg.MaxRequestBodySize,
	})

	srv := server.New(router, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Hooks run last to first: publisher flush, worker drain, Redis,
	// Postgres.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})
	if worker != nil {
		srv.OnShutdown("runlog worker", worker.Shutdown)
		srv.OnShutdown("runlog publisher", publisher.Flush)
		go func() {
			if err := worker.Run(ctx); err != nil {
				logger.Error("run history worker stopped", "error", err)
			}
		}()
	}

	logger.Info("starting server", "port", cfg.AppPort, "env", cfg.AppEnv, "crm_base_url", cfg.CRMBaseURL)
	return srv.Run(ctx)
}

// connect opens Postgres and Redis. Connection strings never reach the
// logs or the returned error unredacted.
func connect(ctx context.Context, cfg *config.Config, sealer *secret.Sealer, logger *slog.Logger) (*repository.Repository, *cache.Cache, error) {
	repo, err := repository.New(ctx, cfg.DatabaseURL, sealer)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres %s: %s", redactURL(cfg.DatabaseURL), sanitizeError(err, cfg.DatabaseURL))
	}
	logger.Info("connected to database")

	c, err := cache.New(ctx, cfg.RedisURL, cfg.StatusCacheTTL)
	if err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %s", redactURL(cfg.RedisURL), sanitizeError(err, cfg.RedisURL))
	}
	logger.Info("connected to Redis")
	return repo, c, nil
}

// keyEnvs returns the environment new keys are minted in and the one
// authentication insists on. Outside production any key is accepted.
func keyEnvs(cfg *config.Config) (mint, accept string) {
	if cfg.IsProduction() {
		return auth.EnvLive, auth.EnvLive
	}
	return auth.EnvTest, ""
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

var passwordParam = regexp.MustCompile(`(?i)password=\S+`)

// redactURL drops the password from a connection URL and keeps the user.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}
	switch {
	case u.User == nil:
	case u.User.Username() == "":
		u.User = url.User("redacted")
	default:
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

// sanitizeError replaces each DSN in err's text with its redacted form and
// masks key=value passwords.
func sanitizeError(err error, dsns ...string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, dsn := range dsns {
		if dsn != "" {
			msg = strings.ReplaceAll(msg, dsn, redactURL(dsn))
		}
	}
	return passwordParam.ReplaceAllString(msg, "password=redacted")
}
