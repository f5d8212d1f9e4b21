// Package main is the entry point for the tools gateway service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akz4ol/toolsgateway/internal/adminfeed"
	"github.com/akz4ol/toolsgateway/internal/auth"
	"github.com/akz4ol/toolsgateway/internal/audit"
	"github.com/akz4ol/toolsgateway/internal/backend"
	"github.com/akz4ol/toolsgateway/internal/config"
	"github.com/akz4ol/toolsgateway/internal/database"
	"github.com/akz4ol/toolsgateway/internal/discovery"
	"github.com/akz4ol/toolsgateway/internal/domain"
	"github.com/akz4ol/toolsgateway/internal/handler"
	"github.com/akz4ol/toolsgateway/internal/health"
	"github.com/akz4ol/toolsgateway/internal/oauth"
	"github.com/akz4ol/toolsgateway/internal/ratelimit"
	"github.com/akz4ol/toolsgateway/internal/rbac"
	"github.com/akz4ol/toolsgateway/internal/rbaccache"
	"github.com/akz4ol/toolsgateway/internal/router"
	"github.com/akz4ol/toolsgateway/internal/server"
	"github.com/akz4ol/toolsgateway/internal/store"
	"github.com/akz4ol/toolsgateway/internal/store/memory"
	"github.com/akz4ol/toolsgateway/internal/store/postgres"
	"github.com/akz4ol/toolsgateway/internal/token"
	"github.com/akz4ol/toolsgateway/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gateway exited with error")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Logging.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	log.Logger = logger
	return logger
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthCheckers := make(map[string]handler.HealthChecker)

	st, closeStore, err := openStore(cfg, logger, healthCheckers)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	var tracingProvider *tracing.Provider
	if cfg.Tracing.Enabled {
		tracingProvider, err = tracing.Init(ctx, tracing.Config{
			ServiceName:    "toolsgateway",
			ServiceVersion: "dev",
			Endpoint:       cfg.Tracing.Endpoint,
			Protocol:       cfg.Tracing.Protocol,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer tracingProvider.Shutdown(ctx)
	}

	redisClient, err := database.NewRedis(cfg.Redis, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, rate limiting degrades to fail-open")
	} else {
		defer redisClient.Close()
		healthCheckers["redis"] = redisClient
	}

	cache := rbaccache.New(cfg.RBAC.CacheTTL, cfg.RBAC.MaxEntries, logger)
	rbacEngine := rbac.New(st, cache, logger)
	if err := rbacEngine.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap rbac: %w", err)
	}

	tokens := token.New(cfg.Token.SigningKey, cfg.Token.TTL, cfg.Token.Leeway)
	tokenVerifier := token.MiddlewareVerifier{Issuer: tokens}

	oauthRegistry := oauth.New(st, cfg.Store.EncryptionKey, baseURL(cfg), cfg.OAuth.GroupClaimNames, cfg.OAuth.StateTTL)

	auditLogger := audit.NewLogger(logger)

	loginService := auth.New(st, cache, rbacEngine, oauthRegistry, tokens, auditLogger, cfg.RBAC.RequireRoleForLogin, "", logger)

	backendManager := backend.New(logger)

	healthMonitor := health.New(backendManager, health.Config{
		CheckInterval:        cfg.Health.CheckInterval,
		StaleTimeout:         cfg.Health.StaleTimeout,
		DefaultTimeout:       cfg.Health.DefaultTimeout,
		DegradedTimeout:      cfg.Health.DegradedTimeout,
		UnhealthyRetryWindow: cfg.Health.UnhealthyRetryWindow,
	}, logger)

	adminFeed := adminfeed.NewHub(logger)
	healthMonitor.OnChange(func(h domain.BackendHealth) {
		adminFeed.Broadcast(adminfeed.Event{Type: adminfeed.EventHealthChanged, Payload: h})
	})
	auditLogger.OnLog(func(entry domain.AuditLog) {
		adminFeed.Broadcast(adminfeed.Event{Type: adminfeed.EventAuditLogged, Payload: entry})
	})

	discoveryService := discovery.New(st, st, st, backendManager, healthMonitor, logger)

	go healthMonitor.Run(ctx, func(ctx context.Context) ([]string, error) {
		servers, err := st.ListServers(ctx)
		if err != nil {
			return nil, err
		}
		urls := make([]string, 0, len(servers))
		for _, s := range servers {
			if s.Enabled {
				urls = append(urls, s.URL)
			}
		}
		return urls, nil
	})

	go runDiscoveryLoop(ctx, discoveryService, cfg.Health.CheckInterval, logger)

	limiter := buildRateLimiter(redisClient, logger)

	deps := router.Dependencies{
		Config:        cfg,
		Logger:        logger,
		TokenVerifier: tokenVerifier,
		UserLookup:    rbacEngine,
		RBACChecker:   rbacEngine,
		RateLimiter:   limiter,
		AuditLogger:   auditLogger,
		MCPHandler:    handler.NewMCPHandler(discoveryService, backendManager, rbacEngine, st, logger),
		HealthHandler: handler.NewHealthHandler(healthCheckers),
		AuthHandler:   handler.NewAuthHandler(loginService, rbacEngine, rbacEngine),
		UserHandler:   handler.NewUserHandler(logger, rbacEngine),
		RoleHandler:   handler.NewRoleHandler(rbacEngine),
		ServerHandler: handler.NewServerHandler(logger, st, backendManager),
		OAuthHandler:  handler.NewOAuthHandler(logger, st),
		AuditHandler:  handler.NewAuditHandler(auditLogger),
		AdminFeed:     adminFeed,
	}

	r := router.New(deps)
	srv := server.New(cfg, r, logger, backendManager.Close)
	return srv.Start()
}

func openStore(cfg *config.Config, logger zerolog.Logger, checkers map[string]handler.HealthChecker) (store.Store, func(), error) {
	if cfg.Store.Backend == "memory" {
		logger.Warn().Msg("using in-memory store; data does not persist across restarts")
		return memory.New(), func() {}, nil
	}

	db, err := database.NewPostgres(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	checkers["database"] = db

	runner := database.NewMigrationRunner(db, logger)
	if err := runner.RunFromStrings(context.Background(), postgres.Migrations()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	st := postgres.New(db.DB, cfg.Store.EncryptionKey)
	return st, func() { db.Close() }, nil
}

func buildRateLimiter(redisClient *database.Redis, logger zerolog.Logger) *ratelimit.Limiter {
	return ratelimit.NewLimiter(redisClient, logger)
}

func runDiscoveryLoop(ctx context.Context, svc *discovery.Service, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := svc.RefreshToolIndex(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial tool discovery failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.RefreshToolIndex(ctx); err != nil {
				logger.Warn().Err(err).Msg("tool discovery refresh failed")
			}
		}
	}
}

func baseURL(cfg *config.Config) string {
	if cfg.IsDevelopment() {
		return "http://localhost:" + cfg.Server.Port
	}
	return "https://gateway.internal"
}
