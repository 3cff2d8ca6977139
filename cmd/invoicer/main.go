package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/invoicer/pkg/api"
	"github.com/platinummonkey/invoicer/pkg/async"
	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/billing"
	"github.com/platinummonkey/invoicer/pkg/config"
	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/pdf"
	"github.com/platinummonkey/invoicer/pkg/plans"
	"github.com/platinummonkey/invoicer/pkg/storage"
	"github.com/platinummonkey/invoicer/pkg/storage/postgres"
	"github.com/platinummonkey/invoicer/pkg/users"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const brand = "Invoicer"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Environment:    cfg.Observability.OTelEnvironment,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Postgres
	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	var startup startupResources
	defer func() {
		if err := startup.release(); err != nil {
			logger.WithError(err).Warn("Failed to release resources after startup error")
		}
	}()
	startup.add(conns.Close)

	db := conns.Primary()
	if cfg.Storage.RunMigrations {
		logger.Info("Running database migrations")
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}
	healthCtx, stopHealth := context.WithCancel(ctx)
	conns.StartHealthCheckRoutine(healthCtx, 30*time.Second)
	startup.add(func() error {
		stopHealth()
		return nil
	})

	// Redis is optional; without it caches and rate limits stay per process
	var redisClient *postgres.RedisClient
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing with in-process cache and rate limiting")
			redisClient = nil
		} else {
			startup.add(redisClient.Close)
		}
	}

	store, err := newObjectStore(ctx, cfg.Storage, metrics)
	if err != nil {
		return err
	}

	// Plans
	enforcer := plans.NewEnforcer(nil, metrics)
	if cfg.Plans.CatalogPath != "" {
		watcher, err := plans.NewWatcher(cfg.Plans.CatalogPath, enforcer, logger)
		if err != nil {
			return fmt.Errorf("failed to load plan catalog: %w", err)
		}
		if cfg.Plans.Watch {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logger.WithError(err).Error("Plan catalog watcher stopped")
				}
			}()
		}
	}

	// Domain services
	var userRepo users.Repository = users.NewPostgresRepository(db)
	if cfg.Storage.CacheEnabled {
		var shared users.JSONCache
		if redisClient != nil {
			shared = redisClient
		}
		userRepo = users.NewCachedRepository(userRepo, shared, cfg.Storage.L1CacheSize,
			cfg.Storage.TTL("user", 5*time.Minute), metrics, logger)
	}

	invoices := invoice.NewPostgresService(db, userRepo, enforcer, metrics)
	invoices.SetReader(conns.Replica)

	runner := async.NewRunner(logger)
	pdfConfig := pdf.DefaultConfig()
	pdfConfig.CacheTTL = cfg.Storage.TTL("pdf", pdfConfig.CacheTTL)
	documents := pdf.NewService(pdf.NewRenderer(brand), store, invoices, runner, pdfConfig, metrics, logger)

	var gateway billing.Gateway
	if cfg.Billing.Enabled() {
		gateway = billing.NewStripeGateway(cfg.Billing.StripeSecretKey, cfg.Billing.StripeWebhookSecret)
	} else {
		logger.Warn("Stripe is not configured, billing endpoints will return 503")
	}
	billingService := billing.NewService(db, gateway, userRepo, billing.ServiceConfig{
		AppURL:     cfg.Server.AppURL,
		ProPriceID: cfg.Billing.StripeProPriceID,
	}, metrics, logger)

	var sso api.SingleSignOn
	if cfg.Auth.OIDCEnabled() {
		provider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.Auth.OIDCIssuerURL,
			ClientID:     cfg.Auth.OIDCClientID,
			ClientSecret: cfg.Auth.OIDCClientSecret,
			RedirectURL:  cfg.Auth.OIDCRedirectURL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC: %w", err)
		}
		sso = provider
	}

	limiter := newLimiter(ctx, cfg.Server, redisClient)

	server := api.NewServer(api.Config{
		AppURL:         cfg.Server.AppURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		SecureCookies:  strings.HasPrefix(cfg.Server.AppURL, "https://"),
		Tracing:        otel != nil,
	}, api.Dependencies{
		Users:     userRepo,
		Invoices:  invoices,
		Documents: documents,
		Billing:   billingService,
		Logos:     store,
		Tokens:    auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		SSO:       sso,
		Enforcer:  enforcer,
		Limiter:   limiter,
		Metrics:   metrics,
		Logger:    logger,
	})

	// Health and metrics listen on their own port
	checker := observability.NewHealthChecker(db, rawRedis(redisClient))
	checker.SetVersion(version)
	checker.AddCheck("object_store", true, store)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
		go recordDBStats(ctx, metrics, conns)
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otel, logger)
	})
	// pending archive uploads still need the database
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		if err := runner.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Background tasks did not finish")
		}
		stopHealth()
		cancel()
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				return err
			}
		}
		return conns.Close()
	})

	startup.disarm()

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	logger.WithFields(map[string]interface{}{
		"version":      version,
		"object_store": cfg.Storage.ObjectStoreType,
		"redis":        redisClient != nil,
		"billing":      billingService.Enabled(),
		"oidc":         sso != nil,
	}).Info("Invoicer API started")

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("Listener failed")
			stopWaiting()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

// newObjectStore returns the configured blob backend
func newObjectStore(ctx context.Context, cfg storage.Config, metrics *observability.Metrics) (storage.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "filesystem":
		store, err := storage.NewFileSystemStore(cfg.FilesystemRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize filesystem store: %w", err)
		}
		return store, nil
	default:
		s3Client, err := postgres.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to S3: %w", err)
		}
		s3Client.SetMetrics(metrics)
		return s3Client, nil
	}
}

// newLimiter prefers the shared Redis window so every replica counts the
// same requests, and falls back to an in-process token bucket.
func newLimiter(ctx context.Context, cfg config.ServerConfig, redisClient *postgres.RedisClient) middleware.Limiter {
	if cfg.RateLimitRequests <= 0 {
		return nil
	}
	rlConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimitRequests,
		WindowDuration:    cfg.RateLimitWindow,
		BurstSize:         cfg.RateLimitRequests / 10,
	}
	if redisClient != nil {
		return middleware.NewDistributedRateLimiter(redisClient.Client(), rlConfig, "ratelimit")
	}
	limiter := middleware.NewRateLimiter(rlConfig)
	limiter.StartCleanup(ctx)
	return limiter
}

func rawRedis(c *postgres.RedisClient) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client()
}

func recordDBStats(ctx context.Context, metrics *observability.Metrics, conns *postgres.ConnectionManager) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.RecordDBStats(conns.Primary())
		}
	}
}
