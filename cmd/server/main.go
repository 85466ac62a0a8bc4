package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/sitegate/internal"
	"github.com/DukeRupert/sitegate/internal/billing"
	"github.com/DukeRupert/sitegate/internal/catalog"
	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/handler"
	"github.com/DukeRupert/sitegate/internal/metrics"
	"github.com/DukeRupert/sitegate/internal/middleware"
	"github.com/DukeRupert/sitegate/internal/repository"
	"github.com/DukeRupert/sitegate/internal/service"
	"github.com/DukeRupert/sitegate/internal/storage"
	"github.com/DukeRupert/sitegate/internal/store"
	"github.com/DukeRupert/sitegate/internal/worker"
)

// auditStore is both sides of the audit trail.
type auditStore interface {
	service.AuditRecorder
	handler.AuditReader
}

// backends holds the stores selected by configuration.
type backends struct {
	counters     service.CounterStore
	interactions service.InteractionStore
	subscribers  service.SubscriberStore
	audit        auditStore
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Load the tier catalog; a bad catalog stops startup
	cat, err := loadCatalog(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("catalog initialization failed: %w", err)
	}
	logger.Info("Catalog loaded", "source", cfg.CatalogSource, "tiers", len(cat.Tiers()))

	// Initialize database connection
	var db *sql.DB
	if cfg.UsesPostgres() {
		db, err = sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		if err := internal.RunMigrations(ctx, db, logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database ready")
	}

	b, closeBackends, err := openBackends(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeBackends()

	// Initialize services
	thresholds := domain.Thresholds{Warning: cfg.QuotaWarningThreshold, Critical: cfg.QuotaCriticalThreshold}

	subscriberService := service.NewSubscriberService(b.subscribers, logger.With("component", "subscribers"))
	quotaService := service.NewQuotaService(b.counters, logger.With("component", "quota"))
	accessService := service.NewAccessService(
		cat,
		quotaService,
		subscriberService,
		b.audit,
		service.AccessConfig{Thresholds: thresholds},
		logger.With("component", "access"),
	)
	promptService := service.NewPromptService(
		b.interactions,
		cat,
		service.PromptConfig{
			Cooldown:      cfg.PromptCooldown,
			PendingTTL:    cfg.PromptPendingTTL,
			DefaultSnooze: cfg.PromptDefaultSnooze,
		},
		logger.With("component", "prompts"),
	)

	// Billing is optional; without a webhook secret tier changes are ignored
	var billingService billing.Service
	if cfg.StripeWebhookSecret != "" {
		billingService = billing.NewStripeService(cfg.StripeWebhookSecret, billing.PriceConfig{
			UserMonthlyPriceID:       cfg.StripeUserMonthlyPriceID,
			UserYearlyPriceID:        cfg.StripeUserYearlyPriceID,
			TeamMonthlyPriceID:       cfg.StripeTeamMonthlyPriceID,
			TeamYearlyPriceID:        cfg.StripeTeamYearlyPriceID,
			EnterpriseMonthlyPriceID: cfg.StripeEnterpriseMonthlyPriceID,
			EnterpriseYearlyPriceID:  cfg.StripeEnterpriseYearlyPriceID,
		})
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, tier-change webhooks will be ignored")
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"

	apiKeys, err := middleware.ParseAPIKeys(cfg.APIKeys)
	if err != nil {
		return fmt.Errorf("API_KEYS: %w", err)
	}
	if cfg.APIKeyHash != "" {
		single, err := middleware.ParseAPIKeys("default:" + cfg.APIKeyHash)
		if err != nil {
			return fmt.Errorf("API_KEY_HASH: %w", err)
		}
		apiKeys = append(apiKeys, single...)
	}
	if len(apiKeys) == 0 {
		logger.Warn("No API keys configured, /v1 endpoints are unauthenticated")
	}
	apiKeyMw := middleware.NewAPIKeyMiddleware(apiKeys, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, logger)
	limiterDone := make(chan struct{})
	go limiter.Run(limiterDone)
	defer close(limiterDone)
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("database unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Metrics
	metricsAuth := middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))
	if cfg.MetricsUsername == "" || cfg.MetricsPassword == "" {
		logger.Warn("METRICS_USERNAME/METRICS_PASSWORD not set, /metrics is unprotected")
	}

	// Stripe webhook (signature verified, no API key)
	handler.NewWebhookHandler(billingService, subscriberService, logger.With("component", "webhook")).RegisterRoutes(mux)

	// Client API
	requireClient := middleware.Stack(apiKeyMw.RequireClient, rateLimitMw.Limit)

	handler.NewAccessHandler(accessService, logger).RegisterRoutes(mux, requireClient)
	handler.NewPromptHandler(promptService, subscriberService, logger).RegisterRoutes(mux, requireClient)
	handler.NewUsageHandler(cat, quotaService, subscriberService, thresholds, logger).RegisterRoutes(mux, requireClient)
	handler.NewAuditHandler(b.audit, logger).RegisterRoutes(mux, requireClient)

	// Global middleware, outermost first
	global := middleware.Stack(
		metrics.Middleware,
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
	)

	// ==========================================================================
	// Start maintenance worker
	// ==========================================================================

	var maintenance *worker.Worker
	if cfg.WorkerEnabled {
		wcfg := worker.DefaultConfig()
		wcfg.Interval = cfg.WorkerInterval
		if wcfg.TaskTimeout > wcfg.Interval {
			wcfg.TaskTimeout = wcfg.Interval
		}
		maintenance, err = worker.New(wcfg, logger.With("component", "worker"))
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		maintenance.Register(worker.NewPruneInteractionsTask(promptService, cfg.PromptRetention))
		maintenance.Start(ctx)
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           global(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if maintenance != nil {
		maintenance.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// loadCatalog reads the catalog from the configured source.
func loadCatalog(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*catalog.Catalog, error) {
	if cfg.CatalogSource == "embedded" {
		return catalog.Default()
	}

	src, err := storage.New(cfg.CatalogSource,
		storage.LocalConfig{BasePath: cfg.CatalogPath},
		storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		},
		logger.With("component", "storage"),
	)
	if err != nil {
		return nil, err
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return catalog.LoadFrom(loadCtx, src, cfg.CatalogKey)
}

// openBackends selects the stores. The returned func releases connections.
func openBackends(ctx context.Context, cfg *internal.Config, db *sql.DB, logger *slog.Logger) (*backends, func(), error) {
	b := &backends{}
	closeFn := func() {}

	switch cfg.StoreBackend {
	case store.BackendPostgres:
		queries := repository.New(db)
		b.interactions = store.NewPostgresInteractions(queries)
		b.subscribers = store.NewPostgresSubscribers(queries)
		b.audit = store.NewPostgresAudit(queries)
	default:
		b.interactions = store.NewMemoryInteractions()
		b.subscribers = store.NewMemorySubscribers()
		b.audit = store.NewMemoryAudit()
		logger.Warn("Using in-memory stores, state is lost on restart")
	}

	switch cfg.CounterStore {
	case store.BackendRedis:
		client, err := store.ConnectRedis(ctx, store.RedisConfig{
			URL:           cfg.RedisURL,
			RetryAttempts: 3,
			RetryInterval: time.Second,
			KeyPrefix:     cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		b.counters = store.NewRedisCounters(client, cfg.RedisKeyPrefix)
		closeFn = func() { closeRedis(client, logger) }
		logger.Info("Redis counter store ready")
	case store.BackendPostgres:
		b.counters = store.NewPostgresCounters(repository.New(db))
	default:
		b.counters = store.NewMemoryCounters()
	}

	return b, closeFn, nil
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Error("Failed to close redis client", "error", err)
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
