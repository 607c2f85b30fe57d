package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrun/internal/domain/audit"
	"payrun/internal/domain/directory"
	"payrun/internal/domain/payroll"
	"payrun/internal/platform/cache"
	"payrun/internal/platform/config"
	cryptoutil "payrun/internal/platform/crypto"
	"payrun/internal/platform/db"
	"payrun/internal/platform/metrics"
	"payrun/internal/platform/outbox"
	"payrun/internal/transport/http/api"
	audithandler "payrun/internal/transport/http/handlers/audit"
	payrollhandler "payrun/internal/transport/http/handlers/payroll"
	"payrun/internal/transport/http/middleware"
)

const shutdownTimeout = 15 * time.Second

type AuditStore interface {
	payrollhandler.AuditLog
	audithandler.Lister
}

// Deps is everything the HTTP surface needs. Ready reports whether backing
// services answer; a nil Ready is always ready.
type Deps struct {
	Config      config.Config
	Logger      *zap.Logger
	Payroll     *payroll.Service
	Audit       AuditStore
	Metrics     *metrics.Collector
	Idempotency middleware.IdempotencyStore
	Ready       func(ctx context.Context) error
}

func NewRouter(deps Deps) http.Handler {
	var recorder middleware.MetricsRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer(deps.Logger))
	router.Use(middleware.Logger(deps.Logger, recorder))
	router.Use(middleware.SecureHeaders(deps.Config.Environment == "production"))
	router.Use(middleware.BodyLimit(deps.Config.MaxBodyBytes))
	router.Use(middleware.Auth(deps.Config.JWTSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, map[string]string{"status": "ok"}, middleware.GetRequestID(r.Context()))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				deps.Logger.Warn("readiness check failed", zap.Error(err))
				api.Fail(w, http.StatusServiceUnavailable, "not_ready", "dependencies not ready", middleware.GetRequestID(r.Context()))
				return
			}
		}
		api.Success(w, map[string]string{"status": "ready"}, middleware.GetRequestID(r.Context()))
	})

	if deps.Config.MetricsEnabled && deps.Metrics != nil {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, deps.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	var idempotent func(http.Handler) http.Handler
	if deps.Idempotency != nil {
		idempotent = middleware.Idempotency(deps.Idempotency, deps.Logger)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Config.RateLimitPerMinute, time.Minute, deps.Logger))

		payrollhandler.NewHandler(deps.Payroll, deps.Audit, deps.Logger, idempotent).RegisterRoutes(r)
		if deps.Audit != nil {
			audithandler.NewHandler(deps.Audit, deps.Logger).RegisterRoutes(r)
		}
	})

	return router
}

// Run wires the production stack and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	crypto, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}

	collector := metrics.New()
	auditService := audit.New(pool)
	store := payroll.NewStore(pool).WithJournal(outbox.NewJournal(cfg.KafkaTopic))

	service := payroll.NewService(
		store,
		directory.NewStore(pool, crypto).Sources(),
		payroll.WithLogger(logger),
		payroll.WithMetrics(collector),
		payroll.WithConcurrency(cfg.DraftConcurrency),
		payroll.WithResolveTimeout(cfg.ResolveTimeout),
		payroll.WithNetVarianceThreshold(decimal.NewFromFloat(cfg.NetVarianceThreshold)),
		payroll.WithListener(payroll.LogListener(logger.Named("payroll.events"))),
	)

	deps := Deps{
		Config:  cfg,
		Logger:  logger,
		Payroll: service,
		Audit:   auditService,
		Metrics: collector,
		Ready:   pool.Ping,
	}

	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, 5, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		deps.Idempotency = cache.NewIdempotencyStore(rdb, cfg.IdempotencyTTL)
		deps.Ready = func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		}
	} else {
		logger.Warn("REDIS_ADDR not set, idempotency keys are ignored")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("payroll server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("payroll server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
