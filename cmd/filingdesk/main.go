package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filingdesk/filingdesk/internal/app"
	"github.com/filingdesk/filingdesk/internal/audit"
	audithttp "github.com/filingdesk/filingdesk/internal/audit/http"
	"github.com/filingdesk/filingdesk/internal/auth"
	"github.com/filingdesk/filingdesk/internal/filings"
	jobmetrics "github.com/filingdesk/filingdesk/internal/jobs"
	"github.com/filingdesk/filingdesk/internal/observability"
	"github.com/filingdesk/filingdesk/internal/platform/cache"
	"github.com/filingdesk/filingdesk/internal/platform/db"
	"github.com/filingdesk/filingdesk/internal/shared"
	"github.com/filingdesk/filingdesk/internal/users"
	"github.com/filingdesk/filingdesk/internal/view"
)

const (
	idempotencyRetention = 24 * time.Hour
	idempotencySweep     = time.Hour
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown command %q (want serve or migrate)", command)
	}
	if err != nil {
		logger.Error("filingdesk exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", slog.Int("count", applied))
	return nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	tracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    app.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTELExporterEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.PGAutoMigrate {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", slog.Int("count", applied))
	}

	redisClient, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	usersService := users.NewService(users.NewRepository(pool), users.Options{
		AllowAdminSignup: cfg.AllowAdminSignup,
		BcryptCost:       cfg.BcryptCost,
	})
	authService := auth.NewService(auth.NewRepository(pool))
	authHandler := auth.NewHandler(logger, authService, usersService, templates, sessionManager, csrfManager, cfg.AllowAdminSignup)

	filingService := filings.NewService(filings.NewRepository(pool), auditLogger, metrics, logger)
	idempotency := shared.NewIdempotencyStore(pool)
	all := filings.ScopeAll

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthService:    authService,
		AuthHandler:    authHandler,
		UsersHandler:   users.NewHandler(logger, usersService),
		FilingsHandler: filings.NewHandler(logger, filingService).WithIdempotency(idempotency),
		AuditHandler:   audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
		DashboardPages: filings.NewPagesHandler(logger, filingService, templates, csrfManager, "/dashboard", nil),
		AdminPages:     filings.NewPagesHandler(logger, filingService, templates, csrfManager, "/admin", &all),
		Database:       pool,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	g.Go(func() error {
		return jobmetrics.Every(gctx, logger, jobs, "idempotency.sweep", idempotencySweep, func(ctx context.Context) (int64, error) {
			return idempotency.Cleanup(ctx, idempotencyRetention)
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		return tracing.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
