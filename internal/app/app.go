// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bissquit/incident-tracker/internal/audit"
	"github.com/bissquit/incident-tracker/internal/config"
	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/incidents"
	"github.com/bissquit/incident-tracker/internal/maintenance"
	"github.com/bissquit/incident-tracker/internal/notifications"
	"github.com/bissquit/incident-tracker/internal/notifications/mattermost"
	"github.com/bissquit/incident-tracker/internal/pkg/auth"
	"github.com/bissquit/incident-tracker/internal/pkg/clock"
	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/bissquit/incident-tracker/internal/pkg/metrics"
	"github.com/bissquit/incident-tracker/internal/pkg/postgres"
	"github.com/bissquit/incident-tracker/internal/reporting"
	"github.com/bissquit/incident-tracker/internal/sla"
	"github.com/bissquit/incident-tracker/internal/store"
	"github.com/bissquit/incident-tracker/internal/store/memory"
	storepostgres "github.com/bissquit/incident-tracker/internal/store/postgres"
	"github.com/bissquit/incident-tracker/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// backend is implemented by every store driver.
type backend interface {
	store.Store
	audit.Sink
	audit.Reader
	reporting.Repository
}

// onCallUsers mirrors the users seeded by the database migrations.
var onCallUsers = []domain.User{
	{ID: "oncall-primary", DisplayName: "Primary on-call"},
	{ID: "oncall-secondary", DisplayName: "Secondary on-call"},
}

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool // nil for the memory store
	store         backend
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	job       *maintenance.Job
	scheduler *maintenance.Scheduler
	notifier  *notifications.EscalationNotifier
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		metricsCancel: metricsCancel,
	}

	if err := app.openStore(); err != nil {
		metricsCancel()
		return nil, err
	}

	if app.db != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	router, err := app.setupRouter(metricsCtx)
	if err != nil {
		app.closeStore()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) openStore() error {
	cfg := a.config

	if cfg.Storage.Driver == config.StorageMemory {
		a.logger.Warn("using in-memory store, data is lost on restart")
		st := memory.New()
		for _, u := range onCallUsers {
			st.AddUser(u)
		}
		a.store = st
		return nil
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	// Migrations run after the pool is up so the connect retries cover a
	// database that is still starting.
	if cfg.Database.Migrate {
		if err := postgres.Migrate(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			db.Close()
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	a.db = db
	a.store = storepostgres.NewRepository(db)
	return nil
}

func (a *App) closeStore() {
	if a.db != nil {
		a.db.Close()
	}
}

// Run starts the HTTP servers and the maintenance scheduler.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"storage", a.config.Storage.Driver,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop producers before the notifier so queued alerts are drained
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.job.Stop()
	if a.notifier != nil {
		a.notifier.Stop()
	}

	a.metricsCancel()

	var g errgroup.Group
	g.Go(func() error {
		if err := a.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})
	err := g.Wait()

	a.closeStore()
	return err
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// MaintenanceJob returns the maintenance job. Used in tests to wait for runs.
func (a *App) MaintenanceJob() *maintenance.Job {
	return a.job
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	cfg := a.config

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	slaConfig, err := cfg.SLA.EngineConfig()
	if err != nil {
		return nil, err
	}
	engine, err := sla.NewEngine(slaConfig)
	if err != nil {
		return nil, fmt.Errorf("create sla engine: %w", err)
	}

	clk := clock.System{}
	auditLogger := audit.NewLogger(a.store)

	incidentsService := incidents.NewService(a.store, engine, auditLogger, clk)
	incidentsHandler := incidents.NewHandler(incidentsService)

	reportingHandler := reporting.NewHandler(reporting.NewService(a.store, auditLogger))
	auditHandler := audit.NewHandler(a.store)

	var notifier maintenance.Notifier
	if mm := cfg.Notifications.Mattermost; mm.WebhookURL != "" {
		renderer, err := notifications.NewRenderer()
		if err != nil {
			return nil, fmt.Errorf("create notification renderer: %w", err)
		}

		sender := mattermost.NewSender(mattermost.Config{
			DefaultUsername: mm.Username,
			DefaultIconURL:  mm.IconURL,
			Timeout:         mm.Timeout,
		})

		a.notifier = notifications.NewEscalationNotifier(notifications.NotifierConfig{
			WebhookURL:    mm.WebhookURL,
			QueueSize:     mm.QueueSize,
			RatePerMinute: mm.RatePerMinute,
			MaxAttempts:   mm.MaxAttempts,
		}, sender, renderer)
		a.notifier.Start(ctx)
		notifier = a.notifier
	} else {
		a.logger.Info("escalation alerts disabled: no mattermost webhook configured")
	}

	a.job = maintenance.NewJob(maintenance.Config{Retention: cfg.Maintenance.Retention},
		a.store, clk, auditLogger, notifier)
	maintenanceHandler := maintenance.NewHandler(a.job, maintenance.HandlerConfig{
		Tenant:      cfg.Maintenance.Tenant,
		MinInterval: cfg.Maintenance.TriggerMinInterval,
	})

	if cfg.Maintenance.Enabled {
		a.scheduler, err = maintenance.NewScheduler(maintenance.SchedulerConfig{
			Schedule: cfg.Maintenance.Schedule,
			Tenant:   cfg.Maintenance.Tenant,
		}, a.job, a.logger)
		if err != nil {
			return nil, err
		}
	}

	var authenticator *auth.Authenticator
	if cfg.Auth.Enabled {
		authenticator, err = auth.NewAuthenticator(auth.Config{
			SecretKey: cfg.Auth.SecretKey,
			Issuer:    cfg.Auth.Issuer,
			TokenTTL:  cfg.Auth.TokenTTL,
		})
		if err != nil {
			return nil, err
		}
	} else {
		a.logger.Warn("authentication disabled: write endpoints are public")
	}

	r.Route("/api/v1", func(r chi.Router) {
		incidentsHandler.RegisterReadRoutes(r)
		reportingHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			if authenticator != nil {
				r.Use(httputil.AuthMiddleware(authenticator))
			}

			incidentsHandler.RegisterWriteRoutes(r)
			maintenanceHandler.RegisterRoutes(r)
			auditHandler.RegisterRoutes(r)
		})
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		httputil.Text(w, http.StatusOK, "OK")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

// initLogger builds the process logger. Unknown levels fall back to info.
func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
