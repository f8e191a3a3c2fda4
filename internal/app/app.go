// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/newsletter/internal/analytics"
	analyticspostgres "github.com/bissquit/newsletter/internal/analytics/postgres"
	"github.com/bissquit/newsletter/internal/config"
	"github.com/bissquit/newsletter/internal/domain"
	"github.com/bissquit/newsletter/internal/notifications"
	"github.com/bissquit/newsletter/internal/notifications/email"
	"github.com/bissquit/newsletter/internal/notifications/ses"
	"github.com/bissquit/newsletter/internal/pkg/ctxlog"
	"github.com/bissquit/newsletter/internal/pkg/httputil"
	"github.com/bissquit/newsletter/internal/pkg/metrics"
	"github.com/bissquit/newsletter/internal/pkg/postgres"
	"github.com/bissquit/newsletter/internal/signup"
	"github.com/bissquit/newsletter/internal/subscribers"
	subscriberspostgres "github.com/bissquit/newsletter/internal/subscribers/postgres"
	"github.com/bissquit/newsletter/internal/tracking"
	"github.com/bissquit/newsletter/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config             *config.Config
	logger             *slog.Logger
	db                 *pgxpool.Pool
	server             *http.Server
	metricsServer      *http.Server
	backgroundCancel   context.CancelFunc
	notificationWorker *notifications.Worker
	tracker            *tracking.Tracker
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Database.MigrationsPath != "" {
		if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ApplicationName: cfg.Database.ApplicationName,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())

	app := &App{
		config:           cfg,
		logger:           logger,
		db:               db,
		backgroundCancel: backgroundCancel,
	}

	go app.collectDBMetrics(backgroundCtx)

	router, err := app.setupRouter(backgroundCtx)
	if err != nil {
		backgroundCancel()
		if app.notificationWorker != nil {
			app.notificationWorker.Stop()
		}
		db.Close()
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

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	// Stop the worker once no handler can enqueue.
	if a.notificationWorker != nil {
		a.notificationWorker.Stop()
	}
	a.backgroundCancel()

	if err := a.tracker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tracking log: %w", err))
	}

	a.db.Close()

	return errors.Join(errs...)
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

func (a *App) cleanupRateLimiter(ctx context.Context, limiter *httputil.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			limiter.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// NotificationWorker returns the notification worker instance.
// Used in tests to access worker state. Returns nil if notifications disabled.
func (a *App) NotificationWorker() *notifications.Worker {
	return a.notificationWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.Recoverer)
	requestTimeout := a.config.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", a.healthHandler)
	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	subscribersRepo := subscriberspostgres.NewRepository(a.db, a.config.Database.LockTimeout)
	if err := a.seedCampaign(ctx, subscribersRepo); err != nil {
		return nil, err
	}
	subscribersService := subscribers.NewService(subscribersRepo)
	subscribersHandler := subscribers.NewHandler(subscribersService)

	engine := analytics.NewEngine(analyticspostgres.NewRepository(a.db), a.config.Newsletter.Launch)
	analyticsHandler, err := analytics.NewHandler(engine)
	if err != nil {
		return nil, fmt.Errorf("create analytics handler: %w", err)
	}

	worker, err := a.setupNotifications(ctx, subscribersRepo)
	if err != nil {
		return nil, err
	}
	a.notificationWorker = worker

	var welcomeQueue signup.WelcomeQueue
	if worker != nil {
		welcomeQueue = worker
	}
	signupService := signup.NewService(subscribersRepo, welcomeQueue, signup.Defaults{
		Source:   a.config.Newsletter.DefaultSource,
		Campaign: a.config.Newsletter.DefaultCampaign,
	})
	signupHandler := signup.NewHandler(signupService)

	a.tracker = tracking.New(tracking.Config{
		Path:       a.config.Tracking.Path,
		MaxSizeMB:  a.config.Tracking.MaxSizeMB,
		MaxBackups: a.config.Tracking.MaxBackups,
		MaxAgeDays: a.config.Tracking.MaxAgeDays,
		Compress:   a.config.Tracking.Compress,
	})
	trackingHandler := tracking.NewHandler(a.tracker)

	r.Group(func(r chi.Router) {
		if a.config.RateLimit.Enabled {
			limiter := httputil.NewRateLimiter(
				a.config.RateLimit.RequestsPerSecond,
				a.config.RateLimit.Burst,
				a.config.RateLimit.TTL,
			)
			go a.cleanupRateLimiter(ctx, limiter)
			r.Use(limiter.Middleware)
		}

		signupHandler.RegisterRoutes(r)
		trackingHandler.RegisterRoutes(r)
	})

	analyticsHandler.RegisterPublicRoutes(r)
	subscribersHandler.RegisterPublicRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(httputil.AdminTokenMiddleware(a.config.Admin.Token))

		analyticsHandler.RegisterAdminRoutes(r)
		subscribersHandler.RegisterAdminRoutes(r)
	})

	return r, nil
}

func (a *App) seedCampaign(ctx context.Context, repo subscribers.Repository) error {
	seed := a.config.Newsletter.Campaign
	if seed.ID == "" {
		return nil
	}

	start := time.Now().UTC()
	if seed.StartDate != "" {
		parsed, err := time.Parse(time.RFC3339, seed.StartDate)
		if err != nil {
			return fmt.Errorf("parse campaign start date: %w", err)
		}
		start = parsed.UTC()
	}

	name := seed.Name
	if name == "" {
		name = seed.ID
	}

	if err := repo.EnsureCampaign(ctx, &domain.Campaign{
		ID:          seed.ID,
		Name:        name,
		Description: seed.Description,
		StartDate:   start,
		Status:      domain.CampaignStatusActive,
		Metadata:    map[string]any{},
	}); err != nil {
		return fmt.Errorf("seed campaign: %w", err)
	}
	return nil
}

func (a *App) setupNotifications(ctx context.Context, recorder notifications.DeliveryRecorder) (*notifications.Worker, error) {
	cfg := a.config.Notifications

	slog.Info("notifications configured",
		"enabled", cfg.Enabled,
		"provider", cfg.Provider,
		"email_enabled", cfg.Email.Enabled,
	)

	if !cfg.Enabled {
		return nil, nil
	}

	var sender notifications.Sender
	switch cfg.Provider {
	case config.ProviderSES:
		s, err := ses.NewSender(ctx, ses.Config{
			Region:           cfg.SES.Region,
			FromAddress:      cfg.SES.FromAddress,
			FromName:         cfg.SES.FromName,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("create ses sender: %w", err)
		}
		sender = s
	default:
		s, err := email.NewSender(email.Config{
			Enabled:      cfg.Email.Enabled,
			SMTPHost:     cfg.Email.SMTPHost,
			SMTPPort:     cfg.Email.SMTPPort,
			SMTPUser:     cfg.Email.SMTPUser,
			SMTPPassword: cfg.Email.SMTPPassword,
			FromAddress:  cfg.Email.FromAddress,
			FromName:     cfg.Email.FromName,
		})
		if err != nil {
			return nil, fmt.Errorf("create email sender: %w", err)
		}
		if !cfg.Email.Enabled {
			slog.Warn("email sender is disabled: welcome emails will not be sent")
		}
		sender = s
	}

	renderer, err := notifications.NewRenderer(notifications.RendererConfig{
		ProductName:    a.config.Newsletter.ProductName,
		SiteURL:        a.config.Newsletter.SiteURL,
		UnsubscribeURL: a.config.Newsletter.UnsubscribeURL,
		LaunchDate:     a.config.Newsletter.Launch,
	})
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	worker := notifications.NewWorker(notifications.WorkerConfig{
		NumWorkers:        cfg.Worker.NumWorkers,
		QueueSize:         cfg.Worker.QueueSize,
		SendTimeout:       cfg.Worker.SendTimeout,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}, sender, renderer, recorder)
	worker.Start(ctx)

	return worker, nil
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	database := "connected"
	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Warn("database ping failed", "error", err)
		database = "unavailable"
	}

	httputil.JSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Service:  "newsletter",
		Version:  version.Version,
		Database: database,
	})
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
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

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
