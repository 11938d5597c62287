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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mailloop/mailloop/internal/access"
	"github.com/mailloop/mailloop/internal/config"
	"github.com/mailloop/mailloop/internal/identity"
	"github.com/mailloop/mailloop/internal/notifications"
	"github.com/mailloop/mailloop/internal/notifications/email"
	notificationspostgres "github.com/mailloop/mailloop/internal/notifications/postgres"
	"github.com/mailloop/mailloop/internal/pkg/ctxlog"
	"github.com/mailloop/mailloop/internal/pkg/httputil"
	"github.com/mailloop/mailloop/internal/pkg/metrics"
	"github.com/mailloop/mailloop/internal/pkg/postgres"
	"github.com/mailloop/mailloop/internal/ratelimit"
	"github.com/mailloop/mailloop/internal/subscribers"
	subscriberspostgres "github.com/mailloop/mailloop/internal/subscribers/postgres"
	"github.com/mailloop/mailloop/internal/token"
	"github.com/mailloop/mailloop/internal/version"
	"github.com/mailloop/mailloop/migrations"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	outboxWorker  *notifications.Worker
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	if cfg.Database.Migrate {
		if err := postgres.Migrate(cfg.Database.URL, migrations.FS, "."); err != nil {
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
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, outboxWorker, err := app.setupRouter(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.outboxWorker = outboxWorker

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

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop the outbox worker before cancelling its context so in-flight
	// emails finish cleanly.
	if a.outboxWorker != nil {
		a.outboxWorker.Stop()
	}

	a.metricsCancel()

	// Shutdown both servers in parallel
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

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// OutboxWorker returns the outbox worker instance.
// Used in tests to access worker state. Returns nil if notifications disabled.
func (a *App) OutboxWorker() *notifications.Worker {
	return a.outboxWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *notifications.Worker, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	tokens := token.NewService(token.Config{
		Secret:       a.config.Auth.TokenSecret,
		MagicLinkTTL: a.config.Auth.MagicLinkTTL,
	})
	resolver := identity.NewResolver(tokens, a.config.Auth.AdminKeyHash)

	if a.config.Auth.AdminKeyHash == "" {
		slog.Warn("auth.admin_key_hash is not set: administrator access is disabled")
	}

	subscriberRepo := subscriberspostgres.NewRepository(a.db)

	// Setup notifications first (the identity and subscribers services hook
	// into it)
	var notificationsService *notifications.Service
	var outboxWorker *notifications.Worker

	slog.Info("notifications configured",
		"enabled", a.config.Notifications.Enabled,
		"email_enabled", a.config.Notifications.Email.Enabled,
	)

	if a.config.Notifications.Enabled {
		outboxRepo := notificationspostgres.NewRepository(a.db)

		emailSender, err := email.NewSender(email.Config{
			Enabled:      a.config.Notifications.Email.Enabled,
			SMTPHost:     a.config.Notifications.Email.SMTPHost,
			SMTPPort:     a.config.Notifications.Email.SMTPPort,
			SMTPUser:     a.config.Notifications.Email.SMTPUser,
			SMTPPassword: a.config.Notifications.Email.SMTPPassword,
			FromAddress:  a.config.Notifications.Email.FromAddress,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create email sender: %w", err)
		}

		if !a.config.Notifications.Email.Enabled {
			slog.Warn("email sender is disabled: magic links and lifecycle emails will not be delivered")
		}

		renderer, err := notifications.NewRenderer()
		if err != nil {
			return nil, nil, fmt.Errorf("create email renderer: %w", err)
		}

		notificationsService, err = notifications.NewService(notifications.Config{
			BaseURL:     a.config.Notifications.BaseURL,
			MaxAttempts: a.config.Notifications.Retry.MaxAttempts,
		}, outboxRepo)
		if err != nil {
			return nil, nil, fmt.Errorf("create notifications service: %w", err)
		}

		workerConfig := notifications.WorkerConfig{
			BatchSize:         a.config.Notifications.Worker.BatchSize,
			PollInterval:      a.config.Notifications.Worker.PollInterval,
			MaxAttempts:       a.config.Notifications.Retry.MaxAttempts,
			InitialBackoff:    a.config.Notifications.Retry.InitialBackoff,
			MaxBackoff:        a.config.Notifications.Retry.MaxBackoff,
			BackoffMultiplier: a.config.Notifications.Retry.BackoffMultiplier,
			NumWorkers:        a.config.Notifications.Worker.NumWorkers,
		}

		outboxWorker = notifications.NewWorker(workerConfig, outboxRepo, emailSender, renderer)
		outboxWorker.Start(ctx)

		notificationsService.StartStatsCollector(ctx, 15*time.Second)
	}

	// The nil checks below matter: a nil *notifications.Service inside a
	// non-nil interface value would dodge the services' own nil guards.
	identityService := identity.NewService(tokens, subscriberRepo, identityNotifier(notificationsService))
	identityHandler := identity.NewHandler(identityService, identity.CookieSettings{
		Secure: a.config.Cookie.Secure,
		Domain: a.config.Cookie.Domain,
	}, newLimiter(a.config.RateLimit.SignIn))

	policy := access.NewPolicy(access.Config{})
	subscribersService := subscribers.NewService(subscribers.Config{
		DoubleOptIn: a.config.Auth.DoubleOptIn,
	}, subscriberRepo, policy, identityService, subscribersNotifier(notificationsService))
	subscribersHandler := subscribers.NewHandler(subscribersService, newLimiter(a.config.RateLimit.Subscribe))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.ResolveIdentityMiddleware(resolver))

		subscribersHandler.RegisterPublicRoutes(r)
		identityHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(resolver))
			subscribersHandler.RegisterProtectedRoutes(r)
		})
	})

	return r, outboxWorker, nil
}

func identityNotifier(s *notifications.Service) identity.Notifier {
	if s == nil {
		return nil
	}
	return s
}

func subscribersNotifier(s *notifications.Service) subscribers.Notifier {
	if s == nil {
		return nil
	}
	return s
}

func newLimiter(cfg config.BucketConfig) ratelimit.Limiter {
	if cfg.Rate <= 0 {
		return nil
	}
	return ratelimit.NewMemoryLimiter(ratelimit.Config{
		Rate:  cfg.Rate,
		Burst: cfg.Burst,
		TTL:   cfg.TTL,
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

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
