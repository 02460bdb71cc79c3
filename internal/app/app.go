package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/cmoptin/internal/auth"
	"github.com/cmoptin/internal/campaignmonitor"
	"github.com/cmoptin/internal/config"
	"github.com/cmoptin/internal/crypto"
	"github.com/cmoptin/internal/db"
	"github.com/cmoptin/internal/license"
	"github.com/cmoptin/internal/metrics"
	"github.com/cmoptin/internal/optin"
	"github.com/cmoptin/internal/settings"
	"github.com/cmoptin/internal/store"
)

// Version is set at build time.
var Version = "dev"

type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *sqlx.DB
	siteStore     *store.SiteStore
	settingsStore *store.SettingsStore
	licenseStore  *store.LicenseStore
	nonces        *auth.Nonces
	admin         auth.Admin
	directory     *campaignmonitor.Client
	injector      *optin.Injector
	controller    *settings.Controller
	metrics       *metrics.Metrics
}

func (app *App) Close() {
	app.db.Close()
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := newLogger(cfg)

	conn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	crypter, err := crypto.NewFromSecret(cfg.SettingsEncryptionKey)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("settings crypter: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	outbound := &http.Client{Timeout: cfg.OutboundTimeout}

	settingsStore := store.NewSettingsStore(conn, crypter)
	licenseStore := store.NewLicenseStore(conn)
	nonces := auth.NewNonces(cfg.NonceSecret)

	directory := campaignmonitor.New(cfg.CampaignMonitorURL, logger,
		campaignmonitor.WithHTTPClient(outbound),
		campaignmonitor.WithObserver(m),
	)
	activator := license.NewActivator(license.Config{
		Endpoint:   cfg.LicenseURL,
		ItemName:   cfg.LicenseItemName,
		HTTPClient: outbound,
		Logger:     logger,
		Observer:   m,
	})

	return &App{
		config:        cfg,
		logger:        logger,
		db:            conn,
		siteStore:     store.NewSiteStore(conn),
		settingsStore: settingsStore,
		licenseStore:  licenseStore,
		nonces:        nonces,
		admin:         auth.Admin{User: cfg.AdminUser, PasswordHash: cfg.AdminPasswordHash},
		directory:     directory,
		injector:      optin.New(directory, logger, optin.WithObserver(m)),
		controller:    settings.NewController(nonces, settingsStore, licenseStore, activator, logger),
		metrics:       m,
	}, nil
}

func (app *App) Start(ctx context.Context) error {
	// Create an errgroup derived from the parent context
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", app.config.Port),
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: writeTimeout(app.config.OutboundTimeout),
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelError),
	}

	// Start the server in a goroutine
	g.Go(func() error {
		app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.Env, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	// Start shutdown listener
	g.Go(func() error {
		<-gctx.Done() // Wait for OS signal or parent context to fail

		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	app.logger.Info("stopped server")
	return nil
}

// writeTimeout leaves room for one outbound budget on a settings request (a
// license call, or the shared client and list lookups) plus a second one for
// a render after a failed save.
func writeTimeout(outbound time.Duration) time.Duration {
	return 2*outbound + 10*time.Second
}

func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo

	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	slog.SetDefault(logger)
	return logger
}
