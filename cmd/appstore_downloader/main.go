package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/appstore_downloader/internal/catalog"
	"github.com/italolelis/appstore_downloader/internal/cleanup"
	"github.com/italolelis/appstore_downloader/internal/config"
	"github.com/italolelis/appstore_downloader/internal/downloader"
	"github.com/italolelis/appstore_downloader/internal/http/rest"
	"github.com/italolelis/appstore_downloader/internal/installer"
	"github.com/italolelis/appstore_downloader/internal/logctx"
	"github.com/italolelis/appstore_downloader/internal/notifier"
	"github.com/italolelis/appstore_downloader/internal/storage/sqlite"
	"github.com/italolelis/appstore_downloader/internal/telemetry"
	"github.com/italolelis/appstore_downloader/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("appstore downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedSessionRepository(database, tel)

	// =========================================================================
	// Start Download Session Manager
	fetcher := transfer.NewInstrumentedFetcher(transfer.NewHTTPFetcher(cfg.ConnectTimeout), tel)
	manager := downloader.NewManager(filepath.Join(cfg.TargetDir, cfg.ArtifactName), fetcher, repo, tel)

	// =========================================================================
	// Start Catalog Poller
	poller := catalog.NewPoller(catalog.NewClient(cfg.CatalogURL, cfg.CatalogTimeout), cfg.CatalogPollInterval, tel)

	inst := installer.NewCommandInstaller(cfg.InstallCommand, tel)

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, tel, rest.NewHandler(
		manager, poller, inst, repo, cfg.CatalogImageBaseURL,
		rest.Credentials{Username: cfg.Web.Username, Password: cfg.Web.Password},
	))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		return poller.Run(gctx)
	})

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		events, unsubscribe := manager.Subscribe()

		g.Go(func() error {
			defer unsubscribe()

			return notifier.WatchSessions(gctx, events, notifier.NewDiscordNotifier(cfg.DiscordWebhookURL))
		})
	}

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		return cleanup.Run(gctx, repo, cfg.CleanupInterval, cfg.KeepDownloadedFor, manager.WhileIdle)
	})

	logger.Info("waiting for downloads...",
		"catalog_url", cfg.CatalogURL,
		"target", manager.Destination(),
		"poll_interval", cfg.CatalogPollInterval.String(),
		"retention", cfg.KeepDownloadedFor.String(),
	)

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests and the running transfer a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("download did not stop in time", "err", err)
		}

		return nil
	})

	return g.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, api *rest.Handler) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", api.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "api"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
