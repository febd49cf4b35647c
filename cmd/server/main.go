package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shehryarbajwa/certfetch/internal/api"
	"github.com/shehryarbajwa/certfetch/internal/browser"
	"github.com/shehryarbajwa/certfetch/internal/config"
	"github.com/shehryarbajwa/certfetch/internal/fetch"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc"
	"github.com/shehryarbajwa/certfetch/internal/qr"
	"github.com/shehryarbajwa/certfetch/internal/session"
	"github.com/shehryarbajwa/certfetch/internal/workflow"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Info("no .env file found, using system environment variables")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting certfetch", "engine", cfg.BrowserEngine, "mode", cfg.BrowserMode)

	launcher, closeLauncher, err := newLauncher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLauncher()

	attach, err := session.AttachFor(cfg.BrowserEngine)
	if err != nil {
		return err
	}
	sessions := session.NewManager(launcher, attach, session.Config{
		MaxSessions: cfg.MaxSessions,
		Stealth:     cfg.Stealth,
		Logger:      logger,
	})

	engine := pdfdoc.NewFitzEngine()
	extractor := qr.NewExtractor(engine, qr.Config{DPI: cfg.QRDPI, Logger: logger})
	fetcher := fetch.New(fetch.Config{
		Timeout:   cfg.FetchTimeout,
		MaxBytes:  cfg.FetchMaxBytes,
		UserAgent: cfg.FetchUserAgent,
		Logger:    logger,
	})
	qrCfg := workflow.QRConfig{RenderDPI: cfg.RenderDPI, StrictPDF: cfg.StrictPDF, Logger: logger}

	handler := api.NewHandler(
		workflow.NewFormWorkflow(sessions, cfg.Portals.Fiti, logger),
		workflow.NewAuthQRWorkflow(extractor, sessions, fetcher, engine, cfg.Portals.Katri, qrCfg),
		workflow.NewDirectQRWorkflow(extractor, fetcher, engine, qrCfg),
		api.Options{
			MaxUploadBytes: cfg.MaxUploadBytes,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         logger,
		},
	)

	// Create HTTP server. Browser workflows run well past the usual write
	// timeout, so it follows the request timeout.
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-quit:
	}

	logger.Info("shutting down server gracefully")

	// In-flight workflows release their browsers before returning, so give
	// them as long as a request may take.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("server stopped cleanly", "active_sessions", sessions.Active())
	return nil
}

// newLauncher builds the browser launcher for the configured mode. The
// returned func frees launcher-wide resources.
func newLauncher(cfg config.Config, logger *slog.Logger) (browser.Launcher, func(), error) {
	switch cfg.BrowserMode {
	case "container":
		cl, err := browser.NewContainerLauncher(browser.ContainerConfig{Image: cfg.BrowserImage, Logger: logger})
		if err != nil {
			return nil, nil, err
		}

		// Ensure Chrome image is available
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		logger.Info("ensuring browser image is available", "image", cfg.BrowserImage)
		if err := cl.EnsureImage(ctx); err != nil {
			cl.Close()
			return nil, nil, err
		}
		return cl, func() { cl.Close() }, nil
	default:
		return browser.NewLocalLauncher(browser.LocalConfig{
			ChromePath:   cfg.ChromePath,
			AutoDownload: cfg.AutoDownload,
			NoSandbox:    cfg.NoSandbox,
			Logger:       logger,
		}), func() {}, nil
	}
}
