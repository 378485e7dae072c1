package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spesa/internal/backend"
	"spesa/internal/cache"
	"spesa/internal/cli"
	"spesa/internal/core"
	"spesa/internal/flow"
	apphttp "spesa/internal/http"
	applog "spesa/internal/log"
	"spesa/internal/metrics"
	"spesa/internal/scanner"
	"spesa/internal/services"
	"spesa/internal/sheets"
)

func main() {
	loaded := cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(logger)

	people, err := cfg.People()
	if err != nil {
		logger.Error("Invalid participants", applog.FieldError, err)
		os.Exit(1)
	}

	// Collaborator calls are bounded by their contexts.
	client := &http.Client{}

	factory := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger, client)
	be, err := factory.CreateBackend(context.Background(), backend.FromAppConfig(cfg))
	if err != nil {
		logger.Error("Failed to initialize backend",
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeConfiguration,
			applog.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	var receipts sheets.ReceiptScanner
	if cfg.OCRBackendURL != "" {
		sc, err := scanner.New(cfg.OCRBackendURL, client, cfg.MaxUploadBytes)
		if err != nil {
			logger.Error("Failed to initialize receipt scanner", applog.FieldError, err)
			os.Exit(1)
		}
		receipts = sc
	} else {
		logger.Warn("OCR_BACKEND_URL not set, receipt scanning disabled")
	}

	m := metrics.New()
	coord := flow.NewCoordinator()
	coord.Observe(m.ObserveOperation)

	summaries := cache.NewLRUCache[core.Summary](100, cfg.SummaryCacheTTL)
	janitor := cache.NewJanitor()
	janitor.Register(summaries)

	svc := services.NewExpenseService(be.Store, be.Summaries, receipts, services.Options{
		People:       people,
		Coordinator:  coord,
		StoreTimeout: cfg.StoreTimeout,
		ScanTimeout:  cfg.ScanTimeout,
		Language:     cfg.OCRLanguage,
		Verify:       cfg.SummaryVerify,
		Cache:        summaries,
		Metrics:      m,
	})

	srv, err := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Logger:             logger,
		Metrics:            m,
		Ready:              be.Ready,
		BackendName:        string(be.Type),
		Currency:           cfg.Currency,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
	})
	if err != nil {
		logger.Error("Failed to configure HTTP server", applog.FieldError, err)
		os.Exit(1)
	}

	srv.ReadTimeout = 30 * time.Second
	// A scan may take the whole scan timeout before the response is written.
	srv.WriteTimeout = cfg.ScanTimeout + 15*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		janitor.Wait()
		if err := be.Close(); err != nil {
			logger.Warn("Backend cleanup failed", applog.FieldError, err)
		}
	})
	janitor.Run(ctx, time.Minute)

	logger.Info("Starting spesa server",
		"port", cfg.Port,
		applog.FieldBackend, be.Type,
		"participants", people.Strings(),
		"scan_enabled", svc.ScanEnabled(),
		"env_files", loaded)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
