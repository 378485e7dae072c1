package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spesa/internal/amqp"
	"spesa/internal/cli"
	"spesa/internal/config"
	applog "spesa/internal/log"
	"spesa/internal/metrics"
	"spesa/internal/services"
	"spesa/internal/sheets"
	"spesa/internal/sheets/appscript"
	gsheet "spesa/internal/sheets/google"
	"spesa/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).WithComponent(applog.ComponentWorker)
	logger.Info("Starting spesa-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()
	logger.Info("Opened local expense store", "path", cfg.SQLiteDBPath, "schema_version", repo.SchemaVersion())

	target, err := mirrorTarget(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to initialize mirror target",
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeConfiguration)
		os.Exit(1)
	}

	m := metrics.New()
	mirror := worker.NewMirrorWorker(repo, target, worker.Config{
		BatchSize:    cfg.SyncBatchSize,
		StoreTimeout: cfg.StoreTimeout,
		MaxAttempts:  int64(cfg.SyncMaxAttempts),
		Metrics:      m,
	})

	var metricsSrv *http.Server
	if cfg.WorkerMetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", applog.FieldError, err)
			}
		}()
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
	} else {
		logger.Info("AMQP_URL not set, relying on the periodic sweep only")
	}

	processor := services.NewSyncProcessor(mirror, services.SyncProcessorConfig{PollInterval: cfg.SyncInterval})
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		_ = processor.Stop(ctx)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(ctx)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("Failed to close AMQP client", applog.FieldError, err)
			}
		}
	})

	logger.Info("Performing startup sync check...", applog.FieldOperation, applog.OpStartup)
	if err := mirror.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", applog.FieldError, err)
	}

	if amqpClient != nil {
		go func() {
			if err := amqpClient.ConsumeExpenseSync(ctx, mirror.HandleSyncMessage); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", applog.FieldError, err)
			}
		}()
	}

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start sync processor", applog.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}

// mirrorTarget prefers the Apps Script store and falls back to the Sheets API.
func mirrorTarget(ctx context.Context, cfg *config.Config) (sheets.ExpenseStore, error) {
	if cfg.AppScriptURL != "" {
		return appscript.New(cfg.AppScriptURL, &http.Client{})
	}
	if cfg.GoogleSpreadsheetID != "" {
		return gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
	}
	return nil, errors.New("set GOOGLE_APP_SCRIPT_URL or GOOGLE_SPREADSHEET_ID as the mirror target")
}
