// Package backend selects and builds the expense store named by DATA_BACKEND.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"spesa/internal/adapters"
	"spesa/internal/amqp"
	"spesa/internal/sheets/appscript"
	gsheet "spesa/internal/sheets/google"
	"spesa/internal/sheets/memory"
	"spesa/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
	http   *http.Client
}

// NewFactory creates a backend factory. A nil hc gives Apps Script a client
// without its own timeout; every call is bounded by its context.
func NewFactory(logger *slog.Logger, hc *http.Client) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger, http: hc}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case AppScriptBackend:
		return f.createAppScriptBackend(config)
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createAppScriptBackend(config Config) (*BackendResult, error) {
	cli, err := appscript.New(config.AppScriptURL, f.http)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Apps Script client: %w", err)
	}
	f.logger.Info("Initialized Apps Script backend")
	return &BackendResult{Type: AppScriptBackend, Store: cli, Summaries: cli}, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	// Without AMQP the worker's pending sweep still mirrors every row.
	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without sync messages", "error", err)
			amqpClient = nil
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	var adapter *adapters.SQLiteAdapter
	if amqpClient != nil {
		adapter = adapters.NewSQLiteAdapter(repo, amqpClient)
	} else {
		adapter = adapters.NewSQLiteAdapter(repo, nil)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", amqpClient != nil)

	return &BackendResult{
		Type:      SQLiteBackend,
		Store:     adapter,
		Summaries: adapter,
		Ready:     repo.Ping,
		Cleanup: func() error {
			if amqpClient != nil {
				if err := amqpClient.Close(); err != nil {
					f.logger.Warn("Failed to close AMQP client", "error", err)
				}
			}
			return adapter.Close()
		},
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleSheetName,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend", "sheet", config.GoogleSheetName)

	// Summaries are aggregated from the expense list.
	return &BackendResult{Type: SheetsBackend, Store: cli}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	store := memory.NewFromFiles(dataDir)

	f.logger.Info("Initialized memory backend", "data_directory", dataDir)

	return &BackendResult{Type: MemoryBackend, Store: store}, nil
}
