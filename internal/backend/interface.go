package backend

import (
	"context"

	"spesa/internal/sheets"
)

// CleanupFunc releases whatever the backend opened.
type CleanupFunc func() error

// ReadyFunc reports whether the backend can serve requests.
type ReadyFunc func(ctx context.Context) error

// BackendResult contains the store, the optional summary reader and the
// lifecycle hooks of the selected backend. Summaries is nil for backends
// that cannot aggregate a month themselves; Ready and Cleanup may be nil.
type BackendResult struct {
	Type      BackendType
	Store     sheets.ExpenseStore
	Summaries sheets.SummaryReader
	Ready     ReadyFunc
	Cleanup   CleanupFunc
}

// Close runs Cleanup if there is one.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Apps Script
	AppScriptURL string

	// SQLite specific
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Memory backend specific
	DataDirectory string
}

// BackendType represents the type of backend
type BackendType string

const (
	AppScriptBackend BackendType = "appscript"
	SheetsBackend    BackendType = "sheets"
	SQLiteBackend    BackendType = "sqlite"
	MemoryBackend    BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case AppScriptBackend, SheetsBackend, SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
