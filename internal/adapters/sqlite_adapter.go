// Package adapters exposes the local SQLite store through the store ports,
// announcing every write to the mirror worker.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"spesa/internal/core"
	"spesa/internal/sheets"
	"spesa/internal/storage"
)

// SyncPublisher announces that a local expense version needs mirroring.
// *amqp.Client satisfies it.
type SyncPublisher interface {
	PublishExpenseSync(ctx context.Context, id string, version int64) error
}

// SQLiteAdapter stores expenses locally first. Publishing is best effort:
// a lost message is picked up by the worker's pending sweep.
type SQLiteAdapter struct {
	storage   *storage.SQLiteRepository
	publisher SyncPublisher
}

var (
	_ sheets.ExpenseStore  = (*SQLiteAdapter)(nil)
	_ sheets.SummaryReader = (*SQLiteAdapter)(nil)
)

// NewSQLiteAdapter accepts a nil publisher, in which case only the sweep
// mirrors expenses.
func NewSQLiteAdapter(storage *storage.SQLiteRepository, publisher SyncPublisher) *SQLiteAdapter {
	return &SQLiteAdapter{storage: storage, publisher: publisher}
}

func (a *SQLiteAdapter) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	return a.storage.ListExpenses(ctx)
}

func (a *SQLiteAdapter) ReadSummary(ctx context.Context, month, year int) (map[core.Person]core.Money, error) {
	return a.storage.ReadSummary(ctx, month, year)
}

func (a *SQLiteAdapter) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	saved, err := a.storage.AddExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}
	a.publish(ctx, saved.ID, 1)
	return saved, nil
}

func (a *SQLiteAdapter) UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	saved, err := a.storage.UpdateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, err
	}
	stored, err := a.storage.GetExpense(ctx, saved.ID)
	if err != nil {
		slog.WarnContext(ctx, "Could not read back updated expense", "id", saved.ID, "error", err)
		return saved, nil
	}
	a.publish(ctx, stored.ID, stored.Version)
	return saved, nil
}

func (a *SQLiteAdapter) AddBatchExpenses(ctx context.Context, expenses []core.Expense) error {
	saved, err := a.storage.AddBatch(ctx, expenses)
	if err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	for _, e := range saved {
		a.publish(ctx, e.ID, 1)
	}
	return nil
}

// Close releases the database.
func (a *SQLiteAdapter) Close() error {
	return a.storage.Close()
}

func (a *SQLiteAdapter) publish(ctx context.Context, id string, version int64) {
	if a.publisher == nil {
		slog.DebugContext(ctx, "No publisher configured, leaving expense for the sweep", "id", id)
		return
	}
	if err := a.publisher.PublishExpenseSync(ctx, id, version); err != nil {
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "Failed to publish sync message", "id", id, "version", version, "error", err)
	}
}
