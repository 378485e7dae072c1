// Package worker copies expenses stored locally by the sqlite backend into
// the Apps Script store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spesa/internal/amqp"
	"spesa/internal/metrics"
	"spesa/internal/sheets"
	"spesa/internal/storage"
)

// LocalStore is the part of the SQLite repository the worker needs.
type LocalStore interface {
	GetExpense(ctx context.Context, id string) (storage.StoredExpense, error)
	GetPendingSyncExpenses(ctx context.Context, limit int) ([]storage.StoredExpense, error)
	SetRemoteID(ctx context.Context, id string, remoteID string) error
	MarkSynced(ctx context.Context, id string, version int64, remoteID string) (bool, error)
	MarkSyncError(ctx context.Context, id string, cause string) error
}

type Config struct {
	BatchSize    int
	StoreTimeout time.Duration
	// MaxAttempts stops the sweep from retrying an expense forever; zero
	// means no limit. A new edit resets the count.
	MaxAttempts int64
	Metrics     *metrics.Metrics
}

// MirrorWorker forwards one local expense version at a time. New expenses
// are added remotely and their remote id remembered; later versions update
// the remote row. Rows are mirrored one at a time so the message consumer
// and the sweep never add the same expense twice.
type MirrorWorker struct {
	local  LocalStore
	target sheets.ExpenseStore
	cfg    Config

	mu sync.Mutex
}

func NewMirrorWorker(local LocalStore, target sheets.ExpenseStore, cfg Config) *MirrorWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 15 * time.Second
	}
	return &MirrorWorker{local: local, target: target, cfg: cfg}
}

// HandleSyncMessage processes one AMQP message. Mirror failures are recorded
// on the row and left to the sweep; only a failure to record them is
// returned, which requeues the message.
func (w *MirrorWorker) HandleSyncMessage(ctx context.Context, msg *amqp.ExpenseSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message", "id", msg.ID, "version", msg.Version)

	se, err := w.local.GetExpense(ctx, msg.ID)
	if errors.Is(err, sheets.ErrExpenseNotFound) {
		slog.WarnContext(ctx, "Sync message for unknown expense, dropping", "id", msg.ID)
		w.cfg.Metrics.RecordMirror(outcomeSkipped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get expense from storage: %w", err)
	}

	if se.SyncStatus == storage.SyncDone || msg.Version < se.Version {
		slog.DebugContext(ctx, "Sync message is stale, skipping",
			"id", msg.ID, "message_version", msg.Version, "stored_version", se.Version, "status", se.SyncStatus)
		w.cfg.Metrics.RecordMirror(outcomeSkipped)
		return nil
	}

	_, err = w.syncRow(ctx, se.ID)
	return err
}

// ProcessPendingExpenses mirrors up to BatchSize pending or failed expenses.
// It is the backup path for lost messages and returns how many were synced.
func (w *MirrorWorker) ProcessPendingExpenses(ctx context.Context) (int, error) {
	return w.sweep(ctx, w.cfg.BatchSize)
}

// StartupSyncCheck runs a larger sweep to catch up after worker downtime.
func (w *MirrorWorker) StartupSyncCheck(ctx context.Context) error {
	synced, err := w.sweep(ctx, w.cfg.BatchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	slog.InfoContext(ctx, "Startup sync completed", "synced", synced)
	return nil
}

func (w *MirrorWorker) sweep(ctx context.Context, limit int) (int, error) {
	pending, err := w.local.GetPendingSyncExpenses(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending expenses: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	slog.InfoContext(ctx, "Processing pending expenses", "count", len(pending))

	synced, failed := 0, 0
	for _, se := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if w.cfg.MaxAttempts > 0 && se.SyncAttempts >= w.cfg.MaxAttempts {
			w.cfg.Metrics.RecordMirror(outcomeSkipped)
			continue
		}
		outcome, err := w.syncRow(ctx, se.ID)
		if err != nil {
			return synced, err
		}
		switch outcome {
		case outcomeSynced:
			synced++
		case outcomeFailed:
			failed++
		}
	}

	if failed > 0 {
		slog.WarnContext(ctx, "Some expenses could not be mirrored", "synced", synced, "failed", failed)
	}
	return synced, nil
}

const (
	outcomeSynced  = "synced"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// syncRow mirrors the stored state of one expense under the worker lock. The
// row is read again once the lock is held so a version mirrored meanwhile is
// not sent twice and a remote id stored meanwhile is reused.
func (w *MirrorWorker) syncRow(ctx context.Context, id string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	se, err := w.local.GetExpense(ctx, id)
	if errors.Is(err, sheets.ErrExpenseNotFound) {
		w.cfg.Metrics.RecordMirror(outcomeSkipped)
		return outcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("get expense from storage: %w", err)
	}
	if se.SyncStatus == storage.SyncDone {
		slog.DebugContext(ctx, "Expense already mirrored", "id", id, "version", se.Version)
		w.cfg.Metrics.RecordMirror(outcomeSkipped)
		return outcomeSkipped, nil
	}

	mirrorErr := w.mirror(ctx, se)
	if err := w.recordOutcome(ctx, se, mirrorErr); err != nil {
		return "", err
	}
	if mirrorErr != nil {
		return outcomeFailed, nil
	}
	return outcomeSynced, nil
}

// mirror sends one expense version to the target and marks it synced.
func (w *MirrorWorker) mirror(ctx context.Context, se storage.StoredExpense) error {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.StoreTimeout)
	defer cancel()

	e := se.Expense
	remoteID := se.RemoteID
	if remoteID == "" {
		e.ID = ""
		created, err := w.target.AddExpense(callCtx, e)
		if err != nil {
			return fmt.Errorf("add to store: %w", err)
		}
		remoteID = created.ID
		if remoteID == "" {
			slog.WarnContext(ctx, "Store did not return an id for the mirrored expense", "id", se.ID)
		} else if err := w.local.SetRemoteID(ctx, se.ID, remoteID); err != nil {
			slog.ErrorContext(ctx, "Failed to store remote id", "id", se.ID, "remote_id", remoteID, "error", err)
		}
	} else {
		e.ID = remoteID
		if _, err := w.target.UpdateExpense(callCtx, e); err != nil {
			return fmt.Errorf("update in store: %w", err)
		}
	}

	marked, err := w.local.MarkSynced(ctx, se.ID, se.Version, remoteID)
	if err != nil {
		// The row stays pending; with its remote id stored the retry is an update.
		return fmt.Errorf("mark synced: %w", err)
	}
	if !marked {
		slog.InfoContext(ctx, "Expense changed while mirroring, newer version still pending", "id", se.ID)
	}
	slog.InfoContext(ctx, "Successfully synced expense",
		"id", se.ID,
		"remote_id", remoteID,
		"version", se.Version,
		"item", se.Item,
		"cost_cents", se.Cost.Cents)
	return nil
}

func (w *MirrorWorker) recordOutcome(ctx context.Context, se storage.StoredExpense, mirrorErr error) error {
	if mirrorErr == nil {
		w.cfg.Metrics.RecordMirror(outcomeSynced)
		return nil
	}
	w.cfg.Metrics.RecordMirror(outcomeFailed)
	slog.WarnContext(ctx, "Mirror attempt failed",
		"id", se.ID, "attempt", se.SyncAttempts+1, "error", mirrorErr)
	if err := w.local.MarkSyncError(ctx, se.ID, mirrorErr.Error()); err != nil {
		return fmt.Errorf("record mirror failure: %w", err)
	}
	return nil
}
