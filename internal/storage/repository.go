package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"spesa/internal/core"
	"spesa/internal/sheets"

	_ "modernc.org/sqlite"
)

// SyncStatus tracks whether a local expense has reached the Apps Script store.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncDone    SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// StoredExpense is an expense together with its mirroring state.
type StoredExpense struct {
	core.Expense
	RemoteID     string
	Version      int64
	SyncStatus   SyncStatus
	SyncAttempts int64
	SyncError    string
}

type SQLiteRepository struct {
	db     *sql.DB
	schema uint
}

// Ensure interface conformance
var (
	_ sheets.ExpenseStore  = (*SQLiteRepository)(nil)
	_ sheets.SummaryReader = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	schema, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, schema: schema}, nil
}

// SchemaVersion is the migration version applied when the store opened.
func (r *SQLiteRepository) SchemaVersion() uint { return r.schema }

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping is used by the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const expenseColumns = `id, item, cost_cents, quantity, person, date,
	COALESCE(remote_id, ''), version, sync_status, sync_attempts, COALESCE(sync_error, '')`

// ListExpenses returns every local expense, newest first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses ORDER BY date DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		se, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, se.Expense)
	}
	return out, rows.Err()
}

// AddExpense stores a new expense as pending mirroring.
func (r *SQLiteRepository) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	e.ID = uuid.NewString()
	if err := insertExpense(ctx, r.db, e); err != nil {
		return core.Expense{}, err
	}
	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"item", e.Item,
		"cost_cents", e.Cost.Cents,
		"person", e.Person)
	return e, nil
}

// AddBatchExpenses inserts all expenses in one transaction.
func (r *SQLiteRepository) AddBatchExpenses(ctx context.Context, expenses []core.Expense) error {
	_, err := r.AddBatch(ctx, expenses)
	return err
}

// AddBatch is AddBatchExpenses returning the stored rows with their ids.
func (r *SQLiteRepository) AddBatch(ctx context.Context, expenses []core.Expense) ([]core.Expense, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	out := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		e.ID = uuid.NewString()
		if err := insertExpense(ctx, tx, e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return out, nil
}

// UpdateExpense overwrites an expense, bumps its version and marks it for
// mirroring again.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE expenses
		SET item = ?, cost_cents = ?, quantity = ?, person = ?, date = ?,
		    version = version + 1, sync_status = 'pending', sync_error = NULL,
		    sync_attempts = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		e.Item, e.Cost.Cents, e.Quantity, string(e.Person), e.Date.ISO(), e.ID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	if n == 0 {
		return core.Expense{}, fmt.Errorf("update %s: %w", e.ID, sheets.ErrExpenseNotFound)
	}
	return e, nil
}

// ReadSummary sums costs per person for one month.
func (r *SQLiteRepository) ReadSummary(ctx context.Context, month, year int) (map[core.Person]core.Money, error) {
	prefix := fmt.Sprintf("%04d-%02d-", year, month)
	rows, err := r.db.QueryContext(ctx, `
		SELECT person, SUM(cost_cents) FROM expenses
		WHERE substr(date, 1, 8) = ?
		GROUP BY person`, prefix)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	defer rows.Close()

	out := make(map[core.Person]core.Money)
	for rows.Next() {
		var person string
		var cents int64
		if err := rows.Scan(&person, &cents); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out[core.Person(person)] = core.Money{Cents: cents}
	}
	return out, rows.Err()
}

// GetExpense loads one expense with its sync state.
func (r *SQLiteRepository) GetExpense(ctx context.Context, id string) (StoredExpense, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	se, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredExpense{}, fmt.Errorf("get %s: %w", id, sheets.ErrExpenseNotFound)
	}
	return se, err
}

// GetPendingSyncExpenses returns the oldest expenses not yet mirrored,
// including ones whose last attempt failed.
func (r *SQLiteRepository) GetPendingSyncExpenses(ctx context.Context, limit int) ([]StoredExpense, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE sync_status IN ('pending', 'error')
		ORDER BY created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending expenses: %w", err)
	}
	defer rows.Close()

	var out []StoredExpense
	for rows.Next() {
		se, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// SetRemoteID remembers the remote row created for an expense, on its own so
// the id survives a failure to mark the row synced.
func (r *SQLiteRepository) SetRemoteID(ctx context.Context, id string, remoteID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE expenses SET remote_id = ? WHERE id = ?`, remoteID, id)
	if err != nil {
		return fmt.Errorf("store remote id %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store remote id %s: %w", id, sheets.ErrExpenseNotFound)
	}
	return nil
}

// MarkSynced records a successful mirror of the given version. The remote id
// is always kept; a newer local edit keeps the row pending. It reports
// whether the row is now marked as synced.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string, version int64, remoteID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("mark synced %s: %w", id, err)
	}
	defer tx.Rollback()

	if remoteID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE expenses SET remote_id = ? WHERE id = ?`, remoteID, id); err != nil {
			return false, fmt.Errorf("store remote id %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE expenses
		SET sync_status = 'synced', sync_error = NULL, synced_at = ?
		WHERE id = ? AND version = ?`,
		time.Now().UTC(), id, version)
	if err != nil {
		return false, fmt.Errorf("mark synced %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark synced %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("mark synced %s: %w", id, err)
	}
	return n > 0, nil
}

// MarkSyncError records a failed mirror attempt.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id string, cause string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE expenses
		SET sync_status = 'error', sync_error = ?, sync_attempts = sync_attempts + 1
		WHERE id = ?`, cause, id)
	if err != nil {
		return fmt.Errorf("mark sync error %s: %w", id, err)
	}
	return nil
}

// SyncCounts returns how many rows are in each sync state.
func (r *SQLiteRepository) SyncCounts(ctx context.Context) (map[SyncStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM expenses GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("sync counts: %w", err)
	}
	defer rows.Close()
	out := map[SyncStatus]int64{SyncPending: 0, SyncDone: 0, SyncError: 0}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan sync count: %w", err)
		}
		out[SyncStatus(status)] = n
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertExpense(ctx context.Context, db execer, e core.Expense) error {
	qty := e.Quantity
	if qty <= 0 {
		qty = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO expenses (id, item, cost_cents, quantity, person, date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Item, e.Cost.Cents, qty, string(e.Person), e.Date.ISO())
	if err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(s scanner) (StoredExpense, error) {
	var (
		se     StoredExpense
		person string
		date   string
		status string
	)
	err := s.Scan(&se.ID, &se.Item, &se.Cost.Cents, &se.Quantity, &person, &date,
		&se.RemoteID, &se.Version, &status, &se.SyncAttempts, &se.SyncError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredExpense{}, err
		}
		return StoredExpense{}, fmt.Errorf("scan expense: %w", err)
	}
	se.Person = core.Person(person)
	se.SyncStatus = SyncStatus(status)
	if d, err := core.ParseISODate(date); err == nil {
		se.Date = d
	}
	return se, nil
}
