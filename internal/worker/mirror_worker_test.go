package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"spesa/internal/amqp"
	"spesa/internal/core"
	"spesa/internal/sheets"
	"spesa/internal/sheets/memory"
	"spesa/internal/storage"
)

type failingStore struct {
	sheets.ExpenseStore
	adds int
}

func (f *failingStore) AddExpense(context.Context, core.Expense) (core.Expense, error) {
	f.adds++
	return core.Expense{}, &sheets.UpstreamError{Status: 503, Body: []byte("busy")}
}

// slowStore delays adds so concurrent mirrors of one row overlap.
type slowStore struct {
	sheets.ExpenseStore
	delay time.Duration
	adds  atomic.Int32
}

func (s *slowStore) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	s.adds.Add(1)
	time.Sleep(s.delay)
	return s.ExpenseStore.AddExpense(ctx, e)
}

// flakyLocal fails the first MarkSynced after a successful remote write.
type flakyLocal struct {
	*storage.SQLiteRepository
	failMark atomic.Bool
}

func (f *flakyLocal) MarkSynced(ctx context.Context, id string, version int64, remoteID string) (bool, error) {
	if f.failMark.CompareAndSwap(true, false) {
		return false, errors.New("database is locked")
	}
	return f.SQLiteRepository.MarkSynced(ctx, id, version, remoteID)
}

func setup(t *testing.T) (*storage.SQLiteRepository, context.Context) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "spesa.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo, context.Background()
}

func addLocal(t *testing.T, repo *storage.SQLiteRepository, item string, cents int64) core.Expense {
	t.Helper()
	e, err := repo.AddExpense(context.Background(), core.Expense{
		Item: item, Cost: core.Money{Cents: cents}, Quantity: 1, Person: "Mohsin", Date: core.NewDate(2025, 2, 1),
	})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}
	return e
}

func TestHandleSyncMessageAddsThenUpdates(t *testing.T) {
	repo, ctx := setup(t)
	target := memory.New()
	w := NewMirrorWorker(repo, target, Config{BatchSize: 5})

	local := addLocal(t, repo, "Milk", 129)
	if err := w.HandleSyncMessage(ctx, amqp.NewExpenseSyncMessage(local.ID, 1)); err != nil {
		t.Fatalf("HandleSyncMessage: %v", err)
	}
	se, _ := repo.GetExpense(ctx, local.ID)
	if se.SyncStatus != storage.SyncDone || se.RemoteID == "" {
		t.Fatalf("expected synced with remote id, got %+v", se)
	}

	// A duplicate delivery of the same version is a no-op.
	if err := w.HandleSyncMessage(ctx, amqp.NewExpenseSyncMessage(local.ID, 1)); err != nil {
		t.Fatalf("duplicate message: %v", err)
	}
	remote, _ := target.ListExpenses(ctx)
	if len(remote) != 1 {
		t.Fatalf("expected exactly one remote row, got %d", len(remote))
	}

	local.Cost = core.Money{Cents: 258}
	local.Quantity = 2
	if _, err := repo.UpdateExpense(ctx, local); err != nil {
		t.Fatalf("UpdateExpense: %v", err)
	}
	if err := w.HandleSyncMessage(ctx, amqp.NewExpenseSyncMessage(local.ID, 2)); err != nil {
		t.Fatalf("HandleSyncMessage v2: %v", err)
	}
	remote, _ = target.ListExpenses(ctx)
	if len(remote) != 1 || remote[0].Cost.Cents != 258 || remote[0].ID != se.RemoteID {
		t.Fatalf("expected remote row updated in place, got %+v", remote)
	}
}

func TestHandleSyncMessageUnknownAndStale(t *testing.T) {
	repo, ctx := setup(t)
	target := memory.New()
	w := NewMirrorWorker(repo, target, Config{})

	if err := w.HandleSyncMessage(ctx, amqp.NewExpenseSyncMessage("missing", 1)); err != nil {
		t.Fatalf("unknown id should be dropped, got %v", err)
	}

	local := addLocal(t, repo, "Bread", 200)
	local.Item = "Rye bread"
	repo.UpdateExpense(ctx, local)
	if err := w.HandleSyncMessage(ctx, amqp.NewExpenseSyncMessage(local.ID, 1)); err != nil {
		t.Fatalf("stale message: %v", err)
	}
	if remote, _ := target.ListExpenses(ctx); len(remote) != 0 {
		t.Fatalf("stale message must not write, got %+v", remote)
	}
}

func TestMirrorFailureIsRecorded(t *testing.T) {
	repo, ctx := setup(t)
	target := &failingStore{}
	w := NewMirrorWorker(repo, target, Config{MaxAttempts: 2})

	local := addLocal(t, repo, "Eggs", 300)
	if err := w.HandleSyncMessage(ctx, amqp.NewExpenseSyncMessage(local.ID, 1)); err != nil {
		t.Fatalf("mirror failure should not requeue: %v", err)
	}
	se, _ := repo.GetExpense(ctx, local.ID)
	if se.SyncStatus != storage.SyncError || se.SyncAttempts != 1 || se.SyncError == "" {
		t.Fatalf("expected error recorded, got %+v", se)
	}

	if n, err := w.ProcessPendingExpenses(ctx); err != nil || n != 0 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
	// Attempts are now 2, so the sweep gives up on this row.
	if _, err := w.ProcessPendingExpenses(ctx); err != nil {
		t.Fatal(err)
	}
	if target.adds != 2 {
		t.Fatalf("expected 2 remote attempts, got %d", target.adds)
	}
}

func TestSweepMirrorsPending(t *testing.T) {
	repo, ctx := setup(t)
	target := memory.New()
	w := NewMirrorWorker(repo, target, Config{BatchSize: 2})

	for _, item := range []string{"a", "b", "c"} {
		addLocal(t, repo, item, 100)
	}
	n, err := w.ProcessPendingExpenses(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first sweep = %d, %v", n, err)
	}
	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatal(err)
	}
	counts, _ := repo.SyncCounts(ctx)
	if counts[storage.SyncDone] != 3 || counts[storage.SyncPending] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	repo, _ := setup(t)
	addLocal(t, repo, "a", 100)
	w := NewMirrorWorker(repo, memory.New(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.ProcessPendingExpenses(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestConcurrentMirrorsAddOnce(t *testing.T) {
	repo, ctx := setup(t)
	target := &slowStore{ExpenseStore: memory.New(), delay: 50 * time.Millisecond}
	w := NewMirrorWorker(repo, target, Config{})

	local := addLocal(t, repo, "Milk", 129)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- w.HandleSyncMessage(ctx, amqp.NewExpenseSyncMessage(local.ID, 1))
	}()
	go func() {
		defer wg.Done()
		_, err := w.ProcessPendingExpenses(ctx)
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("mirror: %v", err)
		}
	}

	remote, _ := target.ListExpenses(ctx)
	if len(remote) != 1 || target.adds.Load() != 1 {
		t.Fatalf("expected one remote row from one add, got %d rows and %d adds", len(remote), target.adds.Load())
	}
	se, _ := repo.GetExpense(ctx, local.ID)
	if se.SyncStatus != storage.SyncDone || se.RemoteID != remote[0].ID {
		t.Fatalf("expected synced row pointing at %s, got %+v", remote[0].ID, se)
	}
}

func TestMarkSyncedFailureRetriesAsUpdate(t *testing.T) {
	repo, ctx := setup(t)
	local := &flakyLocal{SQLiteRepository: repo}
	local.failMark.Store(true)
	target := &slowStore{ExpenseStore: memory.New()}
	w := NewMirrorWorker(local, target, Config{})

	e := addLocal(t, repo, "Tea", 350)
	if err := w.HandleSyncMessage(ctx, amqp.NewExpenseSyncMessage(e.ID, 1)); err != nil {
		t.Fatalf("HandleSyncMessage: %v", err)
	}
	se, _ := repo.GetExpense(ctx, e.ID)
	if se.SyncStatus == storage.SyncDone || se.RemoteID == "" {
		t.Fatalf("expected pending row with remote id, got %+v", se)
	}

	if n, err := w.ProcessPendingExpenses(ctx); err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
	remote, _ := target.ListExpenses(ctx)
	if len(remote) != 1 || target.adds.Load() != 1 || remote[0].ID != se.RemoteID {
		t.Fatalf("retry should update the first remote row, got %d rows and %d adds", len(remote), target.adds.Load())
	}
	if se, _ = repo.GetExpense(ctx, e.ID); se.SyncStatus != storage.SyncDone {
		t.Fatalf("expected synced after retry, got %+v", se)
	}
}
