package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/sheets/memory"
	"tally/internal/storage"
)

func newTestWorker(t *testing.T) (*SyncWorker, *storage.SQLiteRepository, *memory.Store) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	store := memory.New()
	return NewSyncWorker(repo, store, 10), repo, store
}

func seedTransaction(t *testing.T, repo *storage.SQLiteRepository, cents int64) int64 {
	t.Helper()
	ctx := context.Background()
	accounts, err := repo.ListAccounts(ctx)
	if err != nil || len(accounts) == 0 {
		t.Fatalf("ListAccounts: %v", err)
	}
	categories, err := repo.ListCategories(ctx)
	if err != nil || len(categories) == 0 {
		t.Fatalf("ListCategories: %v", err)
	}
	id, err := repo.RecordTransaction(ctx, core.Transaction{
		Date:       core.NewDate(2025, 3, 1),
		Type:       core.Income,
		Amount:     core.Money{Cents: cents},
		AccountID:  accounts[0].ID,
		CategoryID: categories[0].ID,
	})
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	return id
}

func TestHandleSyncMessage(t *testing.T) {
	w, repo, store := newTestWorker(t)
	ctx := context.Background()
	id := seedTransaction(t, repo, 12345)

	if err := w.HandleSyncMessage(ctx, amqp.NewTransactionSyncMessage(id, 1)); err != nil {
		t.Fatalf("HandleSyncMessage: %v", err)
	}

	rows := store.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 mirrored row, got %d", len(rows))
	}
	if rows[0].TransactionID != id || rows[0].Amount != 123.45 || rows[0].Type != "Income" {
		t.Errorf("row = %+v", rows[0])
	}

	pending, err := repo.GetPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSync: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("transaction still pending after sync: %+v", pending)
	}
}

func TestHandleSyncMessageMissingRow(t *testing.T) {
	w, _, store := newTestWorker(t)

	// Row already deleted: the message is acked, not retried.
	if err := w.HandleSyncMessage(context.Background(), amqp.NewTransactionSyncMessage(42, 1)); err != nil {
		t.Fatalf("missing row should not be an error: %v", err)
	}
	if len(store.Rows()) != 0 {
		t.Error("nothing should be appended for a missing row")
	}
}

func TestHandleSyncMessageAppendFailure(t *testing.T) {
	w, repo, store := newTestWorker(t)
	ctx := context.Background()
	id := seedTransaction(t, repo, 100)

	store.FailWith(errors.New("quota exceeded"))
	if err := w.HandleSyncMessage(ctx, amqp.NewTransactionSyncMessage(id, 1)); err == nil {
		t.Fatal("expected error when append fails")
	}

	// Still pending so the sweep can retry.
	pending, err := repo.GetPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSync: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending = %+v, want [%d]", pending, id)
	}

	store.FailWith(nil)
	if err := w.ProcessPendingTransactions(ctx); err != nil {
		t.Fatalf("ProcessPendingTransactions: %v", err)
	}
	if len(store.Rows()) != 1 {
		t.Fatalf("sweep should mirror the row, got %d rows", len(store.Rows()))
	}
}

func TestHandleDeleteMessageAppendsReversal(t *testing.T) {
	w, _, store := newTestWorker(t)

	msg := &amqp.TransactionDeleteMessage{
		ID:          7,
		Date:        "2025-06-03",
		Type:        "Expense",
		AmountCents: 50000,
		Account:     "Cash",
		Category:    "Food",
	}
	if err := w.HandleDeleteMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleDeleteMessage: %v", err)
	}

	rows := store.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 reversal row, got %d", len(rows))
	}
	row := rows[0]
	if row.Type != "Reversal" || row.Amount != 500.00 || row.Account != "Cash" {
		t.Errorf("reversal row = %+v", row)
	}
}

func TestStartupSyncCheckDrainsBacklog(t *testing.T) {
	w, repo, store := newTestWorker(t)
	ctx := context.Background()

	var want int
	for i := 0; i < 3; i++ {
		seedTransaction(t, repo, int64(100*(i+1)))
		want++
	}

	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatalf("StartupSyncCheck: %v", err)
	}
	if got := len(store.Rows()); got != want {
		t.Fatalf("mirrored %d rows, want %d", got, want)
	}

	pending, err := repo.GetPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSync: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("backlog not drained: %+v", pending)
	}
}
