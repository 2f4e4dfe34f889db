package memory

import (
	"context"
	"errors"
	"testing"

	"tally/internal/sheets"
)

func TestAppendAndRows(t *testing.T) {
	store := New()
	ctx := context.Background()

	ref, err := store.Append(ctx, sheets.Row{TransactionID: 1, Date: "2025-01-01", Type: "Income", Amount: 50.00, Account: "Cash", Category: "Salary"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ref != "mem:1" {
		t.Errorf("ref = %q, want mem:1", ref)
	}

	ref, err = store.Append(ctx, sheets.Row{TransactionID: 2, Date: "2025-01-02", Type: "Expense", Amount: 12.50, Account: "Cash", Category: "Food"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ref != "mem:2" {
		t.Errorf("ref = %q, want mem:2", ref)
	}

	rows := store.Rows()
	if len(rows) != 2 {
		t.Fatalf("Rows() = %d rows, want 2", len(rows))
	}
	if rows[0].TransactionID != 1 || rows[1].Category != "Food" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestFailWith(t *testing.T) {
	store := New()
	ctx := context.Background()
	boom := errors.New("quota exceeded")

	store.FailWith(boom)
	if _, err := store.Append(ctx, sheets.Row{TransactionID: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if len(store.Rows()) != 0 {
		t.Error("failed append must not store a row")
	}

	store.FailWith(nil)
	if _, err := store.Append(ctx, sheets.Row{TransactionID: 1}); err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
}
