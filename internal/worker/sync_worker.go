// Package worker mirrors the SQLite ledger into the spreadsheet
// journal. It consumes sync and delete messages from AMQP and runs a
// periodic sweep for anything the queue missed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/sheets"
	"tally/internal/storage"
)

type SyncWorker struct {
	storage   *storage.SQLiteRepository
	appender  sheets.RowAppender
	batchSize int
}

func NewSyncWorker(storage *storage.SQLiteRepository, appender sheets.RowAppender, batchSize int) *SyncWorker {
	return &SyncWorker{
		storage:   storage,
		appender:  appender,
		batchSize: batchSize,
	}
}

// HandleSyncMessage mirrors one transaction to the spreadsheet.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.TransactionSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"id", msg.ID,
		"version", msg.Version)

	rec, err := w.storage.GetTransaction(ctx, msg.ID)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted before we got here; the delete message covers it.
		slog.WarnContext(ctx, "Transaction gone before sync, skipping", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	if err := w.mirrorTransaction(ctx, rec); err != nil {
		return fmt.Errorf("mirror transaction: %w", err)
	}
	return nil
}

// HandleDeleteMessage appends a reversal row for a deleted
// transaction. The journal is append-only, so nothing is removed from
// the sheet.
func (w *SyncWorker) HandleDeleteMessage(ctx context.Context, msg *amqp.TransactionDeleteMessage) error {
	slog.InfoContext(ctx, "Processing delete message", "id", msg.ID)

	row := sheets.Row{
		TransactionID: msg.ID,
		Date:          msg.Date,
		Type:          "Reversal",
		Amount:        core.Money{Cents: msg.AmountCents}.Units(),
		Account:       msg.Account,
		Category:      msg.Category,
		Description:   fmt.Sprintf("Reversal of deleted %s #%d", msg.Type, msg.ID),
	}
	ref, err := w.appender.Append(ctx, row)
	if err != nil {
		return fmt.Errorf("append reversal row: %w", err)
	}

	slog.InfoContext(ctx, "Appended reversal row",
		"id", msg.ID,
		"sheets_ref", ref)
	return nil
}

// ProcessPendingTransactions mirrors transactions the queue missed.
// Called periodically as a backup for lost AMQP messages.
func (w *SyncWorker) ProcessPendingTransactions(ctx context.Context) error {
	return w.drainPending(ctx, w.batchSize)
}

// StartupSyncCheck clears any backlog accumulated while the worker was
// down. Runs with a larger batch than the periodic sweep.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	return w.drainPending(ctx, w.batchSize*5)
}

func (w *SyncWorker) drainPending(ctx context.Context, limit int) error {
	pending, err := w.storage.GetPendingSync(ctx, limit)
	if err != nil {
		return fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	synced := 0
	failed := 0
	for _, p := range pending {
		rec, err := w.storage.GetTransaction(ctx, p.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load pending transaction",
				"id", p.ID, "error", err)
			if markErr := w.storage.MarkSyncError(ctx, p.ID); markErr != nil {
				slog.ErrorContext(ctx, "Failed to mark sync error", "id", p.ID, "error", markErr)
			}
			failed++
			continue
		}
		if err := w.mirrorTransaction(ctx, rec); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror pending transaction",
				"id", p.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Pending sweep completed",
		"total", len(pending),
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *SyncWorker) mirrorTransaction(ctx context.Context, rec core.TransactionRecord) error {
	row := sheets.Row{
		TransactionID: rec.ID,
		Date:          rec.Date.String(),
		Type:          string(rec.Type),
		Amount:        rec.Amount.Units(),
		Account:       rec.Account,
		Category:      rec.Category,
		Description:   rec.Description,
	}

	ref, err := w.appender.Append(ctx, row)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, rec.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", rec.ID, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := w.storage.MarkSynced(ctx, rec.ID); err != nil {
		// The append worked; log and move on.
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", rec.ID, "error", err)
	}

	slog.InfoContext(ctx, "Mirrored transaction",
		"id", rec.ID,
		"sheets_ref", ref,
		"amount_cents", rec.Amount.Cents)
	return nil
}
