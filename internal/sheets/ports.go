// Package sheets defines the outbound port for the spreadsheet mirror.
package sheets

import "context"

// Row is one spreadsheet line of the mirrored ledger journal. The
// journal is append-only: deletions show up as reversal rows, never as
// removed lines.
type Row struct {
	TransactionID int64
	Date          string // YYYY-MM-DD
	Type          string // Income, Expense or Reversal
	Amount        float64
	Account       string
	Category      string
	Description   string
}

// RowAppender appends one row and returns a backend-specific reference
// to where it landed.
type RowAppender interface {
	Append(ctx context.Context, row Row) (rowRef string, err error)
}
