// Package storage persists the ledger in a local SQLite file.
//
// Every mutating operation runs inside a single SQL transaction so a
// balance update and its transaction row either both apply or neither
// does. Account balances are materialized: after any operation in this
// package, balance_cents equals the signed sum of the account's rows.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tally/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// Filter narrows a transaction query. Zero values mean "no constraint
// on that dimension"; From and To are inclusive.
type Filter struct {
	From       core.Date
	To         core.Date
	AccountID  int64
	CategoryID int64
}

// PendingSyncTransaction is the minimal row identity the sync worker
// needs to mirror a transaction to the spreadsheet.
type PendingSyncTransaction struct {
	ID        int64
	CreatedAt time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, path: dbPath}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Path returns the location of the database file, used by the backup
// download endpoint.
func (r *SQLiteRepository) Path() string {
	return r.path
}

// withTx runs fn inside a transaction, rolling back on any error.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateAccount inserts an account with zero balance. A duplicate name
// is a no-op, not an error.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (name, balance_cents) VALUES (?, 0)`, name)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// CreateCategory inserts a category. A duplicate name is a no-op.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, balance_cents FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		var a core.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Balance.Cents); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// RecordTransaction inserts one transaction row and adjusts the account
// balance by the signed amount, atomically. Returns the new row's id.
func (r *SQLiteRepository) RecordTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (date, type, amount_cents, account_id, category_id, description)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			t.Date.String(), string(t.Type), t.Amount.Cents, t.AccountID, t.CategoryID, t.Description)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return applyBalance(ctx, tx, t.AccountID, t.Type.Signed(t.Amount).Cents)
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"id", id,
		"type", string(t.Type),
		"amount_cents", t.Amount.Cents,
		"account_id", t.AccountID,
		"category_id", t.CategoryID)
	return id, nil
}

// Transfer moves amount between two accounts: debit source, credit
// destination, insert the Expense and Income legs under the reserved
// Transfer category. All four mutations share one SQL transaction.
// A source balance below amount fails with core.ErrInsufficientBalance
// and leaves the ledger untouched.
func (r *SQLiteRepository) Transfer(ctx context.Context, fromID, toID int64, amount core.Money, date core.Date) (expenseID, incomeID int64, err error) {
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		var balance int64
		err := tx.QueryRowContext(ctx,
			`SELECT balance_cents FROM accounts WHERE id = ?`, fromID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrInvalidAccount
		}
		if err != nil {
			return fmt.Errorf("read source balance: %w", err)
		}
		if balance < amount.Cents {
			return core.ErrInsufficientBalance
		}

		categoryID, err := transferCategoryID(ctx, tx)
		if err != nil {
			return err
		}

		if err := applyBalance(ctx, tx, fromID, -amount.Cents); err != nil {
			return err
		}
		if err := applyBalance(ctx, tx, toID, amount.Cents); err != nil {
			return err
		}

		expenseID, err = insertLeg(ctx, tx, date, core.Expense, amount, fromID, categoryID)
		if err != nil {
			return err
		}
		incomeID, err = insertLeg(ctx, tx, date, core.Income, amount, toID, categoryID)
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	slog.InfoContext(ctx, "Transfer completed",
		"from_account_id", fromID,
		"to_account_id", toID,
		"amount_cents", amount.Cents,
		"expense_leg_id", expenseID,
		"income_leg_id", incomeID)
	return expenseID, incomeID, nil
}

// DeleteTransaction reverses the transaction's balance effect and
// removes the row. An unknown id fails with core.ErrNotFound and
// changes nothing.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id int64) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var (
			amountCents int64
			txType      string
			accountID   int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT amount_cents, type, account_id FROM transactions WHERE id = ?`, id).
			Scan(&amountCents, &txType, &accountID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("look up transaction: %w", err)
		}

		// Reverse: an Expense gave -amount, so deleting it gives +amount.
		reversal := -core.TransactionType(txType).Signed(core.Money{Cents: amountCents}).Cents
		if err := applyBalance(ctx, tx, accountID, reversal); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transaction deleted", "id", id)
	return nil
}

// GetTransaction loads a single transaction joined to its account and
// category names. Unknown ids fail with core.ErrNotFound.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.TransactionRecord, error) {
	var (
		rec     core.TransactionRecord
		dateStr string
		txType  string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT t.id, t.date, t.type, t.amount_cents, a.name, c.name, t.description
		 FROM transactions t
		 JOIN accounts a ON a.id = t.account_id
		 JOIN categories c ON c.id = t.category_id
		 WHERE t.id = ?`, id).
		Scan(&rec.ID, &dateStr, &txType, &rec.Amount.Cents, &rec.Account, &rec.Category, &rec.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TransactionRecord{}, core.ErrNotFound
	}
	if err != nil {
		return core.TransactionRecord{}, fmt.Errorf("get transaction: %w", err)
	}
	rec.Type = core.TransactionType(txType)
	rec.Date, err = core.ParseDate(dateStr)
	if err != nil {
		return core.TransactionRecord{}, fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}
	return rec, nil
}

// QueryTransactions returns joined rows matching the filter, newest
// date first.
func (r *SQLiteRepository) QueryTransactions(ctx context.Context, f Filter) ([]core.TransactionRecord, error) {
	query := `SELECT t.id, t.date, t.type, t.amount_cents, a.name, c.name, t.description
		 FROM transactions t
		 JOIN accounts a ON a.id = t.account_id
		 JOIN categories c ON c.id = t.category_id`
	where, args := f.clauses()
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY t.date DESC, t.id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var records []core.TransactionRecord
	for rows.Next() {
		var (
			rec     core.TransactionRecord
			dateStr string
			txType  string
		)
		if err := rows.Scan(&rec.ID, &dateStr, &txType, &rec.Amount.Cents, &rec.Account, &rec.Category, &rec.Description); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		rec.Type = core.TransactionType(txType)
		rec.Date, err = core.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", dateStr, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Overview aggregates ledger-wide income and expense totals under the
// filter, plus the current per-account balances.
func (r *SQLiteRepository) Overview(ctx context.Context, f Filter) (core.Overview, error) {
	query := `SELECT
		 COALESCE(SUM(CASE WHEN t.type = 'Income' THEN t.amount_cents ELSE 0 END), 0),
		 COALESCE(SUM(CASE WHEN t.type = 'Expense' THEN t.amount_cents ELSE 0 END), 0)
		 FROM transactions t`
	where, args := f.clauses()
	if where != "" {
		query += " WHERE " + where
	}

	var ov core.Overview
	if err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&ov.TotalIncome.Cents, &ov.TotalExpense.Cents); err != nil {
		return core.Overview{}, fmt.Errorf("overview totals: %w", err)
	}
	ov.Net = core.Money{Cents: ov.TotalIncome.Cents - ov.TotalExpense.Cents}

	accounts, err := r.ListAccounts(ctx)
	if err != nil {
		return core.Overview{}, err
	}
	ov.Accounts = accounts
	return ov, nil
}

// CategoryBreakdown sums expenses by category name, largest first.
func (r *SQLiteRepository) CategoryBreakdown(ctx context.Context, f Filter) ([]core.CategoryAmount, error) {
	query := `SELECT c.name, SUM(t.amount_cents)
		 FROM transactions t
		 JOIN categories c ON c.id = t.category_id`
	where, args := f.clauses()
	if where != "" {
		query += " WHERE t.type = 'Expense' AND " + where
	} else {
		query += " WHERE t.type = 'Expense'"
	}
	query += " GROUP BY c.name ORDER BY SUM(t.amount_cents) DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}
	defer rows.Close()

	var breakdown []core.CategoryAmount
	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan category sum: %w", err)
		}
		breakdown = append(breakdown, ca)
	}
	return breakdown, rows.Err()
}

// MonthlySeries returns per-month income and expense totals ordered by
// month, for time-series charts.
func (r *SQLiteRepository) MonthlySeries(ctx context.Context, f Filter) ([]core.MonthPoint, error) {
	query := `SELECT strftime('%Y', t.date), strftime('%m', t.date),
		 COALESCE(SUM(CASE WHEN t.type = 'Income' THEN t.amount_cents ELSE 0 END), 0),
		 COALESCE(SUM(CASE WHEN t.type = 'Expense' THEN t.amount_cents ELSE 0 END), 0)
		 FROM transactions t`
	where, args := f.clauses()
	if where != "" {
		query += " WHERE " + where
	}
	query += " GROUP BY strftime('%Y-%m', t.date) ORDER BY strftime('%Y-%m', t.date)"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monthly series: %w", err)
	}
	defer rows.Close()

	var series []core.MonthPoint
	for rows.Next() {
		var p core.MonthPoint
		if err := rows.Scan(&p.Year, &p.Month, &p.Income.Cents, &p.Expense.Cents); err != nil {
			return nil, fmt.Errorf("scan month point: %w", err)
		}
		series = append(series, p)
	}
	return series, rows.Err()
}

// GetPendingSync returns transactions not yet mirrored to the
// spreadsheet, oldest first.
func (r *SQLiteRepository) GetPendingSync(ctx context.Context, limit int) ([]PendingSyncTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, created_at FROM transactions WHERE synced = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync transactions: %w", err)
	}
	defer rows.Close()

	var pending []PendingSyncTransaction
	for rows.Next() {
		var (
			p          PendingSyncTransaction
			createdStr string
		)
		if err := rows.Scan(&p.ID, &createdStr); err != nil {
			return nil, fmt.Errorf("scan pending transaction: %w", err)
		}
		if t, err := time.Parse("2006-01-02 15:04:05", createdStr); err == nil {
			p.CreatedAt = t
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// MarkSynced marks a transaction as successfully mirrored.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET synced = 1, sync_error = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	return nil
}

// MarkSyncError flags a failed mirror attempt. The row stays pending so
// the periodic sweep retries it.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET sync_error = sync_error + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	return nil
}

// applyBalance adjusts one account's balance by delta cents inside tx.
func applyBalance(ctx context.Context, tx *sql.Tx, accountID, delta int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?`, delta, accountID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrInvalidAccount
	}
	return nil
}

// transferCategoryID resolves the reserved Transfer category, creating
// it on first use. INSERT OR IGNORE followed by SELECT is atomic within
// the enclosing SQL transaction, so at most one such row ever exists.
func transferCategoryID(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO categories (name) VALUES (?)`, core.TransferCategory); err != nil {
		return 0, fmt.Errorf("ensure transfer category: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM categories WHERE name = ?`, core.TransferCategory).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve transfer category: %w", err)
	}
	return id, nil
}

func insertLeg(ctx context.Context, tx *sql.Tx, date core.Date, typ core.TransactionType, amount core.Money, accountID, categoryID int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (date, type, amount_cents, account_id, category_id, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		date.String(), string(typ), amount.Cents, accountID, categoryID, "Transfer")
	if err != nil {
		return 0, fmt.Errorf("insert %s leg: %w", strings.ToLower(string(typ)), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("leg insert id: %w", err)
	}
	return id, nil
}

// clauses builds the WHERE fragment and arguments for the filter.
func (f Filter) clauses() (string, []any) {
	var (
		parts []string
		args  []any
	)
	if !f.From.IsZero() {
		parts = append(parts, "t.date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		parts = append(parts, "t.date <= ?")
		args = append(args, f.To.String())
	}
	if f.AccountID > 0 {
		parts = append(parts, "t.account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.CategoryID > 0 {
		parts = append(parts, "t.category_id = ?")
		args = append(args, f.CategoryID)
	}
	return strings.Join(parts, " AND "), args
}
