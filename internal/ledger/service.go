// Package ledger is the service layer between the HTTP surface and
// storage. It owns input validation and the best-effort publication of
// sync messages for the spreadsheet mirror.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/storage"
)

// Publisher is the slice of the AMQP client the service needs. A nil
// Publisher disables mirroring.
type Publisher interface {
	PublishTransactionSync(ctx context.Context, id, version int64) error
	PublishTransactionDelete(ctx context.Context, msg *amqp.TransactionDeleteMessage) error
}

type Service struct {
	storage   *storage.SQLiteRepository
	publisher Publisher
}

func NewService(storage *storage.SQLiteRepository, publisher Publisher) *Service {
	return &Service{
		storage:   storage,
		publisher: publisher,
	}
}

// CreateAccount validates the name and creates the account. Duplicate
// names are accepted and leave the existing account untouched.
func (s *Service) CreateAccount(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := core.ValidateName(name); err != nil {
		return err
	}
	return s.storage.CreateAccount(ctx, name)
}

// CreateCategory validates the name and creates the category.
func (s *Service) CreateCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := core.ValidateName(name); err != nil {
		return err
	}
	return s.storage.CreateCategory(ctx, name)
}

func (s *Service) ListAccounts(ctx context.Context) ([]core.Account, error) {
	return s.storage.ListAccounts(ctx)
}

func (s *Service) ListCategories(ctx context.Context) ([]core.Category, error) {
	return s.storage.ListCategories(ctx)
}

// RecordTransaction validates and saves a transaction, adjusting the
// account balance, then publishes a sync message. A publish failure is
// logged but never fails the request: the row is saved locally and the
// worker's sweep will find it.
func (s *Service) RecordTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	t.Description = strings.TrimSpace(t.Description)
	if err := t.Validate(); err != nil {
		return 0, err
	}

	id, err := s.storage.RecordTransaction(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("record transaction: %w", err)
	}

	s.publishSync(ctx, id)
	return id, nil
}

// Transfer moves amount between two distinct accounts as an atomic
// pair of transactions under the reserved Transfer category.
func (s *Service) Transfer(ctx context.Context, fromID, toID int64, amount core.Money, date core.Date) (expenseID, incomeID int64, err error) {
	if fromID <= 0 || toID <= 0 {
		return 0, 0, core.ErrInvalidAccount
	}
	if fromID == toID {
		return 0, 0, core.ErrSameAccount
	}
	if err := amount.Validate(); err != nil {
		return 0, 0, err
	}
	if err := date.Validate(); err != nil {
		return 0, 0, err
	}

	expenseID, incomeID, err = s.storage.Transfer(ctx, fromID, toID, amount, date)
	if err != nil {
		return 0, 0, err
	}

	s.publishSync(ctx, expenseID)
	s.publishSync(ctx, incomeID)
	return expenseID, incomeID, nil
}

// DeleteTransaction removes a transaction and reverses its balance
// effect, then publishes a delete message carrying the removed row so
// the spreadsheet can append a reversal.
func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	rec, err := s.storage.GetTransaction(ctx, id)
	if err != nil {
		return err
	}

	if err := s.storage.DeleteTransaction(ctx, id); err != nil {
		return err
	}

	if s.publisher == nil {
		return nil
	}
	msg := &amqp.TransactionDeleteMessage{
		ID:          rec.ID,
		Date:        rec.Date.String(),
		Type:        string(rec.Type),
		AmountCents: rec.Amount.Cents,
		Account:     rec.Account,
		Category:    rec.Category,
	}
	if err := s.publisher.PublishTransactionDelete(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish delete message",
			"id", id, "error", err)
		// Row is already deleted locally, don't fail the request.
	}
	return nil
}

func (s *Service) QueryTransactions(ctx context.Context, f storage.Filter) ([]core.TransactionRecord, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return s.storage.QueryTransactions(ctx, f)
}

// Dashboard bundles everything the dashboard page shows.
type Dashboard struct {
	Overview   core.Overview
	ByCategory []core.CategoryAmount
	Monthly    []core.MonthPoint
}

func (s *Service) Dashboard(ctx context.Context, f storage.Filter) (Dashboard, error) {
	if err := validateFilter(f); err != nil {
		return Dashboard{}, err
	}

	overview, err := s.storage.Overview(ctx, f)
	if err != nil {
		return Dashboard{}, err
	}
	byCategory, err := s.storage.CategoryBreakdown(ctx, f)
	if err != nil {
		return Dashboard{}, err
	}
	monthly, err := s.storage.MonthlySeries(ctx, f)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Overview: overview, ByCategory: byCategory, Monthly: monthly}, nil
}

// DatabasePath exposes the SQLite file location for the backup
// download endpoint.
func (s *Service) DatabasePath() string {
	return s.storage.Path()
}

func (s *Service) publishSync(ctx context.Context, id int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransactionSync(ctx, id, 1); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"id", id, "error", err)
	}
}

func validateFilter(f storage.Filter) error {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From.Time) {
		return core.ErrInvalidDate
	}
	return nil
}

// Close closes the storage and AMQP connections.
func (s *Service) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}
	return nil
}
