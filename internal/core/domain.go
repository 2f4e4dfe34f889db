package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TransactionType = "Income"
	Expense TransactionType = "Expense"

	// TransferCategory is the reserved category name used for both legs
	// of an inter-account transfer. At most one such category ever exists.
	TransferCategory = "Transfer"
)

type (
	TransactionType string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Account struct {
		ID      int64
		Name    string
		Balance Money
	}

	Category struct {
		ID   int64
		Name string
	}

	Transaction struct {
		ID          int64
		Date        Date
		Type        TransactionType
		Amount      Money
		AccountID   int64
		CategoryID  int64
		Description string
	}

	// TransactionRecord is a transaction joined to its account and
	// category names, as returned by queries.
	TransactionRecord struct {
		ID          int64
		Date        Date
		Type        TransactionType
		Amount      Money
		Account     string
		Category    string
		Description string
	}
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidType         = errors.New("invalid transaction type")
	ErrInvalidDate         = errors.New("invalid date")
	ErrInvalidAccount      = errors.New("invalid account reference")
	ErrInvalidCategory     = errors.New("invalid category reference")
	ErrEmptyName           = errors.New("empty name")
	ErrSameAccount         = errors.New("source and destination accounts are the same")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("transaction not found")
)

// Signed returns the balance effect of amount under the given type:
// positive for income, negative for expense.
func (t TransactionType) Signed(m Money) Money {
	if t == Expense {
		return Money{Cents: -m.Cents}
	}
	return Money{Cents: m.Cents}
}

func (t TransactionType) Validate() error {
	switch t {
	case Income, Expense:
		return nil
	}
	return ErrInvalidType
}

// NewDate creates a Date from year, month, day. The time component is
// always midnight UTC so dates compare as calendar days.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	if y := d.Year(); y < 1900 || y > 2200 {
		return ErrInvalidDate
	}
	return nil
}

// String renders the date as YYYY-MM-DD, the persisted form.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (tx Transaction) Validate() error {
	if err := tx.Date.Validate(); err != nil {
		return err
	}
	if err := tx.Type.Validate(); err != nil {
		return err
	}
	if err := tx.Amount.Validate(); err != nil {
		return err
	}
	if tx.AccountID <= 0 {
		return ErrInvalidAccount
	}
	if tx.CategoryID <= 0 {
		return ErrInvalidCategory
	}
	if len(tx.Description) > 500 {
		return errors.New("description too long (max 500 characters)")
	}
	return nil
}

// ValidateName checks account and category names before creation.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	return nil
}
