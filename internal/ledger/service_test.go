package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/storage"
)

// recordingPublisher captures publish calls, optionally failing them.
type recordingPublisher struct {
	syncs   []int64
	deletes []*amqp.TransactionDeleteMessage
	fail    bool
}

func (p *recordingPublisher) PublishTransactionSync(ctx context.Context, id, version int64) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.syncs = append(p.syncs, id)
	return nil
}

func (p *recordingPublisher) PublishTransactionDelete(ctx context.Context, msg *amqp.TransactionDeleteMessage) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.deletes = append(p.deletes, msg)
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	pub := &recordingPublisher{}
	return NewService(repo, pub), pub
}

func ids(t *testing.T, svc *Service) (cashID, bankID, salaryID, foodID int64) {
	t.Helper()
	ctx := context.Background()
	accounts, err := svc.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	for _, a := range accounts {
		switch a.Name {
		case "Cash":
			cashID = a.ID
		case "Bank":
			bankID = a.ID
		}
	}
	categories, err := svc.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	for _, c := range categories {
		switch c.Name {
		case "Salary":
			salaryID = c.ID
		case "Food":
			foodID = c.ID
		}
	}
	return
}

func TestCreateAccountValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid", "Savings", nil},
		{"blank", "   ", core.ErrEmptyName},
		{"empty", "", core.ErrEmptyName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CreateAccount(ctx, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateAccount(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestRecordTransactionPublishesSync(t *testing.T) {
	svc, pub := newTestService(t)
	cashID, _, salaryID, _ := ids(t, svc)

	id, err := svc.RecordTransaction(context.Background(), core.Transaction{
		Date:       core.NewDate(2025, 1, 1),
		Type:       core.Income,
		Amount:     core.Money{Cents: 5000},
		AccountID:  cashID,
		CategoryID: salaryID,
	})
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if len(pub.syncs) != 1 || pub.syncs[0] != id {
		t.Errorf("published syncs = %v, want [%d]", pub.syncs, id)
	}
}

func TestRecordTransactionValidation(t *testing.T) {
	svc, pub := newTestService(t)
	cashID, _, salaryID, _ := ids(t, svc)

	base := core.Transaction{
		Date:       core.NewDate(2025, 1, 1),
		Type:       core.Income,
		Amount:     core.Money{Cents: 5000},
		AccountID:  cashID,
		CategoryID: salaryID,
	}

	tests := []struct {
		name    string
		mutate  func(*core.Transaction)
		wantErr error
	}{
		{"zero amount", func(tr *core.Transaction) { tr.Amount.Cents = 0 }, core.ErrInvalidAmount},
		{"negative amount", func(tr *core.Transaction) { tr.Amount.Cents = -1 }, core.ErrInvalidAmount},
		{"bad type", func(tr *core.Transaction) { tr.Type = "Refund" }, core.ErrInvalidType},
		{"zero date", func(tr *core.Transaction) { tr.Date = core.Date{} }, core.ErrInvalidDate},
		{"no account", func(tr *core.Transaction) { tr.AccountID = 0 }, core.ErrInvalidAccount},
		{"no category", func(tr *core.Transaction) { tr.CategoryID = 0 }, core.ErrInvalidCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := base
			tt.mutate(&tr)
			if _, err := svc.RecordTransaction(context.Background(), tr); !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
	if len(pub.syncs) != 0 {
		t.Errorf("rejected transactions must not publish, got %v", pub.syncs)
	}
}

func TestTransferValidation(t *testing.T) {
	svc, _ := newTestService(t)
	cashID, bankID, salaryID, _ := ids(t, svc)
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, core.Transaction{
		Date:       core.NewDate(2025, 1, 1),
		Type:       core.Income,
		Amount:     core.Money{Cents: 10000},
		AccountID:  cashID,
		CategoryID: salaryID,
	}); err != nil {
		t.Fatalf("seed income: %v", err)
	}

	date := core.NewDate(2025, 1, 2)
	tests := []struct {
		name     string
		from, to int64
		cents    int64
		wantErr  error
	}{
		{"same account", cashID, cashID, 100, core.ErrSameAccount},
		{"zero amount", cashID, bankID, 0, core.ErrInvalidAmount},
		{"negative amount", cashID, bankID, -5, core.ErrInvalidAmount},
		{"missing source", 0, bankID, 100, core.ErrInvalidAccount},
		{"insufficient", cashID, bankID, 10001, core.ErrInsufficientBalance},
		{"ok", cashID, bankID, 10000, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Transfer(ctx, tt.from, tt.to, core.Money{Cents: tt.cents}, date)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Transfer = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransferPublishesBothLegs(t *testing.T) {
	svc, pub := newTestService(t)
	cashID, bankID, salaryID, _ := ids(t, svc)
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, core.Transaction{
		Date:       core.NewDate(2025, 1, 1),
		Type:       core.Income,
		Amount:     core.Money{Cents: 10000},
		AccountID:  cashID,
		CategoryID: salaryID,
	}); err != nil {
		t.Fatalf("seed income: %v", err)
	}

	expID, incID, err := svc.Transfer(ctx, cashID, bankID, core.Money{Cents: 2500}, core.NewDate(2025, 1, 2))
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if len(pub.syncs) != 3 {
		t.Fatalf("expected 3 sync messages (income + both legs), got %d", len(pub.syncs))
	}
	if pub.syncs[1] != expID || pub.syncs[2] != incID {
		t.Errorf("leg syncs = %v, want %d then %d", pub.syncs[1:], expID, incID)
	}
}

func TestDeletePublishesRemovedRow(t *testing.T) {
	svc, pub := newTestService(t)
	cashID, _, _, foodID := ids(t, svc)
	ctx := context.Background()

	// Seed balance so the expense is meaningful, then delete it.
	_, _, salaryID, _ := ids(t, svc)
	if _, err := svc.RecordTransaction(ctx, core.Transaction{
		Date:       core.NewDate(2025, 1, 1),
		Type:       core.Income,
		Amount:     core.Money{Cents: 10000},
		AccountID:  cashID,
		CategoryID: salaryID,
	}); err != nil {
		t.Fatalf("seed income: %v", err)
	}
	id, err := svc.RecordTransaction(ctx, core.Transaction{
		Date:        core.NewDate(2025, 1, 2),
		Type:        core.Expense,
		Amount:      core.Money{Cents: 1500},
		AccountID:   cashID,
		CategoryID:  foodID,
		Description: "groceries",
	})
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}

	if err := svc.DeleteTransaction(ctx, id); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if len(pub.deletes) != 1 {
		t.Fatalf("expected 1 delete message, got %d", len(pub.deletes))
	}
	msg := pub.deletes[0]
	if msg.ID != id || msg.Type != "Expense" || msg.AmountCents != 1500 || msg.Account != "Cash" || msg.Category != "Food" {
		t.Errorf("delete message = %+v", msg)
	}

	if err := svc.DeleteTransaction(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	svc, pub := newTestService(t)
	pub.fail = true
	cashID, _, salaryID, _ := ids(t, svc)
	ctx := context.Background()

	id, err := svc.RecordTransaction(ctx, core.Transaction{
		Date:       core.NewDate(2025, 1, 1),
		Type:       core.Income,
		Amount:     core.Money{Cents: 5000},
		AccountID:  cashID,
		CategoryID: salaryID,
	})
	if err != nil {
		t.Fatalf("RecordTransaction should succeed despite publish failure: %v", err)
	}
	if err := svc.DeleteTransaction(ctx, id); err != nil {
		t.Fatalf("DeleteTransaction should succeed despite publish failure: %v", err)
	}
}

func TestDashboard(t *testing.T) {
	svc, _ := newTestService(t)
	cashID, _, salaryID, foodID := ids(t, svc)
	ctx := context.Background()

	if _, err := svc.RecordTransaction(ctx, core.Transaction{
		Date:       core.NewDate(2025, 1, 5),
		Type:       core.Income,
		Amount:     core.Money{Cents: 300000},
		AccountID:  cashID,
		CategoryID: salaryID,
	}); err != nil {
		t.Fatalf("record income: %v", err)
	}
	if _, err := svc.RecordTransaction(ctx, core.Transaction{
		Date:       core.NewDate(2025, 1, 6),
		Type:       core.Expense,
		Amount:     core.Money{Cents: 40000},
		AccountID:  cashID,
		CategoryID: foodID,
	}); err != nil {
		t.Fatalf("record expense: %v", err)
	}

	d, err := svc.Dashboard(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.Overview.Net.Cents != 260000 {
		t.Errorf("Net = %d, want 260000", d.Overview.Net.Cents)
	}
	if len(d.ByCategory) != 1 || d.ByCategory[0].Name != "Food" {
		t.Errorf("ByCategory = %+v", d.ByCategory)
	}
	if len(d.Monthly) != 1 {
		t.Errorf("Monthly = %+v", d.Monthly)
	}

	// Inverted range is rejected before touching storage.
	_, err = svc.Dashboard(ctx, storage.Filter{
		From: core.NewDate(2025, 2, 1),
		To:   core.NewDate(2025, 1, 1),
	})
	if !errors.Is(err, core.ErrInvalidDate) {
		t.Errorf("inverted range = %v, want ErrInvalidDate", err)
	}
}
