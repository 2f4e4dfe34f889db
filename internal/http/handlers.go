package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"tally/internal/core"
	"tally/internal/storage"
)

type accountJSON struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	BalanceCents int64  `json:"balance_cents"`
	Balance      string `json:"balance"`
}

type categoryJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type transactionJSON struct {
	ID          int64  `json:"id"`
	Date        string `json:"date"`
	Type        string `json:"type"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
	Account     string `json:"account"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accounts, err := s.ledger.ListAccounts(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]accountJSON, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, accountJSON{
				ID:           a.ID,
				Name:         a.Name,
				BalanceCents: a.Balance.Cents,
				Balance:      a.Balance.String(),
			})
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if err := s.ledger.CreateAccount(r.Context(), sanitizeInput(req.Name)); err != nil {
			writeError(w, err)
			return
		}
		s.dashboardCache.Purge()
		writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		categories, err := s.ledger.ListCategories(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]categoryJSON, 0, len(categories))
		for _, c := range categories {
			out = append(out, categoryJSON{ID: c.ID, Name: c.Name})
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if err := s.ledger.CreateCategory(r.Context(), sanitizeInput(req.Name)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleQueryTransactions(w, r)
	case http.MethodPost:
		s.handleRecordTransaction(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date        string `json:"date"`
		Type        string `json:"type"`
		Amount      string `json:"amount"`
		AccountID   int64  `json:"account_id"`
		CategoryID  int64  `json:"category_id"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	date, err := core.ParseDate(req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, core.ErrInvalidAmount)
		return
	}

	id, err := s.ledger.RecordTransaction(r.Context(), core.Transaction{
		Date:        date,
		Type:        core.TransactionType(req.Type),
		Amount:      core.Money{Cents: cents},
		AccountID:   req.AccountID,
		CategoryID:  req.CategoryID,
		Description: sanitizeInput(req.Description),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.dashboardCache.Purge()
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleQueryTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := s.ledger.QueryTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]transactionJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, transactionJSON{
			ID:          rec.ID,
			Date:        rec.Date.String(),
			Type:        string(rec.Type),
			AmountCents: rec.Amount.Cents,
			Amount:      rec.Amount.String(),
			Account:     rec.Account,
			Category:    rec.Category,
			Description: rec.Description,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTransactionByID serves DELETE /api/transactions/{id}.
func (s *Server) handleTransactionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid transaction id"})
		return
	}

	if err := s.ledger.DeleteTransaction(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	s.dashboardCache.Purge()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req struct {
		Date          string `json:"date"`
		Amount        string `json:"amount"`
		FromAccountID int64  `json:"from_account_id"`
		ToAccountID   int64  `json:"to_account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	date, err := core.ParseDate(req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, core.ErrInvalidAmount)
		return
	}

	expenseID, incomeID, err := s.ledger.Transfer(r.Context(),
		req.FromAccountID, req.ToAccountID, core.Money{Cents: cents}, date)
	if err != nil {
		writeError(w, err)
		return
	}

	s.dashboardCache.Purge()
	writeJSON(w, http.StatusCreated, map[string]int64{
		"expense_id": expenseID,
		"income_id":  incomeID,
	})
}

type dashboardJSON struct {
	TotalIncomeCents  int64             `json:"total_income_cents"`
	TotalExpenseCents int64             `json:"total_expense_cents"`
	NetCents          int64             `json:"net_cents"`
	Accounts          []accountJSON     `json:"accounts"`
	ByCategory        []categorySumJSON `json:"by_category"`
	Monthly           []monthPointJSON  `json:"monthly"`
}

type categorySumJSON struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
}

type monthPointJSON struct {
	Year         int   `json:"year"`
	Month        int   `json:"month"`
	IncomeCents  int64 `json:"income_cents"`
	ExpenseCents int64 `json:"expense_cents"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	key := dashboardCacheKey(filter)
	d, found := s.dashboardCache.Get(key)
	if !found {
		d, err = s.ledger.Dashboard(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		s.dashboardCache.Set(key, d)
	} else {
		slog.DebugContext(r.Context(), "Dashboard cache hit", "key", key)
	}

	out := dashboardJSON{
		TotalIncomeCents:  d.Overview.TotalIncome.Cents,
		TotalExpenseCents: d.Overview.TotalExpense.Cents,
		NetCents:          d.Overview.Net.Cents,
	}
	for _, a := range d.Overview.Accounts {
		out.Accounts = append(out.Accounts, accountJSON{
			ID:           a.ID,
			Name:         a.Name,
			BalanceCents: a.Balance.Cents,
			Balance:      a.Balance.String(),
		})
	}
	for _, c := range d.ByCategory {
		out.ByCategory = append(out.ByCategory, categorySumJSON{
			Name:        c.Name,
			AmountCents: c.Amount.Cents,
			Amount:      c.Amount.String(),
		})
	}
	for _, m := range d.Monthly {
		out.Monthly = append(out.Monthly, monthPointJSON{
			Year:         m.Year,
			Month:        m.Month,
			IncomeCents:  m.Income.Cents,
			ExpenseCents: m.Expense.Cents,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func dashboardCacheKey(f storage.Filter) string {
	return f.From.String() + "|" + f.To.String() + "|" +
		strconv.FormatInt(f.AccountID, 10) + "|" + strconv.FormatInt(f.CategoryID, 10)
}
