package http

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// handleExportCSV streams the filtered transaction list as CSV.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

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

	filename := fmt.Sprintf("transactions_%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"ID", "Date", "Type", "Amount", "Account", "Category", "Description"})
	for _, rec := range records {
		_ = cw.Write([]string{
			fmt.Sprintf("%d", rec.ID),
			rec.Date.String(),
			string(rec.Type),
			rec.Amount.String(),
			rec.Account,
			rec.Category,
			rec.Description,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.ErrorContext(r.Context(), "CSV export failed", "error", err)
	}
}

// handleExportBackup serves the SQLite database file for download.
func (s *Server) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	path := s.ledger.DatabasePath()
	info, err := os.Stat(path)
	if err != nil {
		slog.ErrorContext(r.Context(), "Backup file unavailable", "path", path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "database file unavailable"})
		return
	}

	filename := fmt.Sprintf("backup_%s_%s", time.Now().Format("2006-01-02"), filepath.Base(path))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))

	http.ServeFile(w, r, path)
}
