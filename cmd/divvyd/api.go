package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/ledger"
	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/replication"
	"github.com/divvyhq/divvy/internal/service"
	"github.com/divvyhq/divvy/internal/split"
	"github.com/divvyhq/divvy/internal/storage"
)

// expenseRequest is the JSON body for expense create/update.
type expenseRequest struct {
	Title        string                     `json:"title"`
	Amount       decimal.Decimal            `json:"amount"`
	Currency     string                     `json:"currency"`
	PayerID      string                     `json:"payer_id"`
	CreatedBy    string                     `json:"created_by"`
	Date         int64                      `json:"date"`
	Participants []string                   `json:"participants"`
	Strategy     split.Strategy             `json:"strategy"`
	Amounts      map[string]decimal.Decimal `json:"amounts,omitempty"`
	Percentages  map[string]decimal.Decimal `json:"percentages,omitempty"`
	Shares       map[string]int64           `json:"shares,omitempty"`
}

func (r *expenseRequest) input() split.Input {
	return split.Input{Amounts: r.Amounts, Percentages: r.Percentages, Shares: r.Shares}
}

type settlementRequest struct {
	FromUserID string          `json:"from_user_id"`
	ToUserID   string          `json:"to_user_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type resolveRequest struct {
	Resolution replication.Resolution `json:"resolution"`
}

func registerRoutes(mux *http.ServeMux, ledgerSvc *service.LedgerService, syncSvc *service.SyncService) {
	mux.HandleFunc("POST /api/groups/{groupID}/expenses", func(w http.ResponseWriter, r *http.Request) {
		var req expenseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		e := &models.Expense{
			GroupID:   r.PathValue("groupID"),
			Title:     req.Title,
			Amount:    req.Amount,
			Currency:  req.Currency,
			PayerID:   req.PayerID,
			CreatedBy: req.CreatedBy,
			Date:      req.Date,
		}
		splits, err := syncSvc.CreateExpense(r.Context(), e, req.Strategy, req.input(), req.Participants)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, models.ExpensePayload{Expense: *e, Splits: splits})
	})

	mux.HandleFunc("PUT /api/groups/{groupID}/expenses/{expenseID}", func(w http.ResponseWriter, r *http.Request) {
		var req expenseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		e := &models.Expense{
			ID:        r.PathValue("expenseID"),
			GroupID:   r.PathValue("groupID"),
			Title:     req.Title,
			Amount:    req.Amount,
			Currency:  req.Currency,
			PayerID:   req.PayerID,
			CreatedBy: req.CreatedBy,
			Date:      req.Date,
		}
		splits, err := syncSvc.UpdateExpense(r.Context(), e, req.Strategy, req.input(), req.Participants)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, models.ExpensePayload{Expense: *e, Splits: splits})
	})

	mux.HandleFunc("DELETE /api/expenses/{expenseID}", func(w http.ResponseWriter, r *http.Request) {
		if err := syncSvc.DeleteExpense(r.Context(), r.PathValue("expenseID")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/groups/{groupID}/settlements", func(w http.ResponseWriter, r *http.Request) {
		var req settlementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		st, err := syncSvc.RecordSettlement(r.Context(), r.PathValue("groupID"), req.FromUserID, req.ToUserID, req.Amount)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, st)
	})

	mux.HandleFunc("GET /api/groups/{groupID}/balances", func(w http.ResponseWriter, r *http.Request) {
		mode := ledger.Simplified
		if r.URL.Query().Get("mode") == string(ledger.Proportional) {
			mode = ledger.Proportional
		}
		view, err := ledgerSvc.View(r.Context(), r.PathValue("groupID"), mode)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})

	mux.HandleFunc("GET /api/sync/issues", func(w http.ResponseWriter, r *http.Request) {
		issues, err := syncSvc.Issues(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, issues)
	})

	mux.HandleFunc("POST /api/sync/issues/{opID}/retry", func(w http.ResponseWriter, r *http.Request) {
		opID, ok := parseOpID(w, r)
		if !ok {
			return
		}
		if err := syncSvc.Retry(r.Context(), opID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("DELETE /api/sync/issues/{opID}", func(w http.ResponseWriter, r *http.Request) {
		opID, ok := parseOpID(w, r)
		if !ok {
			return
		}
		if err := syncSvc.Acknowledge(r.Context(), opID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/sync/issues/{opID}/conflict", func(w http.ResponseWriter, r *http.Request) {
		opID, ok := parseOpID(w, r)
		if !ok {
			return
		}
		conflict, err := syncSvc.LoadConflict(r.Context(), opID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conflict)
	})

	mux.HandleFunc("POST /api/sync/issues/{opID}/resolve", func(w http.ResponseWriter, r *http.Request) {
		opID, ok := parseOpID(w, r)
		if !ok {
			return
		}
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := syncSvc.ResolveConflict(r.Context(), opID, req.Resolution); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/sync/trigger", func(w http.ResponseWriter, r *http.Request) {
		syncSvc.TriggerSync()
		w.WriteHeader(http.StatusAccepted)
	})
}

func parseOpID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	opID, err := strconv.ParseInt(r.PathValue("opID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return opID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeServiceError maps engine errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *split.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, replication.ErrRemoteMissing),
		errors.Is(err, replication.ErrNotConflicted):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
