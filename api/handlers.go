/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the transaction engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Transactions:
    POST   /api/transactions          Process a money-movement operation
    GET    /api/transactions/{id}     Get a transaction

  Accounts:
    POST   /api/accounts              Create account
    GET    /api/accounts/{id}         Get account and balances
    GET    /api/accounts/{id}/transactions  Transaction history

ERROR HANDLING:
  - 400: Validation errors (unknown operation, bad amount, missing linkage)
  - 404: Opaque-id lookups that miss
  - 409: External-id collisions on account creation
  - 500: Infrastructure errors

  Business failures (insufficient funds, inactive account, ...) are NOT
  HTTP errors: the transaction is persisted as Failed and returned with
  status "failed". Idempotent replays return 200 with the original
  transaction id; a newly created transaction returns 201.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ProcessTransaction applies one money-movement request.
func (h *Handler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	var req ProcessTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Engine.Process(r.Context(), ledger.Request{
		Operation:             req.Operation,
		AccountID:             req.AccountID,
		Amount:                ledger.Money(req.Amount),
		Currency:              req.Currency,
		ReferenceID:           req.ReferenceID,
		TargetAccountID:       req.TargetAccountID,
		OriginalTransactionID: req.OriginalTransactionID,
		Metadata:              req.Metadata,
	})
	if err != nil {
		switch {
		case ledger.IsValidation(err):
			writeError(w, http.StatusBadRequest, "Invalid request", err)
		case ledger.IsNotFound(err):
			writeError(w, http.StatusNotFound, "Not found", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to process transaction", err)
		}
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toProcessResponse(res))
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	txn, err := h.Engine.Store().GetTransaction(r.Context(), ledger.TransactionID(id))
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Transaction not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount provisions a fresh Active account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CreditLimit < 0 {
		writeError(w, http.StatusBadRequest, "Credit limit must not be negative", nil)
		return
	}

	a, err := h.Engine.CreateAccount(r.Context(), req.ExternalID, ledger.Money(req.CreditLimit))
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateReference) {
			writeError(w, http.StatusConflict, "External id already exists", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(a))
}

// GetAccount returns an account with its balances.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.Engine.Store().GetAccount(r.Context(), ledger.AccountID(id))
	if errors.Is(err, ledger.ErrAccountNotFound) {
		a, err = h.Engine.Store().GetAccountByExternalID(r.Context(), id)
	}
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Account not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a))
}

// ListAccountTransactions returns an account's transaction history, newest first.
func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.Engine.Store().GetAccount(r.Context(), ledger.AccountID(id))
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Account not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get account", err)
		return
	}

	txns, err := h.Engine.Store().ListTransactions(r.Context(), a.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionResponse, len(txns))
	for i, t := range txns {
		dtos[i] = toTransactionResponse(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": dtos})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
