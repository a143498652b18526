/*
dto.go - Wire-format data structures

PURPOSE:
  Request/response shapes for the HTTP API. Fields are snake_case on the
  wire; amounts are always integer minor units (cents); timestamps are
  ISO-8601 UTC.

SEE ALSO:
  - handlers.go: Serialization and status mapping
*/
package api

import (
	"time"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// ProcessTransactionRequest is the inbound money-movement request.
// Operation is case-insensitive; amount is integer minor units.
type ProcessTransactionRequest struct {
	Operation             string `json:"operation"`
	AccountID             string `json:"account_id"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
	ReferenceID           string `json:"reference_id"`
	TargetAccountID       string `json:"target_account_id,omitempty"`
	OriginalTransactionID string `json:"original_transaction_id,omitempty"`
	Metadata              string `json:"metadata,omitempty"`
}

// CreateAccountRequest provisions an account. CreditLimit is minor units.
type CreateAccountRequest struct {
	ExternalID  string `json:"external_id,omitempty"`
	CreditLimit int64  `json:"credit_limit,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// ProcessTransactionResponse is the post-operation projection.
type ProcessTransactionResponse struct {
	TransactionID    string `json:"transaction_id"`
	Status           string `json:"status"` // success | failed | pending
	Balance          int64  `json:"balance"`
	ReservedBalance  int64  `json:"reserved_balance"`
	AvailableBalance int64  `json:"available_balance"`
	Timestamp        string `json:"timestamp"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

type AccountResponse struct {
	ID               string `json:"id"`
	ExternalID       string `json:"external_id,omitempty"`
	Balance          int64  `json:"balance"`
	ReservedBalance  int64  `json:"reserved_balance"`
	AvailableBalance int64  `json:"available_balance"`
	CreditLimit      int64  `json:"credit_limit"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type TransactionResponse struct {
	ID                    string `json:"id"`
	ReferenceID           string `json:"reference_id"`
	Operation             string `json:"operation"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency,omitempty"`
	AccountID             string `json:"account_id"`
	TargetAccountID       string `json:"target_account_id,omitempty"`
	OriginalTransactionID string `json:"original_transaction_id,omitempty"`
	Status                string `json:"status"`
	ErrorMessage          string `json:"error_message,omitempty"`
	CreatedAt             string `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toProcessResponse(res *ledger.Result) ProcessTransactionResponse {
	return ProcessTransactionResponse{
		TransactionID:    string(res.Transaction.ID),
		Status:           ledger.ResultStatus(res.Transaction.Status),
		Balance:          int64(res.Account.Balance),
		ReservedBalance:  int64(res.Account.ReservedBalance),
		AvailableBalance: int64(res.Account.Available()),
		Timestamp:        res.Transaction.UpdatedAt.UTC().Format(time.RFC3339),
		ErrorMessage:     res.Transaction.ErrorMessage,
	}
}

func toAccountResponse(a *ledger.Account) AccountResponse {
	return AccountResponse{
		ID:               string(a.ID),
		ExternalID:       a.ExternalID,
		Balance:          int64(a.Balance),
		ReservedBalance:  int64(a.ReservedBalance),
		AvailableBalance: int64(a.Available()),
		CreditLimit:      int64(a.CreditLimit),
		Status:           string(a.Status),
		CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toTransactionResponse(t *ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:                    string(t.ID),
		ReferenceID:           t.ReferenceID,
		Operation:             string(t.Operation),
		Amount:                int64(t.Amount),
		Currency:              t.Currency,
		AccountID:             string(t.AccountID),
		TargetAccountID:       string(t.TargetAccountID),
		OriginalTransactionID: string(t.OriginalTransactionID),
		Status:                ledger.ResultStatus(t.Status),
		ErrorMessage:          t.ErrorMessage,
		CreatedAt:             t.CreatedAt.UTC().Format(time.RFC3339),
	}
}
