// internal/model/operation.go
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationKind represents the card transaction a session performs
type OperationKind string

const (
	OperationRead    OperationKind = "read"
	OperationWrite   OperationKind = "write"
	OperationBalance OperationKind = "balance"
	OperationPayment OperationKind = "payment"
)

// ParseOperationKind validates a raw operation name. An empty name means read.
func ParseOperationKind(s string) (OperationKind, error) {
	if s == "" {
		return OperationRead, nil
	}
	kind := OperationKind(s)
	switch kind {
	case OperationRead, OperationWrite, OperationBalance, OperationPayment:
		return kind, nil
	}
	return "", fmt.Errorf("unknown operation kind: %s", s)
}

// ScanningState is the UI-facing status of a session
type ScanningState string

const (
	ScanningWaiting  ScanningState = "waiting"
	ScanningScanning ScanningState = "scanning"
	ScanningSuccess  ScanningState = "success"
	ScanningError    ScanningState = "error"
)

// OperationStatus represents the final status of a persisted card operation
type OperationStatus string

const (
	OperationStatusSuccess   OperationStatus = "SUCCESS"
	OperationStatusFailed    OperationStatus = "FAILED"
	OperationStatusCancelled OperationStatus = "CANCELLED"
)

// CardResult is the payload handed back to the caller when a session ends
type CardResult struct {
	Success   bool          `json:"success"`
	Operation OperationKind `json:"operation,omitempty"`
	TID       string        `json:"tid,omitempty"`

	// read and payment
	CustomerFound   *bool            `json:"partner_found,omitempty"`
	CustomerID      int64            `json:"partner_id,omitempty"`
	CustomerName    string           `json:"partner_name,omitempty"`
	CustomerBalance *decimal.Decimal `json:"partner_balance,omitempty"`

	// balance
	Balance *decimal.Decimal `json:"balance,omitempty"`
	// BalanceText holds a balance the reader sent as non-numeric text
	BalanceText string          `json:"balance_text,omitempty"`
	CardInfo    json.RawMessage `json:"card_info,omitempty"`

	// write
	WrittenData  string           `json:"written_data,omitempty"`
	CurrentMoney *decimal.Decimal `json:"current_money,omitempty"`

	// payment
	Amount     int64            `json:"amount,omitempty"`
	OldBalance *decimal.Decimal `json:"old_balance,omitempty"`
	NewBalance *decimal.Decimal `json:"new_balance,omitempty"`
}

// Found reports whether a customer record was matched
func (r *CardResult) Found() bool {
	return r != nil && r.CustomerFound != nil && *r.CustomerFound
}

// CardOperation is the persisted history entry of one finished session
type CardOperation struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	SessionID    uuid.UUID       `json:"session_id" db:"session_id"`
	Operation    OperationKind   `json:"operation" db:"operation"`
	CardTID      *string         `json:"card_tid" db:"card_tid"`
	Amount       *int64          `json:"amount" db:"amount"`
	Data         *string         `json:"data" db:"data"`
	Status       OperationStatus `json:"status" db:"status"`
	ErrorMessage *string         `json:"error_message" db:"error_message"`
	Result       JSONObject      `json:"result" db:"result"`
	ClientID     *string         `json:"client_id" db:"client_id"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	CompletedAt  time.Time       `json:"completed_at" db:"completed_at"`
	DurationMs   int             `json:"duration_ms" db:"duration_ms"`
}
