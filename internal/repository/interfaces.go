// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"card-service/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustomerRepository defines customer record access. It is the data store
// consulted by card sessions for lookups and balance debits.
type CustomerRepository interface {
	// Search returns matching customers; no match is an empty slice
	Search(ctx context.Context, filter *CustomerFilter) ([]*model.Customer, error)
	GetByID(ctx context.Context, id int64) (*model.Customer, error)

	// UpdateBalance sets the balance of every listed customer
	UpdateBalance(ctx context.Context, ids []int64, balance decimal.Decimal) error
}

// CardOperationRepository defines card operation history access
type CardOperationRepository interface {
	Create(ctx context.Context, operation *model.CardOperation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.CardOperation, error)

	// Listing and filtering
	List(ctx context.Context, filter *CardOperationFilter) ([]*model.CardOperation, int, error)

	// Cleanup
	DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error)
}

// Filter structures

// CustomerFilter represents customer search filters
type CustomerFilter struct {
	CardTID *string `json:"card_tid,omitempty"`
	Name    *string `json:"name,omitempty"`
	Limit   int     `json:"limit"`
}

// CardOperationFilter represents card operation listing filters
type CardOperationFilter struct {
	Operation *model.OperationKind   `json:"operation,omitempty"`
	Status    *model.OperationStatus `json:"status,omitempty"`
	CardTID   *string                `json:"card_tid,omitempty"`
	SessionID *uuid.UUID             `json:"session_id,omitempty"`
	StartDate *time.Time             `json:"start_date,omitempty"`
	EndDate   *time.Time             `json:"end_date,omitempty"`
	Page      int                    `json:"page"`
	PerPage   int                    `json:"per_page"`
	SortBy    string                 `json:"sort_by"`
	SortOrder string                 `json:"sort_order"`
}
