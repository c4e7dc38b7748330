// internal/model/customer.go
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is the stored record keyed by card identifier. Its balance is the
// authoritative one for payments.
type Customer struct {
	ID        int64           `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	CardTID   string          `json:"card_tid" db:"card_tid"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Currency  string          `json:"currency" db:"currency"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// CanAfford reports whether the balance covers amount
func (c *Customer) CanAfford(amount decimal.Decimal) bool {
	return c.Balance.GreaterThanOrEqual(amount)
}
