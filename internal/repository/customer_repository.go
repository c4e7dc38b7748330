// internal/repository/customer_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"card-service/internal/database"
	"card-service/internal/model"
)

// ErrCustomerNotFound is returned when no customer matches
var ErrCustomerNotFound = errors.New("customer not found")

const customerColumns = `id, name, card_tid, balance, currency, created_at, updated_at`

// customerRepository implements CustomerRepository interface
type customerRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *database.DB, logger *zap.Logger) CustomerRepository {
	return &customerRepository{
		db:     db,
		logger: logger.With(zap.String("component", "customer-repository")),
	}
}

// Search retrieves customers matching the filter
func (r *customerRepository) Search(ctx context.Context, filter *CustomerFilter) ([]*model.Customer, error) {
	if filter == nil {
		filter = &CustomerFilter{}
	}

	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.CardTID != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("card_tid = $%d", argIndex))
		args = append(args, *filter.CardTID)
		argIndex++
	}

	if filter.Name != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("name ILIKE $%d", argIndex))
		args = append(args, "%"+*filter.Name+"%")
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	limitClause := ""
	if filter.Limit > 0 {
		limitClause = fmt.Sprintf("LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM customers %s
		ORDER BY id ASC
		%s
	`, customerColumns, whereClause, limitClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search customers: %w", err)
	}
	defer rows.Close()

	customers := []*model.Customer{}
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}

	return customers, nil
}

// GetByID retrieves a customer by ID
func (r *customerRepository) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	query := fmt.Sprintf(`SELECT %s FROM customers WHERE id = $1`, customerColumns)

	customer, err := scanCustomer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w with id: %d", ErrCustomerNotFound, id)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return customer, nil
}

// UpdateBalance sets the balance of the listed customers
func (r *customerRepository) UpdateBalance(ctx context.Context, ids []int64, balance decimal.Decimal) error {
	if len(ids) == 0 {
		return fmt.Errorf("no customer ids given")
	}

	query := `UPDATE customers SET balance = $1, updated_at = NOW() WHERE id = ANY($2)`

	result, err := r.db.ExecContext(ctx, query, balance, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to update customer balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w with ids: %v", ErrCustomerNotFound, ids)
	}

	r.logger.Info("Customer balance updated",
		zap.Int64s("customer_ids", ids),
		zap.String("balance", balance.String()),
	)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(row rowScanner) (*model.Customer, error) {
	customer := &model.Customer{}
	err := row.Scan(
		&customer.ID, &customer.Name, &customer.CardTID, &customer.Balance,
		&customer.Currency, &customer.CreatedAt, &customer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return customer, nil
}
