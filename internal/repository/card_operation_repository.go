// internal/repository/card_operation_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"card-service/internal/database"
	"card-service/internal/model"
)

// ErrOperationNotFound is returned when no card operation matches
var ErrOperationNotFound = errors.New("card operation not found")

const cardOperationColumns = `id, session_id, operation, card_tid, amount, data, status,
		error_message, result, client_id, started_at, completed_at, duration_ms`

// sortableColumns whitelists ORDER BY targets
var sortableColumns = map[string]bool{
	"started_at":   true,
	"completed_at": true,
	"duration_ms":  true,
	"operation":    true,
	"status":       true,
}

// cardOperationRepository implements CardOperationRepository interface
type cardOperationRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewCardOperationRepository creates a new card operation repository
func NewCardOperationRepository(db *database.DB, logger *zap.Logger) CardOperationRepository {
	return &cardOperationRepository{
		db:     db,
		logger: logger.With(zap.String("component", "card-operation-repository")),
	}
}

// Create stores a finished card operation
func (r *cardOperationRepository) Create(ctx context.Context, operation *model.CardOperation) error {
	query := `
		INSERT INTO card_operations (
			id, session_id, operation, card_tid, amount, data, status,
			error_message, result, client_id, started_at, completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		operation.ID, operation.SessionID, operation.Operation, operation.CardTID,
		operation.Amount, operation.Data, operation.Status, operation.ErrorMessage,
		operation.Result, operation.ClientID, operation.StartedAt, operation.CompletedAt,
		operation.DurationMs,
	)

	if err != nil {
		r.logger.Error("Failed to create card operation", zap.Error(err))
		return fmt.Errorf("failed to create card operation: %w", err)
	}

	return nil
}

// GetByID retrieves a card operation by ID
func (r *cardOperationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CardOperation, error) {
	query := fmt.Sprintf(`SELECT %s FROM card_operations WHERE id = $1`, cardOperationColumns)

	operation, err := scanCardOperation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w with id: %s", ErrOperationNotFound, id)
		}
		return nil, fmt.Errorf("failed to get card operation: %w", err)
	}

	return operation, nil
}

// List retrieves card operations with filtering and pagination
func (r *cardOperationRepository) List(ctx context.Context, filter *CardOperationFilter) ([]*model.CardOperation, int, error) {
	// Build WHERE clause
	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.Operation != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("operation = $%d", argIndex))
		args = append(args, *filter.Operation)
		argIndex++
	}

	if filter.Status != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	if filter.CardTID != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("card_tid = $%d", argIndex))
		args = append(args, *filter.CardTID)
		argIndex++
	}

	if filter.SessionID != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("session_id = $%d", argIndex))
		args = append(args, *filter.SessionID)
		argIndex++
	}

	if filter.StartDate != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("started_at >= $%d", argIndex))
		args = append(args, *filter.StartDate)
		argIndex++
	}

	if filter.EndDate != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("started_at <= $%d", argIndex))
		args = append(args, *filter.EndDate)
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	// Count total records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM card_operations %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count card operations: %w", err)
	}

	orderBy := "started_at DESC"
	if sortableColumns[filter.SortBy] {
		order := "ASC"
		if strings.EqualFold(filter.SortOrder, "desc") {
			order = "DESC"
		}
		orderBy = fmt.Sprintf("%s %s", filter.SortBy, order)
	}

	page, perPage := filter.Page, filter.PerPage
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	query := fmt.Sprintf(`
		SELECT %s
		FROM card_operations %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, cardOperationColumns, whereClause, orderBy, argIndex, argIndex+1)

	args = append(args, perPage, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list card operations: %w", err)
	}
	defer rows.Close()

	operations := []*model.CardOperation{}
	for rows.Next() {
		operation, err := scanCardOperation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan card operation: %w", err)
		}
		operations = append(operations, operation)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate card operations: %w", err)
	}

	return operations, total, nil
}

// DeleteOldOperations removes records completed before olderThan
func (r *cardOperationRepository) DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM card_operations WHERE completed_at < $1`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old card operations: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Deleted old card operations",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("older_than", olderThan),
	)

	return rowsAffected, nil
}

func scanCardOperation(row rowScanner) (*model.CardOperation, error) {
	operation := &model.CardOperation{}
	err := row.Scan(
		&operation.ID, &operation.SessionID, &operation.Operation, &operation.CardTID,
		&operation.Amount, &operation.Data, &operation.Status, &operation.ErrorMessage,
		&operation.Result, &operation.ClientID, &operation.StartedAt, &operation.CompletedAt,
		&operation.DurationMs,
	)
	if err != nil {
		return nil, err
	}
	return operation, nil
}
