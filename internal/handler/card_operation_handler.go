// internal/handler/card_operation_handler.go
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"card-service/internal/model"
	"card-service/internal/protocol"
	"card-service/internal/repository"
	"card-service/internal/service"
	"card-service/internal/utils"
)

// CardOperationHandler handles card operation history and the running session
type CardOperationHandler struct {
	cardService *service.CardService
	logger      *utils.ServiceLogger
}

// NewCardOperationHandler creates a new card operation handler
func NewCardOperationHandler(cardService *service.CardService, logger *zap.Logger) *CardOperationHandler {
	return &CardOperationHandler{
		cardService: cardService,
		logger:      utils.NewServiceLogger(logger, "card-operation-handler"),
	}
}

// CurrentSessionResponse describes the running session
type CurrentSessionResponse struct {
	SessionID  uuid.UUID                `json:"session_id"`
	Operation  model.OperationKind      `json:"operation"`
	ClientID   string                   `json:"client_id,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	Snapshot   model.SessionSnapshot    `json:"snapshot"`
	Connection protocol.ConnectionStats `json:"connection"`
}

// ListOperations handles card operation history listing
// @Summary List card operations
// @Description Get recorded card sessions with filtering and pagination
// @Tags Card Operations
// @Accept json
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param operation query string false "Filter by operation" Enums(read, write, balance, payment)
// @Param status query string false "Filter by status" Enums(SUCCESS, FAILED, CANCELLED)
// @Param tid query string false "Filter by card TID"
// @Param session_id query string false "Filter by session ID"
// @Param start_date query string false "Start date filter (RFC3339)"
// @Param end_date query string false "End date filter (RFC3339)"
// @Param sort_by query string false "Sort column" Enums(started_at, completed_at, duration_ms, operation, status)
// @Param sort_order query string false "Sort order" Enums(asc, desc)
// @Success 200 {object} utils.APIResponse{data=object{operations=[]model.CardOperation,pagination=service.PaginationResult}} "Operations retrieved successfully"
// @Failure 400 {object} utils.APIResponse "Request validation failed"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /api/v1/card-operations [get]
func (h *CardOperationHandler) ListOperations(c *gin.Context) {
	filter, invalid := parseOperationFilter(c)
	if len(invalid) > 0 {
		utils.ValidationErrorResponse(c, invalid)
		return
	}

	operations, total, err := h.cardService.ListOperations(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list card operations", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list card operations", err)
		return
	}

	response := gin.H{
		"operations": operations,
		"pagination": service.NewPaginationResult(total, filter.Page, filter.PerPage),
	}

	utils.SuccessResponse(c, http.StatusOK, "Operations retrieved successfully", response)
}

// GetOperation handles retrieving one recorded card operation
// @Summary Get card operation
// @Tags Card Operations
// @Produce json
// @Param operation_id path string true "Operation ID"
// @Success 200 {object} utils.APIResponse{data=model.CardOperation}
// @Failure 400 {object} utils.APIResponse "Invalid operation ID"
// @Failure 404 {object} utils.APIResponse "Operation not found"
// @Router /api/v1/card-operations/{operation_id} [get]
func (h *CardOperationHandler) GetOperation(c *gin.Context) {
	operationID, err := uuid.Parse(c.Param("operation_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid operation ID", err)
		return
	}

	operation, err := h.cardService.GetOperation(c.Request.Context(), operationID)
	if err != nil {
		if errors.Is(err, repository.ErrOperationNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Operation not found", err)
			return
		}
		h.logger.Error("Failed to get card operation", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get card operation", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Operation retrieved successfully", operation)
}

// GetCurrentSession handles retrieving the running card session
// @Summary Get the running card session
// @Tags Card Operations
// @Produce json
// @Success 200 {object} utils.APIResponse{data=CurrentSessionResponse}
// @Failure 404 {object} utils.APIResponse "No session running"
// @Router /api/v1/card-operations/current [get]
func (h *CardOperationHandler) GetCurrentSession(c *gin.Context) {
	session := h.cardService.CurrentSession()
	if session == nil {
		utils.CodedErrorResponse(c, http.StatusNotFound, utils.CodeNoActiveSession, "No card session running", service.ErrSessionNotFound)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Card session retrieved", newCurrentSessionResponse(session))
}

// ConfirmCurrentSession accepts the running session's result
// @Summary Confirm the running card session
// @Tags Card Operations
// @Produce json
// @Success 202 {object} utils.APIResponse{data=model.SessionSnapshot}
// @Failure 404 {object} utils.APIResponse "No session running"
// @Router /api/v1/card-operations/current/confirm [post]
func (h *CardOperationHandler) ConfirmCurrentSession(c *gin.Context) {
	h.controlCurrentSession(c, "confirm", (*service.CardSession).Confirm)
}

// CancelCurrentSession abandons the running session
// @Summary Cancel the running card session
// @Tags Card Operations
// @Produce json
// @Success 202 {object} utils.APIResponse{data=model.SessionSnapshot}
// @Failure 404 {object} utils.APIResponse "No session running"
// @Router /api/v1/card-operations/current/cancel [post]
func (h *CardOperationHandler) CancelCurrentSession(c *gin.Context) {
	h.controlCurrentSession(c, "cancel", (*service.CardSession).Cancel)
}

// RetryCurrentSession restarts the running session after an error
// @Summary Retry the running card session
// @Tags Card Operations
// @Produce json
// @Success 202 {object} utils.APIResponse{data=model.SessionSnapshot}
// @Failure 404 {object} utils.APIResponse "No session running"
// @Router /api/v1/card-operations/current/retry [post]
func (h *CardOperationHandler) RetryCurrentSession(c *gin.Context) {
	h.controlCurrentSession(c, "retry", (*service.CardSession).Retry)
}

// PurgeHistory deletes records older than the retention window
// @Summary Purge card operation history
// @Tags Card Operations
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{deleted=int}}
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /api/v1/card-operations/history [delete]
func (h *CardOperationHandler) PurgeHistory(c *gin.Context) {
	deleted, err := h.cardService.PurgeHistory(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to purge history", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to purge history", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "History purged", gin.H{"deleted": deleted})
}

func (h *CardOperationHandler) controlCurrentSession(c *gin.Context, action string, apply func(*service.CardSession)) {
	session := h.cardService.CurrentSession()
	if session == nil {
		utils.CodedErrorResponse(c, http.StatusNotFound, utils.CodeNoActiveSession, "No card session running", service.ErrSessionNotFound)
		return
	}

	apply(session)
	h.logger.Info("Card session control applied",
		zap.String("action", action),
		zap.String("session_id", session.ID.String()),
	)

	utils.SuccessResponse(c, http.StatusAccepted, fmt.Sprintf("Card session %s requested", action), session.Snapshot())
}

func newCurrentSessionResponse(session *service.CardSession) *CurrentSessionResponse {
	return &CurrentSessionResponse{
		SessionID:  session.ID,
		Operation:  session.Operation,
		ClientID:   session.ClientID,
		StartedAt:  session.StartedAt,
		Snapshot:   session.Snapshot(),
		Connection: session.ConnectionStats(),
	}
}

// parseOperationFilter reads history filters from the query string
// parseOperationFilter reads the listing query. Invalid filter values are
// returned keyed by parameter name.
func parseOperationFilter(c *gin.Context) (*repository.CardOperationFilter, map[string]string) {
	invalid := make(map[string]string)
	filter := &repository.CardOperationFilter{
		Page:      1,
		PerPage:   20,
		SortBy:    "started_at",
		SortOrder: "desc",
	}

	// Parse pagination
	if page := c.Query("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			filter.Page = p
		}
	}
	if perPage := c.Query("per_page"); perPage != "" {
		if pp, err := strconv.Atoi(perPage); err == nil && pp > 0 && pp <= 100 {
			filter.PerPage = pp
		}
	}
	if sortBy := c.Query("sort_by"); sortBy != "" {
		filter.SortBy = sortBy
	}
	if sortOrder := c.Query("sort_order"); sortOrder != "" {
		filter.SortOrder = sortOrder
	}

	// Parse filters
	if operation := c.Query("operation"); operation != "" {
		if kind, err := model.ParseOperationKind(operation); err != nil {
			invalid["operation"] = err.Error()
		} else {
			filter.Operation = &kind
		}
	}
	if status := c.Query("status"); status != "" {
		s := model.OperationStatus(strings.ToUpper(status))
		switch s {
		case model.OperationStatusSuccess, model.OperationStatusFailed, model.OperationStatusCancelled:
			filter.Status = &s
		default:
			invalid["status"] = fmt.Sprintf("unknown status: %s", status)
		}
	}
	if tid := c.Query("tid"); tid != "" {
		filter.CardTID = &tid
	}
	if sessionID := c.Query("session_id"); sessionID != "" {
		if id, err := uuid.Parse(sessionID); err != nil {
			invalid["session_id"] = "must be a UUID"
		} else {
			filter.SessionID = &id
		}
	}
	if startDate := c.Query("start_date"); startDate != "" {
		if date, err := time.Parse(time.RFC3339, startDate); err == nil {
			filter.StartDate = &date
		}
	}
	if endDate := c.Query("end_date"); endDate != "" {
		if date, err := time.Parse(time.RFC3339, endDate); err == nil {
			filter.EndDate = &date
		}
	}

	return filter, invalid
}
