// internal/handler/customer_handler.go
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"card-service/internal/repository"
	"card-service/internal/service"
	"card-service/internal/utils"
)

// CustomerHandler handles customer lookups by card
type CustomerHandler struct {
	cardService *service.CardService
	logger      *utils.ServiceLogger
}

// NewCustomerHandler creates a new customer handler
func NewCustomerHandler(cardService *service.CardService, logger *zap.Logger) *CustomerHandler {
	return &CustomerHandler{
		cardService: cardService,
		logger:      utils.NewServiceLogger(logger, "customer-handler"),
	}
}

// FindCustomers looks customers up by card TID or name
// @Summary Find customers by card or name
// @Tags Customers
// @Produce json
// @Param card_tid query string false "Card TID"
// @Param name query string false "Name fragment, case insensitive"
// @Success 200 {object} utils.APIResponse{data=[]model.Customer}
// @Failure 400 {object} utils.APIResponse "card_tid or name is required"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /api/v1/customers [get]
func (h *CustomerHandler) FindCustomers(c *gin.Context) {
	customers, err := h.cardService.FindCustomers(c.Request.Context(), c.Query("card_tid"), c.Query("name"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			utils.ErrorResponse(c, http.StatusBadRequest, "card_tid or name is required", err)
			return
		}
		h.logger.Error("Failed to find customers", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to find customers", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Customers retrieved successfully", customers)
}

// GetCustomer handles retrieving a customer by ID
// @Summary Get customer by ID
// @Tags Customers
// @Produce json
// @Param customer_id path int true "Customer ID"
// @Success 200 {object} utils.APIResponse{data=model.Customer}
// @Failure 400 {object} utils.APIResponse "Invalid customer ID"
// @Failure 404 {object} utils.APIResponse "Customer not found"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /api/v1/customers/{customer_id} [get]
func (h *CustomerHandler) GetCustomer(c *gin.Context) {
	customerID, err := strconv.ParseInt(c.Param("customer_id"), 10, 64)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid customer ID", err)
		return
	}

	customer, err := h.cardService.GetCustomer(c.Request.Context(), customerID)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Customer not found", err)
			return
		}
		h.logger.Error("Failed to get customer", zap.Int64("customer_id", customerID), zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get customer", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Customer retrieved successfully", customer)
}
