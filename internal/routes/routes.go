// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"card-service/internal/config"
	"card-service/internal/database"
	"card-service/internal/handler"
	"card-service/internal/middleware"
	"card-service/internal/service"
	"card-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config      *config.Config
	logger      *zap.Logger
	db          *database.DB
	cardService *service.CardService

	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	cardService *service.CardService,
) *Router {
	return &Router{
		config:      config,
		logger:      logger,
		db:          db,
		cardService: cardService,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	// Set Gin mode
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	// Create Gin engine
	router := gin.New()

	// Add middleware
	r.addMiddleware(router)

	// Add routes
	r.addRoutes(router)

	return router
}

// WebSocketHandler returns the handler serving the socket routes, once
// SetupRouter has run
func (r *Router) WebSocketHandler() *handler.WebSocketHandler {
	return r.wsHandler
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	// Recovery middleware
	router.Use(middleware.RecoveryMiddleware(r.logger))

	// Request ID middleware
	router.Use(middleware.RequestIDMiddleware())

	// Logging middleware
	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	// CORS middleware
	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	// Create handlers
	healthHandler := handler.NewHealthHandler(r.db, r.config, r.cardService, r.logger)
	operationHandler := handler.NewCardOperationHandler(r.cardService, r.logger)
	customerHandler := handler.NewCustomerHandler(r.cardService, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(&r.config.Device, r.cardService, r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.cardService, r.logger)

	// Health check routes
	r.addHealthRoutes(router, healthHandler)

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	r.addCardOperationRoutes(apiV1, operationHandler)
	r.addCustomerRoutes(apiV1, customerHandler)
	r.addReaderRoutes(apiV1, discoveryHandler)

	// WebSocket routes
	r.addWebSocketRoutes(router, r.wsHandler)

	// Documentation routes
	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addHealthRoutes sets up health check routes
func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/health/db", handler.DatabaseHealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

// addCardOperationRoutes sets up card operation history and session control
func (r *Router) addCardOperationRoutes(api *gin.RouterGroup, handler *handler.CardOperationHandler) {
	operations := api.Group("/card-operations")
	{
		operations.GET("", handler.ListOperations)
		operations.DELETE("/history", handler.PurgeHistory)

		current := operations.Group("/current")
		{
			current.GET("", handler.GetCurrentSession)
			current.POST("/confirm", handler.ConfirmCurrentSession)
			current.POST("/cancel", handler.CancelCurrentSession)
			current.POST("/retry", handler.RetryCurrentSession)
		}

		operations.GET("/:operation_id", handler.GetOperation)
	}
}

// addCustomerRoutes sets up customer lookup routes
func (r *Router) addCustomerRoutes(api *gin.RouterGroup, handler *handler.CustomerHandler) {
	customers := api.Group("/customers")
	{
		customers.GET("", handler.FindCustomers)
		customers.GET("/:customer_id", handler.GetCustomer)
	}
}

// addReaderRoutes sets up card reader discovery routes
func (r *Router) addReaderRoutes(api *gin.RouterGroup, handler *handler.DiscoveryHandler) {
	reader := api.Group("/reader")
	{
		reader.GET("", handler.GetReader)
		reader.GET("/ports", handler.ScanSerialPorts)
	}
}

// addWebSocketRoutes sets up WebSocket routes
func (r *Router) addWebSocketRoutes(router *gin.Engine, handler *handler.WebSocketHandler) {
	ws := router.Group("/ws")
	{
		ws.GET("/card-operations", handler.HandleCardSession)
		ws.GET("/events", handler.HandleEventConnection)
		ws.GET("/stats", handler.GetConnectionStats)
	}
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	// Swagger redirect for convenience
	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
