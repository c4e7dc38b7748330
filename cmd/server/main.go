// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "card-service/docs"
	"card-service/internal/config"
	"card-service/internal/database"
	"card-service/internal/handler"
	"card-service/internal/repository"
	"card-service/internal/routes"
	"card-service/internal/service"
	"card-service/internal/utils"
)

const historyCleanupInterval = time.Hour

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Services
	cardService *service.CardService
	wsHandler   *handler.WebSocketHandler

	// Repositories
	customerRepo  repository.CustomerRepository
	operationRepo repository.CardOperationRepository

	// Background services
	backgroundCancel context.CancelFunc
	backgroundWG     sync.WaitGroup
}

// @title Card Service API
// @version 1.0.0
// @description Bridge between POS front ends and the local card reader: read, write, balance and payment sessions

// @contact.name Card Service API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8084
// @BasePath /
func main() {
	configPath := flag.String("config", "", "path to a config file")
	migrateCmd := flag.String("migrate", "", "run a migration command and exit: up, down, version")
	forceVersion := flag.Int("force-version", -1, "force the migration version and exit")
	flag.Parse()

	if *migrateCmd != "" || *forceVersion >= 0 {
		if err := runMigrations(*configPath, *migrateCmd, *forceVersion); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Initialize application
	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Start the application
	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// runMigrations applies a single migration command against the configured
// database without starting the server
func runMigrations(configPath, command string, forceVersion int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger, &cfg.Database)

	if forceVersion >= 0 {
		return migrator.Force(forceVersion)
	}

	switch command {
	case "up":
		if err := migrator.Up(); err != nil {
			return err
		}
	case "down":
		if err := migrator.Down(); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	logger.Info("Migration state",
		zap.String("command", command),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	// Load configuration
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create service logger
	serviceLogger := utils.NewServiceLogger(logger, "card-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	// Initialize components
	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase sets up database connection and runs migrations
func (app *Application) initializeDatabase() error {
	// Create database connection
	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	app.database = db

	if app.config.Database.MigrateOnStart {
		migrator := database.NewMigrator(db, app.logger, &app.config.Database)
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}

		version, dirty, err := migrator.Version()
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		app.logger.Info("Database schema ready",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() error {
	app.customerRepo = repository.NewCustomerRepository(app.database, app.logger)
	app.operationRepo = repository.NewCardOperationRepository(app.database, app.logger)

	app.logger.Info("Repositories initialized successfully")
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.cardService = service.NewCardService(
		app.customerRepo,
		app.operationRepo,
		app.config,
		app.logger,
	)

	app.logger.Info("Services initialized successfully",
		zap.String("reader_transport", app.config.Device.Transport),
		zap.String("reader_endpoint", app.config.Device.Endpoint),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	// Create router
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.cardService,
	)

	// Setup router with all routes
	router := routerManager.SetupRouter()
	app.wsHandler = routerManager.WebSocketHandler()

	// Create HTTP server
	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)

	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	ctx, cancel := context.WithCancel(context.Background())
	app.backgroundCancel = cancel

	// Start history cleanup
	app.backgroundWG.Add(1)
	go func() {
		defer app.backgroundWG.Done()
		app.logger.Info("History cleanup started",
			zap.Duration("interval", historyCleanupInterval),
			zap.Duration("retention", app.config.Card.HistoryRetention),
		)
		app.cardService.RunHistoryCleanup(ctx, historyCleanupInterval)
	}()

	app.logger.Info("Background services started")
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	// Create channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for signal
	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Perform graceful shutdown
	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "card-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	// Stop background services
	if app.backgroundCancel != nil {
		app.backgroundCancel()
		app.backgroundWG.Wait()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Hijacked sockets are not covered by server.Shutdown
	if app.wsHandler != nil {
		app.wsHandler.Shutdown()
	}
	app.cardService.Shutdown()
	app.logger.Info("Card sessions closed")

	// Close database connection
	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	// Flush logger
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start runs the HTTP server and blocks until shutdown
func (app *Application) Start() error {
	// Start server in goroutine
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Start background services
	app.startBackgroundServices()

	// Wait for interrupt signal
	app.waitForShutdown()

	return nil
}
