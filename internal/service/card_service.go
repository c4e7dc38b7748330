// internal/service/card_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"card-service/internal/config"
	"card-service/internal/model"
	"card-service/internal/protocol"
	"card-service/internal/repository"
	"card-service/internal/utils"
)

var (
	// ErrSessionBusy is returned when a card session is already running
	ErrSessionBusy = errors.New("a card session is already in progress")
	// ErrInvalidRequest wraps request validation failures
	ErrInvalidRequest = errors.New("invalid card session request")
	// ErrSessionNotFound is returned when no session matches
	ErrSessionNotFound = errors.New("card session not found")
)

// StartSessionRequest represents a request to run one card operation
type StartSessionRequest struct {
	Operation string `json:"operation" form:"type"`
	Data      string `json:"data" form:"data"`
	Amount    int64  `json:"amount" form:"amount"`
	ClientID  string `json:"client_id"`
}

// PaginationResult describes one page of a listing
type PaginationResult struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// NewPaginationResult computes the page count for total items
func NewPaginationResult(total, page, perPage int) *PaginationResult {
	result := &PaginationResult{Total: total, Page: page, PerPage: perPage}
	if perPage > 0 {
		result.TotalPages = (total + perPage - 1) / perPage
	}
	return result
}

// DialerFactory builds the dialer for a new session's connection
type DialerFactory func() (protocol.Dialer, error)

// CardServiceOption configures a CardService
type CardServiceOption func(*CardService)

// WithDialerFactory overrides how reader connections are dialed
func WithDialerFactory(factory DialerFactory) CardServiceOption {
	return func(s *CardService) {
		s.dialerFactory = factory
	}
}

// CardService hosts card sessions for the API. Only one session runs at a
// time because the reader serves one command stream.
type CardService struct {
	customerRepo     repository.CustomerRepository
	operationRepo    repository.CardOperationRepository
	dialerFactory    DialerFactory
	controllerConfig ControllerConfig
	managerConfig    protocol.ManagerConfig
	historyRetention time.Duration
	baseLogger       *zap.Logger
	logger           *utils.ServiceLogger

	mu      sync.Mutex
	current *CardSession
	wg      sync.WaitGroup
}

// NewCardService creates a new card service instance
func NewCardService(
	customerRepo repository.CustomerRepository,
	operationRepo repository.CardOperationRepository,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...CardServiceOption,
) *CardService {
	s := &CardService{
		customerRepo:  customerRepo,
		operationRepo: operationRepo,
		baseLogger:    logger,
		logger:        utils.NewServiceLogger(logger, "card-service"),
		controllerConfig: ControllerConfig{
			PollInterval:        cfg.Card.PollInterval,
			ReadConfirmDelay:    cfg.Card.ReadConfirmDelay,
			BalanceConfirmDelay: cfg.Card.BalanceConfirmDelay,
			WriteConfirmDelay:   cfg.Card.WriteConfirmDelay,
			PaymentConfirmDelay: cfg.Card.PaymentConfirmDelay,
			Currency:            cfg.Card.Currency,
		},
		managerConfig: protocol.ManagerConfig{
			ReconnectDelay: cfg.Device.ReconnectDelay,
			Handshake:      cfg.Device.Handshake,
		},
		historyRetention: cfg.Card.HistoryRetention,
	}

	transport := TransportConfigFromDevice(&cfg.Device)
	s.dialerFactory = func() (protocol.Dialer, error) {
		return protocol.CreateDialer(transport, logger)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TransportConfigFromDevice maps the device section onto transport settings
func TransportConfigFromDevice(device *config.DeviceConfig) *protocol.TransportConfig {
	ports := device.DefaultPort
	return &protocol.TransportConfig{
		Type: model.TransportType(strings.ToUpper(device.Transport)),
		WebSocket: protocol.WebSocketConfig{
			URL:              device.Endpoint,
			HandshakeTimeout: ports.WebSocket.HandshakeTimeout,
			ReadBufferSize:   ports.WebSocket.ReadBufferSize,
			WriteBufferSize:  ports.WebSocket.WriteBufferSize,
			WriteTimeout:     ports.WebSocket.WriteTimeout,
		},
		TCP: protocol.TCPConfig{
			Host:         ports.TCP.Host,
			Port:         ports.TCP.Port,
			KeepAlive:    ports.TCP.KeepAlive,
			Timeout:      ports.TCP.ConnectTimeout,
			WriteTimeout: ports.TCP.WriteTimeout,
		},
		Serial: protocol.SerialConfig{
			Port:     ports.Serial.Port,
			BaudRate: ports.Serial.BaudRate,
			DataBits: ports.Serial.DataBits,
			StopBits: ports.Serial.StopBits,
			Parity:   ports.Serial.Parity,
		},
	}
}

// StartSession validates req and starts a new card session
func (s *CardService) StartSession(ctx context.Context, req *StartSessionRequest) (*CardSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind, err := s.validateStartRequest(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}

	dialer, err := s.dialerFactory()
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create reader dialer: %w", err)
	}

	sessionID := uuid.New()
	logger := utils.LoggerWithClientID(s.baseLogger, req.ClientID)
	manager := protocol.NewConnectionManager(dialer, s.managerConfig, logger)

	session := newCardSession(s, sessionID, kind, req, manager, logger)
	session.controller = NewCardOperationController(
		manager,
		s.customerRepo,
		session,
		s.controllerConfig,
		ControllerOptions{
			SessionID:     sessionID,
			Kind:          kind,
			Data:          req.Data,
			Amount:        req.Amount,
			OnResult:      session.handleResult,
			OnClose:       session.handleClose,
			OnStateChange: session.handleStateChange,
		},
		logger,
	)
	s.current = session
	s.mu.Unlock()

	s.logger.Info("Card session started",
		zap.String("session_id", sessionID.String()),
		zap.String("operation", string(kind)),
		zap.String("endpoint", dialer.Endpoint()),
	)

	session.controller.Start()
	return session, nil
}

func (s *CardService) validateStartRequest(req *StartSessionRequest) (model.OperationKind, error) {
	if req == nil {
		return "", fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}

	kind, err := model.ParseOperationKind(req.Operation)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	switch kind {
	case model.OperationWrite:
		if req.Data == "" {
			return "", fmt.Errorf("%w: write requires data", ErrInvalidRequest)
		}
	case model.OperationPayment:
		if req.Amount <= 0 {
			return "", fmt.Errorf("%w: payment requires a positive amount", ErrInvalidRequest)
		}
	}

	return kind, nil
}

// CurrentSession returns the running session, or nil
func (s *CardService) CurrentSession() *CardSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// GetSession returns the running session when its ID matches
func (s *CardService) GetSession(id uuid.UUID) (*CardSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.ID != id {
		return nil, ErrSessionNotFound
	}
	return s.current, nil
}

// ListOperations lists recorded card sessions
func (s *CardService) ListOperations(ctx context.Context, filter *repository.CardOperationFilter) ([]*model.CardOperation, int, error) {
	if filter == nil {
		filter = &repository.CardOperationFilter{}
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 || filter.PerPage > 100 {
		filter.PerPage = 20
	}

	operations, total, err := s.operationRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list card operations: %w", err)
	}
	return operations, total, nil
}

// GetOperation returns one recorded card session
func (s *CardService) GetOperation(ctx context.Context, id uuid.UUID) (*model.CardOperation, error) {
	operation, err := s.operationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get card operation: %w", err)
	}
	return operation, nil
}

// FindCustomers looks customers up by card identifier and/or a name
// fragment. At least one of them is required.
func (s *CardService) FindCustomers(ctx context.Context, cardTID, name string) ([]*model.Customer, error) {
	if cardTID == "" && name == "" {
		return nil, fmt.Errorf("%w: card_tid or name is required", ErrInvalidRequest)
	}

	filter := &repository.CustomerFilter{}
	if cardTID != "" {
		filter.CardTID = &cardTID
	}
	if name != "" {
		filter.Name = &name
	}

	customers, err := s.customerRepo.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search customers: %w", err)
	}
	return customers, nil
}

// GetCustomer returns one customer by ID
func (s *CardService) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	customer, err := s.customerRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return customer, nil
}

// PurgeHistory deletes operation records older than the retention window
func (s *CardService) PurgeHistory(ctx context.Context) (int64, error) {
	if s.historyRetention <= 0 {
		return 0, nil
	}

	deleted, err := s.operationRepo.DeleteOldOperations(ctx, time.Now().Add(-s.historyRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge card operation history: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Purged card operation history", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// RunHistoryCleanup purges old history every interval until ctx ends
func (s *CardService) RunHistoryCleanup(ctx context.Context, interval time.Duration) {
	task := NewRepeatingTask(ctx, interval, func(ctx context.Context) bool {
		if _, err := s.PurgeHistory(ctx); err != nil {
			s.logger.Warn("History cleanup failed", zap.Error(err))
		}
		return true
	})
	task.Run()
}

// Shutdown ends the running session and waits for its teardown
func (s *CardService) Shutdown() {
	if session := s.CurrentSession(); session != nil {
		session.Close()
	}
	s.wg.Wait()
	s.logger.LogServiceStop("shutdown")
}

// release frees the session slot if session still holds it
func (s *CardService) release(session *CardSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == session {
		s.current = nil
	}
}

// record persists the history entry of a finished session
func (s *CardService) record(operation *model.CardOperation) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.operationRepo.Create(ctx, operation); err != nil {
		s.logger.Error("Failed to record card operation",
			zap.String("session_id", operation.SessionID.String()),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Card operation recorded",
		zap.String("session_id", operation.SessionID.String()),
		zap.String("status", string(operation.Status)),
		zap.Int("duration_ms", operation.DurationMs),
	)
}
