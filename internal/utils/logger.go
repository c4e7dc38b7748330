// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"card-service/internal/config"
)

const defaultLogFile = "./logs/card-service.log"

// NewLogger builds the application logger from the logging section
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	sink, err := newWriteSyncer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create write syncer: %w", err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	if format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	return zapcore.NewJSONEncoder(encoderConfig)
}

// newWriteSyncer writes to stdout, stderr or a lumberjack rotated file
func newWriteSyncer(cfg *config.LoggingConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	filename := cfg.Output
	if filename == "" {
		filename = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	}), nil
}

// SessionLogger logs the lifecycle of one card session
type SessionLogger struct {
	logger    *zap.Logger
	startedAt time.Time
}

// NewSessionLogger scopes logger to a card session
func NewSessionLogger(baseLogger *zap.Logger, operation, sessionID string) *SessionLogger {
	return &SessionLogger{
		logger: baseLogger.With(
			zap.String("component", "card-session"),
			zap.String("operation", operation),
			zap.String("session_id", sessionID),
		),
		startedAt: time.Now(),
	}
}

// Started logs that the reader has been asked for a card
func (sl *SessionLogger) Started(fields ...zap.Field) {
	sl.logger.Info("Card session started", fields...)
}

// Step logs an intermediate event with the time elapsed so far
func (sl *SessionLogger) Step(message string, fields ...zap.Field) {
	sl.logger.Info(message, append(fields, sl.elapsed())...)
}

// Succeeded logs a successful card operation
func (sl *SessionLogger) Succeeded(fields ...zap.Field) {
	sl.logger.Info("Card operation succeeded", append(fields, sl.elapsed())...)
}

// Failed logs a terminal card operation error. Device errors are expected,
// so they are logged at warn.
func (sl *SessionLogger) Failed(reason string, fields ...zap.Field) {
	sl.logger.Warn("Card operation failed",
		append(fields, zap.String("reason", reason), sl.elapsed())...)
}

func (sl *SessionLogger) elapsed() zap.Field {
	return zap.Duration("elapsed", time.Since(sl.startedAt))
}

// ServiceLogger is a named logger for services and HTTP components
type ServiceLogger struct {
	*zap.Logger
	serviceName string
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	return &ServiceLogger{
		Logger:      baseLogger.With(zap.String("service", serviceName)),
		serviceName: serviceName,
	}
}

// LogServiceStart logs service startup
func (sl *ServiceLogger) LogServiceStart(version string, config interface{}) {
	sl.Info("Service starting",
		zap.String("version", version),
		zap.Any("config", config),
	)
}

// LogServiceStop logs service shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping", zap.String("reason", reason))
}

// LogAPIRequest logs an HTTP request, at warn for client errors and at error
// for server errors
func (sl *ServiceLogger) LogAPIRequest(method, path, requestID, userAgent, clientIP string, statusCode int, duration time.Duration) {
	level := zapcore.InfoLevel
	switch {
	case statusCode >= 500:
		level = zapcore.ErrorLevel
	case statusCode >= 400:
		level = zapcore.WarnLevel
	}

	if ce := sl.Check(level, "API request"); ce != nil {
		ce.Write(
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.String("user_agent", userAgent),
			zap.String("client_ip", clientIP),
			zap.Int("status_code", statusCode),
			zap.Duration("duration", duration),
		)
	}
}

// PaymentAudit is the audit record of one balance debit attempt
type PaymentAudit struct {
	CardTID    string
	SessionID  string
	CustomerID int64
	Amount     int64
	OldBalance decimal.Decimal
	NewBalance decimal.Decimal
	Currency   string
	Succeeded  bool
}

// CardWriteAudit is the audit record of one card write
type CardWriteAudit struct {
	CardTID   string
	SessionID string
	Data      string
	Succeeded bool
}

// AuditLogger records money and card mutations
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates an audit-specific logger
func NewAuditLogger(baseLogger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger: baseLogger.With(zap.String("component", "audit")),
	}
}

// LogPayment records a balance debit
func (al *AuditLogger) LogPayment(entry PaymentAudit) {
	al.logger.Info("Payment transaction",
		zap.String("action", "payment"),
		zap.String("card_tid", entry.CardTID),
		zap.String("session_id", entry.SessionID),
		zap.Int64("customer_id", entry.CustomerID),
		zap.Int64("amount", entry.Amount),
		zap.Stringer("old_balance", entry.OldBalance),
		zap.Stringer("new_balance", entry.NewBalance),
		zap.String("currency", entry.Currency),
		zap.Bool("succeeded", entry.Succeeded),
	)
}

// LogCardWrite records a value written to a card
func (al *AuditLogger) LogCardWrite(entry CardWriteAudit) {
	al.logger.Info("Card write",
		zap.String("action", "card_write"),
		zap.String("card_tid", entry.CardTID),
		zap.String("session_id", entry.SessionID),
		zap.String("data", entry.Data),
		zap.Bool("succeeded", entry.Succeeded),
	)
}

// LoggerWithRequestID adds request ID to logger
func LoggerWithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// LoggerWithClientID adds the POS client identifier to logger
func LoggerWithClientID(logger *zap.Logger, clientID string) *zap.Logger {
	if clientID == "" {
		return logger
	}
	return logger.With(zap.String("client_id", clientID))
}

// CloseLogger flushes buffered log entries
func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}
