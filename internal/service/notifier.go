// internal/service/notifier.go
package service

import (
	"go.uber.org/zap"

	"card-service/internal/model"
)

// Notification levels shown to the cashier
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
)

// Notifier displays short user-facing messages
type Notifier interface {
	Notify(notification model.Notification)
}

// logNotifier writes notifications to the log when no UI is attached
type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) Notify(notification model.Notification) {
	n.logger.Info("Notification",
		zap.String("level", notification.Level),
		zap.String("message", notification.Message),
	)
}
