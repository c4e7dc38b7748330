// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionEventType represents the type of event streamed to a POS client
type SessionEventType string

const (
	SessionEventState        SessionEventType = "state"
	SessionEventNotification SessionEventType = "notification"
	SessionEventResult       SessionEventType = "result"
	SessionEventClose        SessionEventType = "close"
	SessionEventError        SessionEventType = "error"
)

// SessionSnapshot is the observable state of a session after a transition
type SessionSnapshot struct {
	SessionID     uuid.UUID     `json:"session_id"`
	Operation     OperationKind `json:"operation"`
	ScanningState ScanningState `json:"scanning_state"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Result        *CardResult   `json:"result,omitempty"`
}

// Notification is a user-facing toast raised by a session
type Notification struct {
	Level   string `json:"level"` // info, success, warning
	Message string `json:"message"`
}

// SessionEvent is one message of the session stream
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	SessionID uuid.UUID        `json:"session_id"`
	Data      interface{}      `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
