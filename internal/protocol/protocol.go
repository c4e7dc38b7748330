// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"time"

	"card-service/internal/model"
)

// ErrConnectionClosed is returned by a MessageConn once it has been closed
var ErrConnectionClosed = errors.New("connection closed")

// MessageConn is one open socket to the card reader. Each message is an
// opaque text payload.
type MessageConn interface {
	ReadMessage() (string, error)
	WriteMessage(payload string) error
	Close() error
}

// Dialer opens a MessageConn to the reader endpoint
type Dialer interface {
	Dial(ctx context.Context) (MessageConn, error)
	Endpoint() string
	TransportType() model.TransportType
}

// ConnectionState represents the state of the reader connection
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	default:
		return "DISCONNECTED"
	}
}

// ConnectionStats provides connection-level statistics
type ConnectionStats struct {
	State            string    `json:"state"`
	Endpoint         string    `json:"endpoint"`
	Transport        string    `json:"transport"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	DroppedSends     int64     `json:"dropped_sends"`
	DialAttempts     int64     `json:"dial_attempts"`
	Reconnects       int64     `json:"reconnects"`
	LastActivity     time.Time `json:"last_activity"`
}
