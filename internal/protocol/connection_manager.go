// internal/protocol/connection_manager.go
package protocol

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ManagerConfig represents connection manager configuration
type ManagerConfig struct {
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	Handshake      string        `json:"handshake"`
}

// DefaultManagerConfig returns the reader defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectDelay: time.Second,
		Handshake:      CommandHandshake,
	}
}

type subscriptionKind int

const (
	subscriptionOpen subscriptionKind = iota
	subscriptionMessage
)

// Subscription is the handle returned by OnOpen and OnMessage
type Subscription struct {
	manager *ConnectionManager
	kind    subscriptionKind
	id      uint64
}

// Unsubscribe removes the subscriber if it is still the registered one.
// Unsubscribing a superseded or cleared subscription is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.manager == nil {
		return
	}
	s.manager.unsubscribe(s)
}

type openSubscriber struct {
	id uint64
	fn func()
}

type messageSubscriber struct {
	id uint64
	fn func(string)
}

// ConnectionManager owns one persistent connection to the card reader. It
// reconnects after unexpected closes with a fixed delay until Disconnect.
type ConnectionManager struct {
	dialer Dialer
	config ManagerConfig
	logger *zap.Logger

	mu                  sync.Mutex
	state               ConnectionState
	conn                MessageConn
	generation          uint64
	disconnectRequested bool
	reconnectTimer      *time.Timer
	dialCancel          context.CancelFunc
	nextSubscriptionID  uint64
	openSub             *openSubscriber
	messageSub          *messageSubscriber
	stats               ConnectionStats

	wg sync.WaitGroup
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(dialer Dialer, config ManagerConfig, logger *zap.Logger) *ConnectionManager {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = time.Second
	}
	if config.Handshake == "" {
		config.Handshake = CommandHandshake
	}

	return &ConnectionManager{
		dialer: dialer,
		config: config,
		logger: logger.With(
			zap.String("component", "connection-manager"),
			zap.String("endpoint", dialer.Endpoint()),
			zap.String("transport", string(dialer.TransportType())),
		),
		stats: ConnectionStats{
			Endpoint:  dialer.Endpoint(),
			Transport: string(dialer.TransportType()),
		},
	}
}

// Connect starts opening the connection without blocking. Dial failures are
// retried after the reconnect delay until Disconnect is called.
func (m *ConnectionManager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disconnectRequested = false
	if m.state != StateDisconnected {
		return
	}
	m.startDialLocked()
}

// Disconnect closes the connection, cancels any pending reconnect and clears
// both subscriptions. It is safe to call repeatedly.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.disconnectRequested = true
	m.generation++

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	m.openSub = nil
	m.messageSub = nil

	conn := m.conn
	wasConnected := m.state != StateDisconnected
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("Error closing reader connection", zap.Error(err))
		}
	}
	if wasConnected {
		m.logger.Info("Reader connection closed")
	}
}

// Close disconnects and waits for the dial and read goroutines to finish.
// It must not be called from a subscriber callback.
func (m *ConnectionManager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// Send transmits payload when the connection is open. Otherwise the payload
// is dropped; callers must not assume delivery.
func (m *ConnectionManager) Send(payload string) {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.stats.DroppedSends++
		m.mu.Unlock()
		m.logger.Warn("Reader connection is not open, message not sent",
			zap.String("payload", payload),
		)
		return
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.WriteMessage(payload); err != nil {
		m.logger.Warn("Failed to send message to reader", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.stats.MessagesSent++
	m.stats.LastActivity = time.Now()
	m.mu.Unlock()

	m.logger.Debug("Message sent to reader", zap.String("payload", payload))
}

// OnOpen registers the open subscriber, superseding any previous one
func (m *ConnectionManager) OnOpen(fn func()) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubscriptionID++
	m.openSub = &openSubscriber{id: m.nextSubscriptionID, fn: fn}
	return &Subscription{manager: m, kind: subscriptionOpen, id: m.nextSubscriptionID}
}

// OnMessage registers the message subscriber, superseding any previous one
func (m *ConnectionManager) OnMessage(fn func(string)) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubscriptionID++
	m.messageSub = &messageSubscriber{id: m.nextSubscriptionID, fn: fn}
	return &Subscription{manager: m, kind: subscriptionMessage, id: m.nextSubscriptionID}
}

// State returns the current connection state
func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOpen reports whether the connection is open
func (m *ConnectionManager) IsOpen() bool {
	return m.State() == StateOpen
}

// DisconnectRequested reports whether Disconnect was the last lifecycle call
func (m *ConnectionManager) DisconnectRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectRequested
}

// Stats returns a copy of the connection statistics
func (m *ConnectionManager) Stats() ConnectionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.State = m.state.String()
	return stats
}

func (m *ConnectionManager) unsubscribe(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch s.kind {
	case subscriptionOpen:
		if m.openSub != nil && m.openSub.id == s.id {
			m.openSub = nil
		}
	case subscriptionMessage:
		if m.messageSub != nil && m.messageSub.id == s.id {
			m.messageSub = nil
		}
	}
}

// startDialLocked begins a new connection generation. m.mu must be held.
func (m *ConnectionManager) startDialLocked() {
	m.generation++
	generation := m.generation

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel
	m.state = StateConnecting
	m.stats.DialAttempts++

	m.wg.Add(1)
	go m.dial(ctx, generation)
}

func (m *ConnectionManager) dial(ctx context.Context, generation uint64) {
	defer m.wg.Done()

	conn, err := m.dialer.Dial(ctx)

	m.mu.Lock()
	if generation != m.generation || m.disconnectRequested {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.dialCancel = nil

	if err != nil {
		m.state = StateDisconnected
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.logger.Warn("Failed to connect to reader, retrying",
			zap.Error(err),
			zap.Duration("retry_in", m.config.ReconnectDelay),
		)
		return
	}

	m.conn = conn
	m.state = StateOpen
	m.stats.LastActivity = time.Now()
	var onOpen func()
	if m.openSub != nil {
		onOpen = m.openSub.fn
	}

	m.wg.Add(1)
	go m.readLoop(conn, generation)
	m.mu.Unlock()

	m.logger.Info("Reader connection opened")

	m.Send(m.config.Handshake)
	if onOpen != nil {
		onOpen()
	}
}

func (m *ConnectionManager) readLoop(conn MessageConn, generation uint64) {
	defer m.wg.Done()

	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, generation, err)
			return
		}

		m.mu.Lock()
		current := generation == m.generation && m.conn == conn
		var onMessage func(string)
		if current {
			m.stats.MessagesReceived++
			m.stats.LastActivity = time.Now()
			if m.messageSub != nil {
				onMessage = m.messageSub.fn
			}
		}
		m.mu.Unlock()

		if !current {
			return
		}
		if onMessage != nil {
			onMessage(payload)
		}
	}
}

// handleClose reacts to the end of a read loop. Closes not caused by
// Disconnect schedule exactly one reconnect attempt.
func (m *ConnectionManager) handleClose(conn MessageConn, generation uint64, cause error) {
	conn.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation || m.conn != conn {
		return
	}

	m.conn = nil
	m.state = StateDisconnected
	if m.disconnectRequested {
		return
	}

	m.logger.Warn("Reader connection closed unexpectedly",
		zap.Error(cause),
		zap.Duration("retry_in", m.config.ReconnectDelay),
	)
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer. m.mu must be held.
func (m *ConnectionManager) scheduleReconnectLocked() {
	if m.disconnectRequested {
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}

	generation := m.generation
	m.reconnectTimer = time.AfterFunc(m.config.ReconnectDelay, func() {
		m.reconnect(generation)
	})
}

func (m *ConnectionManager) reconnect(generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disconnectRequested || generation != m.generation || m.state != StateDisconnected {
		return
	}

	m.reconnectTimer = nil
	m.stats.Reconnects++
	m.startDialLocked()
}
