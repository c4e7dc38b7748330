// internal/protocol/websocket_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"card-service/internal/model"
)

// WebSocketDialer dials the reader's local websocket endpoint
type WebSocketDialer struct {
	config *WebSocketConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWebSocketDialer creates a new websocket dialer
func NewWebSocketDialer(config *WebSocketConfig, logger *zap.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
		logger: logger.With(
			zap.String("protocol", "websocket"),
			zap.String("url", config.URL),
		),
	}
}

// Dial opens the websocket connection
func (d *WebSocketDialer) Dial(ctx context.Context) (MessageConn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.config.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.config.URL, err)
	}

	d.logger.Debug("Websocket connection opened")
	return &webSocketConn{
		conn:         conn,
		writeTimeout: d.config.WriteTimeout,
		closed:       make(chan struct{}),
	}, nil
}

// Endpoint returns the websocket URL
func (d *WebSocketDialer) Endpoint() string {
	return d.config.URL
}

// TransportType returns the transport type
func (d *WebSocketDialer) TransportType() model.TransportType {
	return model.TransportWebSocket
}

// webSocketConn serializes writes; gorilla allows one concurrent writer
type webSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closed       chan struct{}
}

func (c *webSocketConn) ReadMessage() (string, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", ErrConnectionClosed
			}
			return "", fmt.Errorf("failed to read websocket message: %w", err)
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return string(data), nil
		}
	}
}

func (c *webSocketConn) WriteMessage(payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrConnectionClosed
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

func (c *webSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}

func (c *webSocketConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
