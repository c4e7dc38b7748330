// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	clientTypeSession = "session"
	clientTypeMonitor = "monitor"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	PosClientID string          `json:"pos_client_id,omitempty"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	Type        string          `json:"type"` // session, monitor
	SessionID   *uuid.UUID      `json:"session_id,omitempty"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	done chan struct{}
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ClientRegistry tracks connected WebSocket clients
type ClientRegistry struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (cr *ClientRegistry) Register(client *Client) {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()
	cr.clients[client.ID] = client
}

// Unregister unregisters a client
func (cr *ClientRegistry) Unregister(client *Client) {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()
	delete(cr.clients, client.ID)
}

// Count returns the number of connected clients
func (cr *ClientRegistry) Count() int {
	cr.mutex.RLock()
	defer cr.mutex.RUnlock()
	return len(cr.clients)
}

// GetStats returns connection statistics
func (cr *ClientRegistry) GetStats() *ConnectionStats {
	cr.mutex.RLock()
	defer cr.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cr.clients),
		ByType:           make(map[string]int),
		Clients:          make([]*Client, 0, len(cr.clients)),
	}

	for _, client := range cr.clients {
		stats.ByType[client.Type]++
		stats.Clients = append(stats.Clients, client)
	}

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByType           map[string]int `json:"by_type"`
	Clients          []*Client      `json:"clients"`
}
