// internal/protocol/connection.go
package protocol

import (
	"time"

	"card-service/internal/model"
)

// WebSocketConfig represents websocket transport configuration
type WebSocketConfig struct {
	URL              string        `json:"url"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	ReadBufferSize   int           `json:"read_buffer_size"`
	WriteBufferSize  int           `json:"write_buffer_size"`
	WriteTimeout     time.Duration `json:"write_timeout"`
}

// TCPConfig represents line-oriented TCP transport configuration
type TCPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	KeepAlive    bool          `json:"keep_alive"`
	Timeout      time.Duration `json:"timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// SerialConfig represents line-oriented serial transport configuration
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// TransportConfig selects and configures one transport
type TransportConfig struct {
	Type      model.TransportType `json:"type"`
	WebSocket WebSocketConfig     `json:"websocket"`
	TCP       TCPConfig           `json:"tcp"`
	Serial    SerialConfig        `json:"serial"`
}
