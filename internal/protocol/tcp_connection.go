// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"card-service/internal/model"
)

// TCPDialer opens newline-delimited text connections over TCP
type TCPDialer struct {
	config *TCPConfig
	logger *zap.Logger
}

// NewTCPDialer creates a new TCP dialer
func NewTCPDialer(config *TCPConfig, logger *zap.Logger) *TCPDialer {
	return &TCPDialer{
		config: config,
		logger: logger.With(
			zap.String("protocol", "tcp"),
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
		),
	}
}

// Dial opens the TCP connection
func (d *TCPDialer) Dial(ctx context.Context) (MessageConn, error) {
	dialer := &net.Dialer{
		Timeout:   d.config.Timeout,
		KeepAlive: 30 * time.Second,
	}

	address := d.Endpoint()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok && d.config.KeepAlive {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	d.logger.Debug("TCP connection opened")
	return newLineConn(conn, d.config.WriteTimeout), nil
}

// Endpoint returns host:port
func (d *TCPDialer) Endpoint() string {
	return net.JoinHostPort(d.config.Host, strconv.Itoa(d.config.Port))
}

// TransportType returns the transport type
func (d *TCPDialer) TransportType() model.TransportType {
	return model.TransportTCP
}
