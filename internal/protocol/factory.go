// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"card-service/internal/model"
)

// CreateDialer creates a dialer for the configured transport
func CreateDialer(config *TransportConfig, logger *zap.Logger) (Dialer, error) {
	switch config.Type {
	case model.TransportWebSocket, "":
		if config.WebSocket.URL == "" {
			return nil, fmt.Errorf("websocket url is required")
		}
		return NewWebSocketDialer(&config.WebSocket, logger), nil
	case model.TransportTCP:
		if config.TCP.Host == "" || config.TCP.Port <= 0 {
			return nil, fmt.Errorf("tcp host and port are required")
		}
		return NewTCPDialer(&config.TCP, logger), nil
	case model.TransportSerial:
		return createSerialDialer(&config.Serial, logger)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", config.Type)
	}
}

// createSerialDialer fills serial defaults before building the dialer
func createSerialDialer(config *SerialConfig, logger *zap.Logger) (Dialer, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("serial port is required")
	}

	serialConfig := *config
	if serialConfig.BaudRate == 0 {
		serialConfig.BaudRate = 9600
	}
	if serialConfig.DataBits == 0 {
		serialConfig.DataBits = 8
	}
	if serialConfig.StopBits == 0 {
		serialConfig.StopBits = 1
	}
	if serialConfig.Parity == "" {
		serialConfig.Parity = "none"
	}

	return NewSerialDialer(&serialConfig, logger), nil
}
