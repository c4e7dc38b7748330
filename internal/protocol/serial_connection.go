// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"fmt"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"card-service/internal/model"
)

// SerialDialer opens newline-delimited text connections over a serial port.
// Readers attached over USB show up here as a virtual COM port.
type SerialDialer struct {
	config *SerialConfig
	logger *zap.Logger
}

// NewSerialDialer creates a new serial dialer
func NewSerialDialer(config *SerialConfig, logger *zap.Logger) *SerialDialer {
	return &SerialDialer{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
}

// Dial opens the serial port
func (d *SerialDialer) Dial(ctx context.Context) (MessageConn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	port, err := serial.Open(d.config.Port, d.mode())
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", d.config.Port, err)
	}

	d.logger.Debug("Serial port opened", zap.Int("baud_rate", d.config.BaudRate))
	return newLineConn(port, 0), nil
}

// Endpoint returns the port name
func (d *SerialDialer) Endpoint() string {
	return d.config.Port
}

// TransportType returns the transport type
func (d *SerialDialer) TransportType() model.TransportType {
	return model.TransportSerial
}

func (d *SerialDialer) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: d.config.BaudRate,
		DataBits: d.config.DataBits,
	}

	switch d.config.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch d.config.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode
}

// ListSerialPorts returns the serial ports visible to the host
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
