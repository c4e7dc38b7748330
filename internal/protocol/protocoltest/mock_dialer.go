// internal/protocol/protocoltest/mock_dialer.go

// Package protocoltest provides an in-memory card reader for tests.
package protocoltest

import (
	"context"
	"errors"
	"sync"

	"card-service/internal/model"
	"card-service/internal/protocol"
)

// ErrMockDialRefused is returned by MockDialer for injected dial failures
var ErrMockDialRefused = errors.New("mock dial refused")

// MockConn is an in-memory protocol.MessageConn
type MockConn struct {
	inbound chan string
	closed  chan struct{}
	once    sync.Once

	mu   sync.Mutex
	sent []string
}

// NewMockConn creates an open mock connection
func NewMockConn() *MockConn {
	return &MockConn{
		inbound: make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

// ReadMessage blocks until Inject delivers a payload or the connection closes
func (c *MockConn) ReadMessage() (string, error) {
	select {
	case <-c.closed:
		return "", protocol.ErrConnectionClosed
	default:
	}

	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.closed:
		return "", protocol.ErrConnectionClosed
	}
}

// WriteMessage records payload
func (c *MockConn) WriteMessage(payload string) error {
	select {
	case <-c.closed:
		return protocol.ErrConnectionClosed
	default:
	}

	c.mu.Lock()
	c.sent = append(c.sent, payload)
	c.mu.Unlock()
	return nil
}

// Close closes the connection. Safe to call repeatedly.
func (c *MockConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Inject queues a payload as if the reader had sent it
func (c *MockConn) Inject(payload string) {
	select {
	case c.inbound <- payload:
	case <-c.closed:
	}
}

// Sent returns a copy of every payload written so far
func (c *MockConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// CountSent counts writes equal to payload
func (c *MockConn) CountSent(payload string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, s := range c.sent {
		if s == payload {
			n++
		}
	}
	return n
}

// IsClosed reports whether Close was called
func (c *MockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// MockDialer hands out MockConns and can be told to refuse dials
type MockDialer struct {
	mu       sync.Mutex
	conns    []*MockConn
	dials    int
	failures int
	refuse   bool
}

// NewMockDialer creates a mock dialer
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// Dial implements protocol.Dialer
func (d *MockDialer) Dial(ctx context.Context) (protocol.MessageConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.refuse {
		return nil, ErrMockDialRefused
	}
	if d.failures > 0 {
		d.failures--
		return nil, ErrMockDialRefused
	}

	conn := NewMockConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

// Endpoint implements protocol.Dialer
func (d *MockDialer) Endpoint() string {
	return "mock://reader"
}

// TransportType implements protocol.Dialer
func (d *MockDialer) TransportType() model.TransportType {
	return model.TransportWebSocket
}

// FailNext makes the next n dials fail
func (d *MockDialer) FailNext(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

// SetRefuse makes every dial fail until cleared
func (d *MockDialer) SetRefuse(refuse bool) {
	d.mu.Lock()
	d.refuse = refuse
	d.mu.Unlock()
}

// DialCount returns the number of dial attempts
func (d *MockDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns every connection handed out so far
func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*MockConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// LastConn returns the most recent connection, or nil
func (d *MockDialer) LastConn() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
