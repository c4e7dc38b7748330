// internal/protocol/line_connection.go
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const messageDelimiter = '\n'

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// lineConn frames text messages with a trailing newline over a byte stream
type lineConn struct {
	rw           io.ReadWriteCloser
	reader       *bufio.Reader
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closed       chan struct{}
}

func newLineConn(rw io.ReadWriteCloser, writeTimeout time.Duration) *lineConn {
	return &lineConn{
		rw:           rw,
		reader:       bufio.NewReader(rw),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

func (c *lineConn) ReadMessage() (string, error) {
	line, err := c.reader.ReadString(messageDelimiter)
	if err != nil {
		if c.isClosed() || errors.Is(err, io.EOF) {
			return "", ErrConnectionClosed
		}
		return "", fmt.Errorf("failed to read message: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *lineConn) WriteMessage(payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrConnectionClosed
	}
	if dw, ok := c.rw.(deadlineWriter); ok && c.writeTimeout > 0 {
		dw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	data := []byte(payload + string(messageDelimiter))
	n, err := c.rw.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

func (c *lineConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.rw.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func (c *lineConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
