// Package transport provides reliable, message-framed, bidirectional
// connections for the pairing session. Each Send is delivered as exactly
// one Receive on the other side.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// MaxFrameSize bounds a single message.
const MaxFrameSize = 1024 * 1024

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrClosed        = errors.New("transport closed")
)

type Conn interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
	RemoteAddr() string
}

type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// IsClosed reports whether err is the expected result of the peer or the
// local side closing the connection, as opposed to a real I/O fault.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed) {
		return true
	}
	// windows and linux report closed sockets with different wording
	msg := err.Error()
	return strings.Contains(msg, "closed network connection") ||
		strings.Contains(msg, "connection was aborted") ||
		strings.Contains(msg, "forcibly closed") ||
		strings.Contains(msg, "connection reset by peer")
}
