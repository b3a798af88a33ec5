package transport

import (
	"sync"
)

// Pipe returns two connected in-memory ends. Closing either end makes both
// sides' Receive return ErrClosed.
func Pipe() (Conn, Conn) {
	shared := &pipeShared{done: make(chan struct{})}
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	return &pipeConn{shared: shared, in: ba, out: ab, name: "pipe-a"},
		&pipeConn{shared: shared, in: ab, out: ba, name: "pipe-b"}
}

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

type pipeConn struct {
	shared *pipeShared
	in     <-chan []byte
	out    chan<- []byte
	name   string
}

func (p *pipeConn) Send(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- cp:
		return nil
	case <-p.shared.done:
		return ErrClosed
	}
}

func (p *pipeConn) Receive() ([]byte, error) {
	// drain frames that were sent before the close
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.shared.done:
		return nil, ErrClosed
	}
}

func (p *pipeConn) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}

func (p *pipeConn) RemoteAddr() string { return p.name }
