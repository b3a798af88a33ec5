// Package discovery listens for the teacher server's UDP broadcast and keeps
// the most recent decoded announcement.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"classlink/internal/wire"
)

const (
	// DefaultPort is the well-known UDP port the teacher broadcasts on.
	DefaultPort = 8888
	// DefaultReceiveTimeout bounds how long Stop waits for the loop to notice.
	DefaultReceiveTimeout = time.Second

	readBufferSize = 512
)

// ErrTimeout is returned by Await when the caller's deadline passes before
// a server is found.
var ErrTimeout = errors.New("discovery timed out")

type State int32

const (
	StateIdle State = iota
	StateSearching
	StateFound
	StateTimeout
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSearching:
		return "SEARCHING"
	case StateFound:
		return "FOUND"
	case StateTimeout:
		return "TIMEOUT"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ListenFunc opens the broadcast-receiving socket.
type ListenFunc func(port int) (net.PacketConn, error)

func listenUDP(port int) (net.PacketConn, error) {
	return net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
}

type Options struct {
	Port           int
	ReceiveTimeout time.Duration
	Listen         ListenFunc
	Logger         *slog.Logger
}

// Service owns the receive loop. The zero value is not usable; call New.
type Service struct {
	port           int
	receiveTimeout time.Duration
	listen         ListenFunc
	logger         *slog.Logger

	state  atomic.Int32
	server atomic.Pointer[wire.DiscoveredServer]

	mu      sync.Mutex // guards the fields of the current run
	conn    net.PacketConn
	stopCh  chan struct{}
	done    chan struct{}
	running bool
	run     uint64 // bumped by every Start
	lastErr error

	subsMu sync.Mutex
	subs   map[chan wire.DiscoveredServer]struct{}
}

func New(opts Options) *Service {
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.Listen == nil {
		opts.Listen = listenUDP
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		port:           opts.Port,
		receiveTimeout: opts.ReceiveTimeout,
		listen:         opts.Listen,
		logger:         opts.Logger,
		subs:           make(map[chan wire.DiscoveredServer]struct{}),
	}
}

// Start opens the socket and begins listening. Calling it while a loop is
// already active does nothing. A bind failure moves the service to ERROR.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	conn, err := s.listen(s.port)
	if err != nil {
		s.lastErr = err
		s.state.Store(int32(StateError))
		s.logger.Error("discovery_bind_failed", "port", s.port, "error", err)
		return fmt.Errorf("failed to bind UDP port %d: %w", s.port, err)
	}

	s.conn = conn
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	s.run++
	s.lastErr = nil
	s.state.Store(int32(StateSearching))

	go s.listenLoop(conn, s.stopCh, s.done)

	s.logger.Info("discovery_started", "addr", conn.LocalAddr().String())
	return nil
}

// Stop closes the socket and waits for the loop to exit. The discovered
// record is kept.
func (s *Service) Stop() {
	stopped := s.halt(func() bool {
		s.state.Store(int32(StateIdle))
		return true
	})
	if stopped {
		s.logger.Info("discovery_stopped")
	}
}

// MarkTimeout is how callers impose their deadline: if nothing has been
// found yet the loop is stopped and the state becomes TIMEOUT. A packet that
// lands before the loop exits wins and the state stays FOUND.
func (s *Service) MarkTimeout() {
	if State(s.state.Load()) != StateSearching {
		return
	}
	timedOut := s.halt(func() bool {
		return s.state.CompareAndSwap(int32(StateSearching), int32(StateTimeout))
	})
	if timedOut {
		s.logger.Warn("discovery_timeout", "port", s.port)
	}
}

// halt terminates the active loop and, once it has exited, applies
// transition unless a newer Start has begun in the meantime. It reports
// whether transition ran and returned true.
func (s *Service) halt(transition func() bool) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	close(s.stopCh)
	s.conn.Close()
	done := s.done
	run := s.run
	s.running = false
	s.conn = nil
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != run {
		return false
	}
	return transition()
}

func (s *Service) listenLoop(conn net.PacketConn, stopCh, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		// the deadline is the only point where a stop request is observed
		conn.SetReadDeadline(time.Now().Add(s.receiveTimeout))

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-stopCh:
				return
			default:
			}
			s.fail(conn, err)
			return
		}

		server, err := wire.DecodeDiscovery(buf[:n])
		if err != nil {
			s.logger.Debug("discovery_packet_dropped", "from", addrString(addr), "size", n, "error", err)
			continue
		}

		s.server.Store(&server)
		s.state.Store(int32(StateFound))
		s.logger.Info("discovery_server_found",
			"host", server.Host,
			"http_port", server.HTTPPort,
			"tcp_port", server.TCPPort,
		)
		s.publish(server)
	}
}

// fail ends the current run after a transport error.
func (s *Service) fail(conn net.PacketConn, err error) {
	conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		// Stop or MarkTimeout already owns this run
		return
	}
	s.running = false
	s.conn = nil
	s.lastErr = err
	s.state.Store(int32(StateError))
	s.logger.Error("discovery_read_failed", "error", err)
}

func (s *Service) State() State {
	return State(s.state.Load())
}

// Err returns the failure that moved the service to ERROR, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LocalAddr is the bound socket address, empty when not running.
func (s *Service) LocalAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.LocalAddr().String()
}

// Server returns the last successfully decoded announcement.
func (s *Service) Server() (wire.DiscoveredServer, bool) {
	p := s.server.Load()
	if p == nil {
		return wire.DiscoveredServer{}, false
	}
	return *p, true
}

// ClearServer discards the stored announcement.
func (s *Service) ClearServer() {
	s.server.Store(nil)
}

// Subscribe returns a channel that receives every newly captured server.
// A slow reader only sees the latest one. Call cancel to unsubscribe.
func (s *Service) Subscribe() (<-chan wire.DiscoveredServer, func()) {
	ch := make(chan wire.DiscoveredServer, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
		})
	}
	return ch, cancel
}

func (s *Service) publish(server wire.DiscoveredServer) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- server:
		default:
			// replace the stale value
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- server:
			default:
			}
		}
	}
}

// Await starts the listener if needed and blocks until a server is found,
// the listener fails, or ctx ends. A ctx deadline moves the service to
// TIMEOUT.
func (s *Service) Await(ctx context.Context) (wire.DiscoveredServer, error) {
	updates, cancel := s.Subscribe()
	defer cancel()

	if err := s.Start(); err != nil {
		return wire.DiscoveredServer{}, err
	}
	if server, ok := s.Server(); ok && s.State() == StateFound {
		return server, nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case server := <-updates:
			return server, nil
		case <-ticker.C:
			switch s.State() {
			case StateFound:
				if server, ok := s.Server(); ok {
					return server, nil
				}
			case StateError:
				return wire.DiscoveredServer{}, fmt.Errorf("discovery failed: %w", s.Err())
			case StateIdle:
				return wire.DiscoveredServer{}, errors.New("discovery stopped")
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.MarkTimeout()
				if server, ok := s.Server(); ok && s.State() == StateFound {
					return server, nil
				}
				return wire.DiscoveredServer{}, ErrTimeout
			}
			return wire.DiscoveredServer{}, ctx.Err()
		}
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
