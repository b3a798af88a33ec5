// Package pairing drives the student side of the classroom session: connect,
// announce the device, then dispatch the server's control opcodes.
package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"classlink/internal/transport"
	"classlink/internal/wire"
)

var (
	ErrNotPaired        = errors.New("not paired")
	ErrTransport        = errors.New("transport error")
	ErrAlreadyConnected = errors.New("session already connecting or paired")
)

// DefaultPairingGrace is how long the transport must stay open after the
// PAIRING_REQUEST before the session counts as paired without any reply.
const DefaultPairingGrace = 2 * time.Second

type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhasePairing
	PhasePaired
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "DISCONNECTED"
	case PhaseConnecting:
		return "CONNECTING"
	case PhasePairing:
		return "PAIRING"
	case PhasePaired:
		return "PAIRED"
	default:
		return "UNKNOWN"
	}
}

type DisconnectReason int

const (
	// ReasonUnpaired: the server sent UNPAIR.
	ReasonUnpaired DisconnectReason = iota
	// ReasonTransport: a read or write failed, or the server closed the stream.
	ReasonTransport
	// ReasonLocal: Disconnect was called.
	ReasonLocal
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonUnpaired:
		return "unpaired"
	case ReasonTransport:
		return "transport"
	case ReasonLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Handler receives one decoded inbound message. ctx is cancelled when the
// connection that delivered the message goes away.
type Handler func(ctx context.Context, msg wire.Message)

type Options struct {
	DeviceID      string
	Dialer        transport.Dialer
	PairingGrace  time.Duration
	Logger        *slog.Logger
	OnPhaseChange func(from, to Phase)
	OnDisconnect  func(reason DisconnectReason, err error)
}

type Session struct {
	deviceID      string
	dialer        transport.Dialer
	grace         time.Duration
	logger        *slog.Logger
	onPhaseChange func(from, to Phase)
	onDisconnect  func(reason DisconnectReason, err error)

	mu     sync.Mutex
	phase  Phase
	conn   transport.Conn
	gen    uint64 // bumped whenever the current connection is abandoned
	ctx    context.Context
	cancel context.CancelFunc

	handlersMu sync.RWMutex
	handlers   map[wire.Opcode]Handler
}

func NewSession(opts Options) *Session {
	if opts.PairingGrace <= 0 {
		opts.PairingGrace = DefaultPairingGrace
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.TCPDialer{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		deviceID:      opts.DeviceID,
		dialer:        opts.Dialer,
		grace:         opts.PairingGrace,
		logger:        opts.Logger,
		onPhaseChange: opts.OnPhaseChange,
		onDisconnect:  opts.OnDisconnect,
		handlers:      make(map[wire.Opcode]Handler),
	}
}

func (s *Session) DeviceID() string { return s.deviceID }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Handle registers h for op, replacing any earlier handler. UNPAIR is always
// handled by the session itself.
func (s *Session) Handle(op wire.Opcode, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[op] = h
}

// setPhase must be called with mu held; it returns a func that fires the
// callback once the lock is released.
func (s *Session) setPhase(to Phase) func() {
	from := s.phase
	s.phase = to
	if from == to || s.onPhaseChange == nil {
		return func() {}
	}
	cb := s.onPhaseChange
	return func() { cb(from, to) }
}

// Connect dials host:port, sends PAIRING_REQUEST and starts the reader. It
// does not wait for any reply from the server.
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	s.mu.Lock()
	if s.phase != PhaseDisconnected {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: phase %s", ErrAlreadyConnected, phase)
	}
	s.gen++
	gen := s.gen
	notify := s.setPhase(PhaseConnecting)
	s.mu.Unlock()
	notify()

	s.logger.Info("session_connecting", "addr", addr, "device_id", s.deviceID)

	conn, err := s.dialer.Dial(ctx, addr)
	if err != nil {
		s.abortConnect(gen)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	frame, err := wire.Encode(wire.PairingRequest{DeviceID: s.deviceID})
	if err != nil {
		conn.Close()
		s.abortConnect(gen)
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		// Disconnect ran while we were dialing
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: connect aborted", ErrTransport)
	}
	s.conn = conn
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if err := conn.Send(frame); err != nil {
		s.drop(gen, ReasonTransport, err)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return fmt.Errorf("%w: connection closed during pairing", ErrTransport)
	}
	notify = s.setPhase(PhasePairing)
	handlerCtx := s.ctx
	s.mu.Unlock()
	notify()

	s.logger.Info("session_pairing_requested", "addr", addr, "remote_addr", conn.RemoteAddr())

	go s.readLoop(handlerCtx, conn, gen)
	time.AfterFunc(s.grace, func() { s.promote(gen) })
	return nil
}

func (s *Session) abortConnect(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	notify := s.setPhase(PhaseDisconnected)
	s.mu.Unlock()
	notify()
}

// promote moves PAIRING to PAIRED for the given connection.
func (s *Session) promote(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.phase != PhasePairing {
		s.mu.Unlock()
		return
	}
	notify := s.setPhase(PhasePaired)
	s.mu.Unlock()
	notify()
	s.logger.Info("session_paired", "device_id", s.deviceID)
}

// Send encodes and writes msg. A write failure tears the session down.
func (s *Session) Send(msg wire.Message) error {
	s.mu.Lock()
	if s.phase == PhaseDisconnected || s.conn == nil {
		s.mu.Unlock()
		return ErrNotPaired
	}
	conn := s.conn
	gen := s.gen
	s.mu.Unlock()

	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.Send(frame); err != nil {
		s.drop(gen, ReasonTransport, err)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	s.logger.Debug("session_message_sent", "opcode", msg.Opcode().String(), "size", len(frame))
	return nil
}

// RaiseHand sends HAND_RAISED with the device id.
func (s *Session) RaiseHand() error {
	return s.Send(wire.HandRaised{DeviceID: s.deviceID})
}

// SendStatus sends STATUS_UPDATE; status is passed through untouched.
func (s *Session) SendStatus(status json.RawMessage) error {
	return s.Send(wire.StatusUpdate{Status: status})
}

// Disconnect closes the session locally.
func (s *Session) Disconnect() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.drop(gen, ReasonLocal, nil)
}

// drop closes the connection identified by gen and moves to DISCONNECTED.
// Stale generations are ignored, so the first caller wins.
func (s *Session) drop(gen uint64, reason DisconnectReason, cause error) {
	s.mu.Lock()
	if s.gen != gen || s.phase == PhaseDisconnected {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.gen++
	notify := s.setPhase(PhaseDisconnected)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	notify()

	if cause != nil {
		s.logger.Warn("session_disconnected", "reason", reason.String(), "error", cause)
	} else {
		s.logger.Info("session_disconnected", "reason", reason.String())
	}
	if s.onDisconnect != nil {
		s.onDisconnect(reason, cause)
	}
}

func (s *Session) readLoop(ctx context.Context, conn transport.Conn, gen uint64) {
	for {
		frame, err := conn.Receive()
		if err != nil {
			if transport.IsClosed(err) {
				s.drop(gen, ReasonTransport, nil)
			} else {
				s.drop(gen, ReasonTransport, err)
			}
			return
		}

		// any inbound traffic means the server accepted us
		s.promote(gen)

		msg, err := wire.Decode(frame)
		if err != nil {
			s.logger.Warn("session_message_dropped", "size", len(frame), "error", err)
			continue
		}

		if _, ok := msg.(wire.Unpair); ok {
			s.logger.Info("session_unpair_received", "device_id", s.deviceID)
			s.drop(gen, ReasonUnpaired, nil)
			return
		}

		s.dispatch(ctx, msg)
	}
}

func (s *Session) dispatch(ctx context.Context, msg wire.Message) {
	s.handlersMu.RLock()
	h, ok := s.handlers[msg.Opcode()]
	s.handlersMu.RUnlock()

	if !ok {
		s.logger.Warn("session_unhandled_opcode", "opcode", msg.Opcode().String())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session_handler_panic", "opcode", msg.Opcode().String(), "panic", r)
		}
	}()
	h(ctx, msg)
}
