// Package handshake implements the notify, fetch, acknowledge exchange the
// teacher server uses to hand out material and feedback.
package handshake

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"classlink/internal/pairing"
	"classlink/internal/wire"
)

// Fetcher retrieves the content announced by a notification.
type Fetcher[T any] func(ctx context.Context, deviceID string) (T, error)

// Storer persists fetched content.
type Storer[T any] func(ctx context.Context, content T) error

// Sender writes one message to the server.
type Sender interface {
	Send(msg wire.Message) error
}

// Registrar accepts inbound opcode handlers.
type Registrar interface {
	Handle(op wire.Opcode, h pairing.Handler)
}

// Config describes one handshake instance.
type Config[T any] struct {
	Name    string
	Trigger wire.Opcode
	Ack     func(deviceID string) wire.Message
	Fetch   Fetcher[T]
	Store   Storer[T]
	// IsNotFound reports whether a fetch error only means nothing is
	// available. Nil treats every error as a failure.
	IsNotFound func(error) bool
	// FetchTimeout bounds one fetch; zero leaves it to the fetcher.
	FetchTimeout time.Duration
	OnOutcome    func(Outcome[T])
}

// Outcome is what one notification produced.
type Outcome[T any] struct {
	Content  T
	Fetched  bool
	NotFound bool
	FetchErr error
	StoreErr error
	AckErr   error
}

// Coordinator runs the three-step exchange for every trigger it receives.
type Coordinator[T any] struct {
	cfg      Config[T]
	deviceID string
	sender   Sender
	logger   *slog.Logger

	inflight sync.WaitGroup
}

func New[T any](cfg Config[T], deviceID string, sender Sender, logger *slog.Logger) *Coordinator[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator[T]{
		cfg:      cfg,
		deviceID: deviceID,
		sender:   sender,
		logger:   logger.With("handshake", cfg.Name),
	}
}

// Register installs the coordinator as the handler of its trigger opcode.
// The handler returns immediately; the exchange runs on its own goroutine so
// the session's reader is never blocked by a slow fetch.
func (c *Coordinator[T]) Register(r Registrar) {
	r.Handle(c.cfg.Trigger, func(ctx context.Context, msg wire.Message) {
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.Run(ctx)
		}()
	})
}

// Wait blocks until every exchange started by Register has finished.
func (c *Coordinator[T]) Wait() {
	c.inflight.Wait()
}

// Run performs one exchange synchronously. The ack is sent exactly once no
// matter how the fetch went.
func (c *Coordinator[T]) Run(ctx context.Context) Outcome[T] {
	var out Outcome[T]
	start := time.Now()

	c.logger.Info("handshake_notified", "trigger", c.cfg.Trigger.String(), "device_id", c.deviceID)

	fetchCtx := ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}

	content, err := c.cfg.Fetch(fetchCtx, c.deviceID)
	switch {
	case err == nil:
		out.Content = content
		out.Fetched = true
	case c.cfg.IsNotFound != nil && c.cfg.IsNotFound(err):
		out.NotFound = true
		c.logger.Info("handshake_nothing_available", "device_id", c.deviceID)
	default:
		out.FetchErr = err
		c.logger.Warn("handshake_fetch_failed", "device_id", c.deviceID, "error", err)
	}

	if out.Fetched && c.cfg.Store != nil {
		if err := c.cfg.Store(ctx, content); err != nil {
			out.StoreErr = err
			c.logger.Error("handshake_store_failed", "device_id", c.deviceID, "error", err)
		}
	}

	ack := c.cfg.Ack(c.deviceID)
	if err := c.sender.Send(ack); err != nil {
		out.AckErr = err
		c.logger.Warn("handshake_ack_failed", "ack", ack.Opcode().String(), "error", err)
	} else {
		c.logger.Info("handshake_acknowledged",
			"ack", ack.Opcode().String(),
			"fetched", out.Fetched,
			"duration", time.Since(start).String(),
		)
	}

	if c.cfg.OnOutcome != nil {
		c.cfg.OnOutcome(out)
	}
	return out
}

// Err folds the outcome into a single error, nil when content arrived or
// nothing was available and the ack went out.
func (o Outcome[T]) Err() error {
	return errors.Join(o.FetchErr, o.StoreErr, o.AckErr)
}
