// Package client runs the student device: it finds the teacher server, keeps
// a pairing session open, answers handshakes and keeps the response queue
// flowing.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"classlink/internal/discovery"
	"classlink/internal/handshake"
	"classlink/internal/models"
	"classlink/internal/pairing"
	"classlink/internal/store"
	"classlink/internal/syncengine"
	"classlink/internal/teacherapi"
	"classlink/internal/transport"
	"classlink/internal/wire"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDiscoveryTimeout  = 30 * time.Second
	DefaultReconnectDelay    = 2 * time.Second
)

// TeacherAPI is the out-of-band HTTP side of the teacher server.
type TeacherAPI interface {
	SetBaseURL(baseURL string)
	FetchMaterial(ctx context.Context, deviceID string) (*models.Material, error)
	FetchFeedback(ctx context.Context, deviceID string) (*models.Feedback, error)
}

// Syncer is the part of the sync engine the agent drives.
type Syncer interface {
	TriggerSync() bool
	Running() bool
	LastResult() (syncengine.Result, bool)
}

type Options struct {
	DeviceID  string
	Discovery *discovery.Service
	Dialer    transport.Dialer
	API       TeacherAPI
	Sync      Syncer
	Responses store.ResponseRepository
	Materials store.MaterialRepository
	Feedback  store.FeedbackRepository

	PairingGrace      time.Duration
	HeartbeatInterval time.Duration
	DiscoveryTimeout  time.Duration
	ReconnectDelay    time.Duration

	OnEvent func(Event)
	Logger  *slog.Logger
}

// Agent owns one pairing session for the lifetime of Run.
type Agent struct {
	deviceID  string
	discovery *discovery.Service
	api       TeacherAPI
	sync      Syncer
	responses store.ResponseRepository
	materials store.MaterialRepository
	feedback  store.FeedbackRepository

	heartbeatInterval time.Duration
	discoveryTimeout  time.Duration
	reconnectDelay    time.Duration

	session           *pairing.Session
	materialHandshake *handshake.Coordinator[*models.Material]
	feedbackHandshake *handshake.Coordinator[*models.Feedback]

	locked      atomic.Bool
	handRaised  atomic.Bool
	server      atomic.Pointer[wire.DiscoveredServer]
	disconnects chan pairing.DisconnectReason

	onEvent func(Event)
	logger  *slog.Logger
}

func New(opts Options) (*Agent, error) {
	switch {
	case opts.DeviceID == "":
		return nil, errors.New("device id is required")
	case opts.Discovery == nil:
		return nil, errors.New("discovery service is required")
	case opts.API == nil:
		return nil, errors.New("teacher api is required")
	case opts.Sync == nil:
		return nil, errors.New("sync engine is required")
	case opts.Responses == nil || opts.Materials == nil || opts.Feedback == nil:
		return nil, errors.New("repositories are required")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &Agent{
		deviceID:          opts.DeviceID,
		discovery:         opts.Discovery,
		api:               opts.API,
		sync:              opts.Sync,
		responses:         opts.Responses,
		materials:         opts.Materials,
		feedback:          opts.Feedback,
		heartbeatInterval: opts.HeartbeatInterval,
		discoveryTimeout:  opts.DiscoveryTimeout,
		reconnectDelay:    opts.ReconnectDelay,
		disconnects:       make(chan pairing.DisconnectReason, 1),
		onEvent:           opts.OnEvent,
		logger:            opts.Logger,
	}

	a.session = pairing.NewSession(pairing.Options{
		DeviceID:     opts.DeviceID,
		Dialer:       opts.Dialer,
		PairingGrace: opts.PairingGrace,
		Logger:       opts.Logger,
		OnPhaseChange: func(from, to pairing.Phase) {
			a.emit(EventPhaseChanged, to.String())
		},
		OnDisconnect: func(reason pairing.DisconnectReason, err error) {
			select {
			case a.disconnects <- reason:
			default:
			}
		},
	})
	a.registerHandlers()
	return a, nil
}

func (a *Agent) registerHandlers() {
	a.session.Handle(wire.OpLockScreen, func(ctx context.Context, msg wire.Message) {
		a.locked.Store(true)
		a.emit(EventLocked, "")
	})
	a.session.Handle(wire.OpUnlockScreen, func(ctx context.Context, msg wire.Message) {
		a.locked.Store(false)
		a.emit(EventUnlocked, "")
	})
	a.session.Handle(wire.OpRefreshConfig, func(ctx context.Context, msg wire.Message) {
		a.emit(EventRefreshConfig, "")
		a.heartbeat(ctx)
	})
	a.session.Handle(wire.OpHandAck, func(ctx context.Context, msg wire.Message) {
		ack := msg.(wire.HandAck)
		if ack.DeviceID != "" && ack.DeviceID != a.deviceID {
			a.logger.Debug("agent_hand_ack_ignored", "device_id", ack.DeviceID)
			return
		}
		a.handRaised.Store(false)
		a.emit(EventHandAcknowledged, "")
	})

	isNotFound := func(err error) bool { return errors.Is(err, teacherapi.ErrNotFound) }

	materialCfg := handshake.Material(a.api.FetchMaterial, a.storeMaterial)
	materialCfg.IsNotFound = isNotFound
	a.materialHandshake = handshake.New(materialCfg, a.deviceID, a.session, a.logger)
	a.materialHandshake.Register(a.session)

	feedbackCfg := handshake.Feedback(a.api.FetchFeedback, a.storeFeedback)
	feedbackCfg.IsNotFound = isNotFound
	a.feedbackHandshake = handshake.New(feedbackCfg, a.deviceID, a.session, a.logger)
	a.feedbackHandshake.Register(a.session)
}

func (a *Agent) storeMaterial(ctx context.Context, m *models.Material) error {
	if m == nil {
		return nil
	}
	m.ReceivedAt = time.Now().UTC()
	if err := a.materials.Save(ctx, m); err != nil {
		return err
	}
	a.emit(EventMaterialReceived, m.ID)
	return nil
}

func (a *Agent) storeFeedback(ctx context.Context, f *models.Feedback) error {
	if f == nil {
		return nil
	}
	f.ReceivedAt = time.Now().UTC()
	if err := a.feedback.Save(ctx, f); err != nil {
		return err
	}
	a.emit(EventFeedbackReceived, f.ID)
	return nil
}

// Run keeps the device connected until ctx ends. It only returns an error
// for problems that retrying cannot fix.
func (a *Agent) Run(ctx context.Context) error {
	defer a.discovery.Stop()
	defer a.materialHandshake.Wait()
	defer a.feedbackHandshake.Wait()

	a.logger.Info("agent_started", "device_id", a.deviceID)
	reuse := false

	for {
		server, err := a.locate(ctx, reuse)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("agent_discovery_failed", "error", err)
			if !a.pause(ctx) {
				return nil
			}
			continue
		}

		reason, err := a.serve(ctx, server)
		if ctx.Err() != nil {
			a.logger.Info("agent_stopped", "device_id", a.deviceID)
			return nil
		}
		if err != nil {
			a.logger.Warn("agent_connect_failed", "addr", server.TCPAddr(), "error", err)
			reuse = false
		} else {
			reuse = reason == pairing.ReasonTransport
			if reason == pairing.ReasonUnpaired {
				a.discovery.ClearServer()
				a.locked.Store(false)
				a.handRaised.Store(false)
				a.emit(EventUnpaired, "")
			}
		}

		if !a.pause(ctx) {
			return nil
		}
	}
}

// locate returns the server to connect to. After a transport drop the last
// known record is tried again before listening for a fresh broadcast.
func (a *Agent) locate(ctx context.Context, reuse bool) (wire.DiscoveredServer, error) {
	if reuse {
		if server, ok := a.discovery.Server(); ok {
			return server, nil
		}
	}

	awaitCtx, cancel := context.WithTimeout(ctx, a.discoveryTimeout)
	defer cancel()

	a.emit(EventSearching, "")
	server, err := a.discovery.Await(awaitCtx)
	if err != nil {
		return wire.DiscoveredServer{}, err
	}
	a.emit(EventServerFound, server.TCPAddr())
	return server, nil
}

// serve connects and blocks until the session ends.
func (a *Agent) serve(ctx context.Context, server wire.DiscoveredServer) (pairing.DisconnectReason, error) {
	select {
	case <-a.disconnects:
	default:
	}

	a.api.SetBaseURL("http://" + server.HTTPAddr())

	if err := a.session.Connect(ctx, server.Host, int(server.TCPPort)); err != nil {
		return 0, fmt.Errorf("failed to connect to %s: %w", server.TCPAddr(), err)
	}
	a.discovery.Stop()

	a.server.Store(&server)
	defer a.server.Store(nil)

	a.heartbeat(ctx)
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.session.Disconnect()
			return pairing.ReasonLocal, nil
		case reason := <-a.disconnects:
			a.emit(EventDisconnected, reason.String())
			return reason, nil
		case <-ticker.C:
			a.heartbeat(ctx)
		}
	}
}

func (a *Agent) pause(ctx context.Context) bool {
	timer := time.NewTimer(a.reconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// heartbeat sends STATUS_UPDATE and nudges the sync engine.
func (a *Agent) heartbeat(ctx context.Context) {
	status := a.Status(ctx)
	body, err := json.Marshal(status)
	if err != nil {
		a.logger.Error("agent_status_encode_failed", "error", err)
		return
	}
	if err := a.session.SendStatus(body); err != nil {
		a.logger.Warn("agent_status_send_failed", "error", err)
	}
	a.sync.TriggerSync()
}

// RaiseHand sends HAND_RAISED; the flag clears when HAND_ACK arrives.
func (a *Agent) RaiseHand() error {
	if err := a.session.RaiseHand(); err != nil {
		return err
	}
	a.handRaised.Store(true)
	a.emit(EventHandRaised, "")
	return nil
}

// RecordResponse queues an answer and starts a sync pass.
func (a *Agent) RecordResponse(ctx context.Context, response *models.PendingResponse) error {
	response.Synced = false
	response.SyncedAt = nil
	if err := a.responses.Insert(ctx, response); err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}
	a.logger.Info("agent_response_recorded", "response_id", response.ID, "question_id", response.QuestionID)
	a.sync.TriggerSync()
	return nil
}

// TriggerSync asks for a sync pass and reports whether one started.
func (a *Agent) TriggerSync() bool {
	return a.sync.TriggerSync()
}

func (a *Agent) Phase() pairing.Phase {
	return a.session.Phase()
}

func (a *Agent) Locked() bool     { return a.locked.Load() }
func (a *Agent) HandRaised() bool { return a.handRaised.Load() }
func (a *Agent) DeviceID() string { return a.deviceID }

func (a *Agent) emit(kind EventKind, detail string) {
	if a.onEvent == nil {
		return
	}
	a.onEvent(Event{Kind: kind, Detail: detail, At: time.Now()})
}
