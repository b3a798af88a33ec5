package client

import (
	"context"
	"time"

	"classlink/internal/syncengine"
	"classlink/internal/wire"
)

// Status is the STATUS_UPDATE payload.
type Status struct {
	DeviceID         string    `json:"device_id"`
	Locked           bool      `json:"locked"`
	HandRaised       bool      `json:"hand_raised"`
	PendingResponses int64     `json:"pending_responses"`
	SentAt           time.Time `json:"sent_at"`
}

func (a *Agent) Status(ctx context.Context) Status {
	pending, err := a.responses.CountUnsynced(ctx)
	if err != nil {
		a.logger.Warn("agent_pending_count_failed", "error", err)
		pending = -1
	}
	return Status{
		DeviceID:         a.deviceID,
		Locked:           a.locked.Load(),
		HandRaised:       a.handRaised.Load(),
		PendingResponses: pending,
		SentAt:           time.Now().UTC(),
	}
}

// Snapshot is the local view of the device, served to the UI.
type Snapshot struct {
	Status
	Phase     string                 `json:"phase"`
	Discovery string                 `json:"discovery"`
	Server    *wire.DiscoveredServer `json:"server,omitempty"`
	Syncing   bool                   `json:"syncing"`
	LastSync  *SyncSummary           `json:"last_sync,omitempty"`
}

type SyncSummary struct {
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func summarize(r syncengine.Result) *SyncSummary {
	s := &SyncSummary{Succeeded: r.Succeeded, Failed: r.Failed, FinishedAt: r.FinishedAt}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}

func (a *Agent) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		Status:    a.Status(ctx),
		Phase:     a.session.Phase().String(),
		Discovery: a.discovery.State().String(),
		Syncing:   a.sync.Running(),
	}
	if server := a.server.Load(); server != nil {
		s := *server
		snap.Server = &s
	}
	if r, ok := a.sync.LastResult(); ok {
		snap.LastSync = summarize(r)
	}
	return snap
}
