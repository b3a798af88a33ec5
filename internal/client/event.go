package client

import "time"

type EventKind string

const (
	EventSearching        EventKind = "searching"
	EventServerFound      EventKind = "server_found"
	EventPhaseChanged     EventKind = "phase_changed"
	EventDisconnected     EventKind = "disconnected"
	EventUnpaired         EventKind = "unpaired"
	EventLocked           EventKind = "locked"
	EventUnlocked         EventKind = "unlocked"
	EventRefreshConfig    EventKind = "refresh_config"
	EventHandRaised       EventKind = "hand_raised"
	EventHandAcknowledged EventKind = "hand_acknowledged"
	EventMaterialReceived EventKind = "material_received"
	EventFeedbackReceived EventKind = "feedback_received"
)

// Event is a state change the UI layer may want to reflect. Callbacks run
// on whichever goroutine produced the change and must not block.
type Event struct {
	Kind   EventKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}
