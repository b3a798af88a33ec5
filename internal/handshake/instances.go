package handshake

import (
	"classlink/internal/models"
	"classlink/internal/wire"
)

// Material is the DISTRIBUTE_MATERIAL / DISTRIBUTE_ACK exchange.
func Material(fetch Fetcher[*models.Material], store Storer[*models.Material]) Config[*models.Material] {
	return Config[*models.Material]{
		Name:    "material",
		Trigger: wire.OpDistributeMaterial,
		Ack:     func(id string) wire.Message { return wire.DistributeAck{DeviceID: id} },
		Fetch:   fetch,
		Store:   store,
	}
}

// Feedback is the RETURN_FEEDBACK / FEEDBACK_ACK exchange.
func Feedback(fetch Fetcher[*models.Feedback], store Storer[*models.Feedback]) Config[*models.Feedback] {
	return Config[*models.Feedback]{
		Name:    "feedback",
		Trigger: wire.OpReturnFeedback,
		Ack:     func(id string) wire.Message { return wire.FeedbackAck{DeviceID: id} },
		Fetch:   fetch,
		Store:   store,
	}
}
