// Package sync delivers outbox events to the downstream registry over
// HTTP, preserving per-object ordering and retrying undelivered events on
// later runs.
package sync

import (
	"encoding/json"
	"fmt"
	"strings"

	"addrreg/internal/events"
	"addrreg/internal/temporal"
)

// EventVersion is the envelope format version the downstream consumer
// expects.
const EventVersion = "1.0"

// Envelope is the push message wrapping one registration snapshot. The
// formatted registration travels double-encoded: Data is itself a JSON
// document, carried as a string.
type Envelope struct {
	EventVersion string    `json:"eventVersion"`
	EventID      string    `json:"eventID"`
	EventData    EventData `json:"eventData"`
}

type EventData struct {
	ObjectData ObjectData `json:"objectData"`
}

type ObjectData struct {
	Schema string `json:"schema"`
	Data   string `json:"data"`
}

// BuildEnvelope renders the push message for one event. schemaName is the
// declared display name of the entity type (e.g. "Locality").
func BuildEnvelope(e *events.Event, schemaName string, r *temporal.Registration) (Envelope, error) {
	data, err := json.Marshal(r.Format())
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal registration %s: %w", r.Checksum, err)
	}
	return Envelope{
		EventVersion: EventVersion,
		EventID:      strings.ToLower(e.EventID.String()),
		EventData: EventData{
			ObjectData: ObjectData{
				Schema: schemaName,
				Data:   string(data),
			},
		},
	}, nil
}
