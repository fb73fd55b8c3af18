package telemetry

import "errors"

// EventType names an event on the wire.
type EventType string

const (
	EventReady          EventType = "ready"
	EventState          EventType = "state"
	EventChannelChanged EventType = "channelChanged"
	EventPowerChanged   EventType = "powerChanged"
	EventFault          EventType = "fault"
	EventHeartbeat      EventType = "heartbeat"
)

// Event is one telemetry event. ID is scoped to Radio; global events
// (empty Radio) use their own sequence. Zero means unassigned.
type Event struct {
	ID    int64                  `json:"id,omitempty"`
	Type  EventType              `json:"type"`
	Radio string                 `json:"radio,omitempty"`
	Data  map[string]interface{} `json:"data"`
}

// RadioSummary is one radio in the ready snapshot.
type RadioSummary struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Status string `json:"status"`
}

// Snapshot is carried by the ready event.
type Snapshot struct {
	ActiveRadioID string         `json:"activeRadioId"`
	Radios        []RadioSummary `json:"radios"`
}

// SnapshotFunc supplies the ready snapshot at subscribe time.
type SnapshotFunc func() Snapshot

var (
	// ErrHubStopped is returned by Subscribe after Stop.
	ErrHubStopped = errors.New("telemetry hub stopped")

	// ErrStaleEventID rejects a preassigned id at or below the last id
	// issued on the same sequence.
	ErrStaleEventID = errors.New("event id is not newer than the last assigned id")
)
