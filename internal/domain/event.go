package domain

import (
	"encoding/json"
	"time"
)

// EventType names the canonical event kinds pushed through the bus.
type EventType string

const (
	EventNewEmail    EventType = "new_email"
	EventStageChange EventType = "stage_change"
	EventAlert       EventType = "alert"
)

// Event is a transient notification fanned out to connected subscribers.
// Events are never persisted.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(t EventType, data interface{}) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now().UTC()}
}

// Marshal renders the event as its wire JSON. The timestamp is always
// ISO-8601 UTC.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType   `json:"type"`
		Data      interface{} `json:"data"`
		Timestamp string      `json:"timestamp"`
	}{e.Type, e.Data, e.Timestamp.UTC().Format(time.RFC3339)})
}
