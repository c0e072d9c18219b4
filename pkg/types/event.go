package types

import "time"

type EventType string

const (
	EventRoundFailed   EventType = "RoundFailed"
	EventSpawnFailure  EventType = "SpawnFailure"
	EventRoundPanic    EventType = "RoundPanic"
	EventFiringDropped EventType = "FiringDropped"
	EventQueueDrop     EventType = "QueueDrop"
	EventSinkFailure   EventType = "SinkFailure"
)

type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"ts"`
	ProbeID   string            `json:"probe_id,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
}
