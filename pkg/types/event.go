package types

import "context"

// Event is one inbound notification as delivered by the event source.
type Event struct {
	// Origin identifies the application that posted the notification.
	Origin    string `json:"origin"`
	ChannelID string `json:"channel"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	// Key identifies the notification at its source for cancellation.
	Key string `json:"key"`
}

// Priority of an emitted notification.
type Priority int

// Emission priorities. Replacements are emitted with PriorityHigh so they
// are not coalesced by the sink.
const (
	PriorityDefault Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	default:
		return "default"
	}
}

// SinkHandle identifies an output sink created by a SinkProvider.
type SinkHandle struct {
	Key   string `json:"key"`
	Sound string `json:"sound,omitempty"`
	Label string `json:"label"`
}

// EventSource is the inbound side: it can cancel an event it delivered.
type EventSource interface {
	Cancel(ctx context.Context, eventKey string) error
}

// SinkProvider is the output side. EnsureSink is idempotent by key.
type SinkProvider interface {
	EnsureSink(ctx context.Context, key, sound, label string) (SinkHandle, error)
	Emit(ctx context.Context, sink SinkHandle, title, body string, priority Priority) error
}

// CapabilityGate is consulted before emission.
type CapabilityGate interface {
	CanEmit(ctx context.Context) bool
}

// SoundLabeler resolves a sound designator to a display title. It returns
// "" when the sound has no known title.
type SoundLabeler interface {
	Label(sound string) string
}
