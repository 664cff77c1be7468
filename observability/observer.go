// Package observability provides event-based observability for the
// synchronization engine. Subsystems emit structured events; observers fan
// them out to logging or metrics backends.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// EventType identifies the kind of event. The engine defines its own
// constants using this type (e.g. "engine.request.start", "engine.sync.error").
type EventType string

// Event is one observability event. Data carries event-specific attributes.
type Event struct {
	Type      EventType
	Level     slog.Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(eventType EventType, level slog.Level, source string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// Observer receives events from subsystems for logging, tracing, or metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}
