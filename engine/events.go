package engine

import (
	"log/slog"

	"github.com/uisync/uisync/observability"
)

// Event types emitted by the engine.
const (
	EventRequest         observability.EventType = "engine.request"
	EventVersionSkew     observability.EventType = "engine.version.skew"
	EventUpdateSent      observability.EventType = "engine.update.sent"
	EventUpdatePending   observability.EventType = "engine.update.pending"
	EventUpdateObsolete  observability.EventType = "engine.update.obsolete"
	EventNavigate        observability.EventType = "engine.navigate"
	EventNavigateIgnored observability.EventType = "engine.navigate.ignored"
	EventSuspend         observability.EventType = "engine.suspend"
	EventResume          observability.EventType = "engine.resume"
	EventInstanceLost    observability.EventType = "engine.instance.lost"
	EventError           observability.EventType = "engine.error"
)

func (c *Context) emit(eventType observability.EventType, level slog.Level, source string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = c.session.ID
	data["transaction_id"] = c.request.TransactionID
	c.engine.observer.OnEvent(c.ctx, observability.NewEvent(eventType, level, source, data))
}
