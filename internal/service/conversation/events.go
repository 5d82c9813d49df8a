package conversation

// EventType 标识引擎推送给视图层的事件类型。
type EventType string

const (
	EventSnapshot      EventType = "snapshot"
	EventDelta         EventType = "delta"
	EventDone          EventType = "done"
	EventError         EventType = "error"
	EventPersistFailed EventType = "persist_failed"
	EventCanceled      EventType = "canceled"
)

// Event is delivered to the engine listener. Content holds the accumulated
// assistant text for delta, done and error events.
type Event struct {
	Type      EventType          `json:"type"`
	SessionID string             `json:"sessionId,omitempty"`
	MessageID string             `json:"messageId,omitempty"`
	Content   string             `json:"content,omitempty"`
	Error     string             `json:"error,omitempty"`
	State     *ConversationState `json:"state,omitempty"`
}

// Listener receives engine events. It runs with the engine lock held, so it
// must return quickly and must not call back into the engine.
type Listener func(Event)
