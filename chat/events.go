package chat

// EventType tags one streamed event.
type EventType string

// Event types, in the order a stream can emit them. done is always the
// terminal event, including after error.
const (
	EventMeta      EventType = "meta"
	EventAssistant EventType = "assistant"
	EventStep      EventType = "step"
	EventInfo      EventType = "info"
	EventRetry     EventType = "retry"
	EventFinal     EventType = "final"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Event is one discrete side effect of a streamed turn.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Content   string      `json:"content,omitempty"`
	Step      *Step       `json:"step,omitempty"`
	Result    *ChatResult `json:"result,omitempty"`
	Err       string      `json:"error,omitempty"`
}
