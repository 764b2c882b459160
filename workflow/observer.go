package workflow

import "time"

// EventType classifies controller events.
type EventType string

// Controller event types.
const (
	EventTransition EventType = "transition"
	EventDraft      EventType = "draft_replaced"
	EventApproved   EventType = "phase_approved"
	EventProgress   EventType = "progress"
	EventError      EventType = "error"
	EventCelebrate  EventType = "completed"
	EventReset      EventType = "reset"
	EventSettings   EventType = "settings_changed"
	EventDismissed  EventType = "error_dismissed"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is emitted after every controller state change. Snapshot is the
// state right after the change.
type Event struct {
	Type     EventType
	From     State
	To       State
	Message  string
	Snapshot Snapshot
	Time     time.Time
}

// Observer receives controller events. Observers run synchronously on the
// goroutine that caused the change, outside the controller lock; they may
// read the controller but must not block for long.
type Observer func(Event)
