// Package events publishes workflow controller events to NATS.
//
// Every controller event is published as JSON on "<prefix>.<event type>",
// e.g. "datafactory.workflow.phase_approved". Subscribers that want all
// events use "<prefix>.>".
package events

import (
	"time"

	"github.com/c360studio/datafactory/workflow"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "datafactory.workflow"

// Subject returns the subject for an event type.
func Subject(prefix string, typ workflow.EventType) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "." + typ.String()
}

// WildcardSubject matches every event under prefix.
func WildcardSubject(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ".>"
}

// Envelope is the wire format of a published event.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Phase     int       `json:"phase"`
	Message   string    `json:"message,omitempty"`
	Revision  int       `json:"revision,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
	QAScore   *float64  `json:"qa_score,omitempty"`
	Approved  []int     `json:"approved_phases"`
	Time      time.Time `json:"time"`
}

// Progress mirrors challenge.Progress on the wire.
type Progress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}
