package skill

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventTimeout   EventKind = "timeout"
)

// Event reports the progress of one execution. Per execution the order is
// Started, any number of Progress, then exactly one terminal event.
type Event struct {
	Kind        EventKind `json:"kind"`
	ExecutionID uuid.UUID `json:"execution_id"`
	SkillID     string    `json:"skill_id"`
	Message     string    `json:"message,omitempty"`
	Percent     *float64  `json:"percent,omitempty"`
	Time        time.Time `json:"time"`
}

func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed || e.Kind == EventTimeout
}
