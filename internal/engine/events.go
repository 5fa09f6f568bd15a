package engine

import "time"

// EventKind names a queue transition.
type EventKind string

// Queue event kinds.
const (
	EventQueueUpdated        EventKind = "queue-updated"
	EventProcessingStarted   EventKind = "processing-started"
	EventProcessingCompleted EventKind = "processing-completed"
	EventItemProcessing      EventKind = "item-processing"
	EventItemCompleted       EventKind = "item-completed"
	EventItemFailed          EventKind = "item-failed"
	EventItemRetry           EventKind = "item-retry"
	EventPaused              EventKind = "paused"
	EventResumed             EventKind = "resumed"
	EventRetryFailed         EventKind = "retry-failed"
	EventFailedCleared       EventKind = "failed-cleared"
)

// Event is one observable queue transition. Which fields are populated
// depends on Kind.
type Event struct {
	Kind     EventKind     `json:"kind"`
	Path     string        `json:"path,omitempty"`
	Action   Action        `json:"action,omitempty"`
	Count    int           `json:"count,omitempty"`
	Pending  int           `json:"pending,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Retries  int           `json:"retries,omitempty"`
	Delay    time.Duration `json:"delay,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// Listener receives queue events. Listeners are invoked synchronously
// at transition points, outside the queue's internal locks, so they
// must be fast and must not call back into mutating queue methods.
type Listener func(Event)
