// Package events provides the append-only audit log of a session.
// Everything the clock or the player does is recorded here, in order.
// The log is never used to restore a session; it feeds the recap screen.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a session event.
type EventType string

const (
	EventTypeSessionStarted      EventType = "SESSION_STARTED"
	EventTypeSessionPaused       EventType = "SESSION_PAUSED"
	EventTypeSessionResumed      EventType = "SESSION_RESUMED"
	EventTypeSessionEnded        EventType = "SESSION_ENDED"
	EventTypeTimeScaleChanged    EventType = "TIME_SCALE_CHANGED"
	EventTypeDayChanged          EventType = "DAY_CHANGED"
	EventTypeEmailDelivered      EventType = "EMAIL_DELIVERED"
	EventTypeEmailRead           EventType = "EMAIL_READ"
	EventTypeInterruptionStarted EventType = "INTERRUPTION_STARTED"
	EventTypeMessageDismissed    EventType = "MESSAGE_DISMISSED"
	EventTypeDownloadQueued      EventType = "DOWNLOAD_QUEUED"
	EventTypeDownloadPaused      EventType = "DOWNLOAD_PAUSED"
	EventTypeDownloadResumed     EventType = "DOWNLOAD_RESUMED"
	EventTypeDownloadCompleted   EventType = "DOWNLOAD_COMPLETED"
)

// Actors.
const (
	ActorSystem = "SYSTEM"
	ActorPlayer = "PLAYER"
)

// GameEvent represents an immutable record of something that happened.
type GameEvent struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Type         EventType      `json:"type"`
	ActorID      string         `json:"actor_id"`
	TargetID     string         `json:"target_id,omitempty"` // email, message or library item id
	Payload      map[string]any `json:"payload,omitempty"`
	GameDay      int            `json:"game_day"`
	ElapsedHours float64        `json:"elapsed_hours"`
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event GameEvent) error
}

// persistQueueSize bounds how many events may wait for the persister.
const persistQueueSize = 256

// EventLog is the in-memory append-only log of session events.
// When a persister is set, events are written in order by a single writer
// goroutine so the tick path never waits on storage.
type EventLog struct {
	mu        sync.RWMutex
	events    []GameEvent
	persister EventPersister

	queue   chan GameEvent
	done    chan struct{}
	closing sync.Once
	dropped atomic.Int64
}

// NewEventLog creates a new event log with an optional persister.
// Call Close to flush pending writes when a persister is used.
func NewEventLog(persister EventPersister) *EventLog {
	el := &EventLog{
		events:    make([]GameEvent, 0),
		persister: persister,
		done:      make(chan struct{}),
	}
	if persister == nil {
		close(el.done)
		return el
	}
	q := make(chan GameEvent, persistQueueSize)
	el.queue = q
	go el.writer(q)
	return el
}

// writer owns q; Close may nil the field before this goroutine runs.
func (el *EventLog) writer(q <-chan GameEvent) {
	defer close(el.done)
	for e := range q {
		_ = el.persister.Append(e)
	}
}

// Append adds a new event to the log. Missing ID and Timestamp are filled in.
func (el *EventLog) Append(event GameEvent) GameEvent {
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	el.mu.Lock()
	defer el.mu.Unlock()
	el.events = append(el.events, event)

	if el.queue != nil {
		select {
		case el.queue <- event:
		default:
			el.dropped.Add(1)
		}
	}
	return event
}

// Close stops the writer after draining queued events. Appending after
// Close keeps the event in memory only.
func (el *EventLog) Close() {
	el.closing.Do(func() {
		el.mu.Lock()
		if el.queue != nil {
			close(el.queue)
			el.queue = nil
		}
		el.mu.Unlock()
	})
	<-el.done
}

// Dropped is the number of events that could not be handed to the persister.
func (el *EventLog) Dropped() int64 {
	return el.dropped.Load()
}

// GetByType returns all events of a specific type.
func (el *EventLog) GetByType(t EventType) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

// GetByDay returns all events that occurred on a specific game day.
func (el *EventLog) GetByDay(day int) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []GameEvent
	for _, e := range el.events {
		if e.GameDay == day {
			result = append(result, e)
		}
	}
	return result
}

// Replay returns a copy of the full history in append order.
func (el *EventLog) Replay() []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()
	out := make([]GameEvent, len(el.events))
	copy(out, el.events)
	return out
}

// Len is the number of events recorded.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
