// Package storage provides the persistence layer for the game server.
// This package implements the repository pattern to keep the domain pure.
// Nothing stored here is ever used to resume a session: the event log is an
// audit trail for the recap screen and customization is the only state
// that outlives a session.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup has no row.
var ErrNotFound = errors.New("not found")

// GameEvent mirrors the domain event structure for persistence.
// The domain package should NOT import this; use interfaces instead.
type GameEvent struct {
	ID           string                 `json:"id" db:"id"`
	SessionID    string                 `json:"session_id" db:"session_id"`
	Timestamp    time.Time              `json:"timestamp" db:"timestamp"`
	EventType    string                 `json:"event_type" db:"event_type"`
	ActorID      string                 `json:"actor_id" db:"actor_id"`
	TargetID     string                 `json:"target_id" db:"target_id"`
	Payload      map[string]interface{} `json:"payload" db:"payload"`
	GameDay      int                    `json:"game_day" db:"game_day"`
	ElapsedHours float64                `json:"elapsed_hours" db:"elapsed_hours"`
}

// EventRepository defines the interface for event persistence.
type EventRepository interface {
	// Append adds a new event to the immutable ledger.
	Append(ctx context.Context, event GameEvent) error

	// GetBySessionID retrieves all events of a session in append order.
	GetBySessionID(ctx context.Context, sessionID string) ([]GameEvent, error)

	// GetBySessionDay retrieves all events from a specific in-game day.
	GetBySessionDay(ctx context.Context, sessionID string, day int) ([]GameEvent, error)

	// GetByEventType retrieves all events of a specific type.
	GetByEventType(ctx context.Context, sessionID string, eventType string) ([]GameEvent, error)
}

// SessionRecord is the audit row of one played session.
type SessionRecord struct {
	ID              string     `json:"session_id" db:"session_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	TimeScale       float64    `json:"time_scale" db:"time_scale"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	ItemsSaved      int        `json:"items_saved" db:"items_saved"`
	PercentageSaved float64    `json:"percentage_saved" db:"percentage_saved"`
}

// SessionRepository records when sessions started and how they ended.
type SessionRepository interface {
	Create(ctx context.Context, rec SessionRecord) error
	MarkEnded(ctx context.Context, sessionID string, endedAt time.Time, itemsSaved int, percentageSaved float64) error
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
}

// CustomizationStore is a key-value store for opaque image blobs.
type CustomizationStore interface {
	Get(ctx context.Context, key string) ([]byte, error) // ErrNotFound on miss
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
