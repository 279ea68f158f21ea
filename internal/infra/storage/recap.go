package storage

import (
	"context"
	"fmt"
	"math"

	"github.com/MRamiBalles/mementos/server/internal/events"
)

// Recapper builds the end screen timeline from the persisted event log.
type Recapper struct {
	eventRepo   EventRepository
	hoursPerDay float64
}

// NewRecapper creates a recap generator backed by the event repository.
// hoursPerDay is the day length of the session's timeline.
func NewRecapper(eventRepo EventRepository, hoursPerDay float64) *Recapper {
	return &Recapper{eventRepo: eventRepo, hoursPerDay: hoursPerDay}
}

// RecapEvent is a simplified event for the recap screen.
type RecapEvent struct {
	GameTime  string `json:"game_time"` // "Day 2 12:00"
	EventType string `json:"event_type"`
	Summary   string `json:"summary"` // Human-readable description
	Impact    string `json:"impact"`  // "POSITIVE", "NEGATIVE", "NEUTRAL"
}

// GenerateRecap returns the recap of a session from sinceDay onwards.
// Player bookkeeping (reads, dismissals) is left out.
func (r *Recapper) GenerateRecap(ctx context.Context, sessionID string, sinceDay int) ([]RecapEvent, error) {
	all, err := r.eventRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session events: %w", err)
	}
	return Summarize(all, sinceDay, r.hoursPerDay), nil
}

// Summarize turns stored events into recap lines. Clock times are shown
// relative to the start of each day of hoursPerDay hours (24 when unset).
func Summarize(all []GameEvent, sinceDay int, hoursPerDay float64) []RecapEvent {
	if hoursPerDay <= 0 {
		hoursPerDay = 24
	}
	recap := make([]RecapEvent, 0, len(all))
	for _, e := range all {
		if e.GameDay < sinceDay {
			continue
		}
		summary, ok := summarizeEvent(e)
		if !ok {
			continue
		}
		recap = append(recap, RecapEvent{
			GameTime:  formatGameTime(e.GameDay, e.ElapsedHours, hoursPerDay),
			EventType: e.EventType,
			Summary:   summary,
			Impact:    determineImpact(e),
		})
	}
	return recap
}

// FromDomain converts a logged event into its stored form.
func FromDomain(sessionID string, e events.GameEvent) GameEvent {
	return GameEvent{
		ID:           e.ID,
		SessionID:    sessionID,
		Timestamp:    e.Timestamp,
		EventType:    string(e.Type),
		ActorID:      e.ActorID,
		TargetID:     e.TargetID,
		Payload:      e.Payload,
		GameDay:      e.GameDay,
		ElapsedHours: e.ElapsedHours,
	}
}

func formatGameTime(day int, elapsedHours, hoursPerDay float64) string {
	// The shutdown lands on the last day's closing boundary: show 24:00.
	minutes := int(math.Round((elapsedHours - float64(day-1)*hoursPerDay) * 60))
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("Day %d %02d:%02d", day, minutes/60, minutes%60)
}

func payloadString(e GameEvent, key string) string {
	if v, ok := e.Payload[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// summarizeEvent creates a human-readable summary.
func summarizeEvent(e GameEvent) (string, bool) {
	switch events.EventType(e.EventType) {
	case events.EventTypeSessionStarted:
		return "You logged in to your Vault Digital account.", true
	case events.EventTypeDayChanged:
		return fmt.Sprintf("Day %d: %s", e.GameDay, payloadString(e, "title")), true
	case events.EventTypeEmailDelivered:
		return "New email: " + payloadString(e, "subject"), true
	case events.EventTypeInterruptionStarted:
		return "Bandwidth dropped. " + payloadString(e, "reason"), true
	case events.EventTypeDownloadQueued:
		return "Queued for download: " + payloadString(e, "title"), true
	case events.EventTypeDownloadCompleted:
		return fmt.Sprintf("Saved item %s.", e.TargetID), true
	case events.EventTypeSessionEnded:
		return fmt.Sprintf("Vault Digital shut down. %s items saved.", payloadString(e, "items_saved")), true
	case events.EventTypeSessionPaused:
		return "You stepped away from the desktop.", true
	default:
		return "", false
	}
}

// determineImpact classifies the event impact.
func determineImpact(e GameEvent) string {
	switch events.EventType(e.EventType) {
	case events.EventTypeInterruptionStarted, events.EventTypeSessionEnded:
		return "NEGATIVE"
	case events.EventTypeDownloadCompleted:
		return "POSITIVE"
	default:
		return "NEUTRAL"
	}
}
