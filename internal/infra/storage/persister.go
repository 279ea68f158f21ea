package storage

import (
	"context"
	"time"

	"github.com/MRamiBalles/mementos/server/internal/events"
	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
	"github.com/MRamiBalles/mementos/server/internal/platform/metrics"
)

// EventPersister writes the in-memory event log of one session through to
// an EventRepository. It satisfies events.EventPersister.
type EventPersister struct {
	repo      EventRepository
	sessionID string
	logger    *logger.Logger
	metrics   *metrics.Collector
	timeout   time.Duration
}

func NewEventPersister(repo EventRepository, sessionID string, log *logger.Logger, m *metrics.Collector) *EventPersister {
	return &EventPersister{
		repo:      repo,
		sessionID: sessionID,
		logger:    log,
		metrics:   m,
		timeout:   5 * time.Second,
	}
}

// Append stores one event. Failures are logged and counted, never retried.
func (p *EventPersister) Append(e events.GameEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	started := time.Now()
	err := p.repo.Append(ctx, FromDomain(p.sessionID, e))
	p.metrics.RecordEventWrite(time.Since(started), err)
	if err != nil {
		p.logger.Error("event write failed", "event", e.ID, "type", string(e.Type), "error", err)
	}
	return err
}
