package events

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPersister struct {
	mu     sync.Mutex
	events []GameEvent
	fail   bool
}

func (p *recordingPersister) Append(e GameEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("disk full")
	}
	p.events = append(p.events, e)
	return nil
}

func TestAppendFillsIDAndTimestamp(t *testing.T) {
	el := NewEventLog(nil)
	e := el.Append(GameEvent{Type: EventTypeSessionStarted, ActorID: ActorPlayer, GameDay: 1})

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, 1, el.Len())
}

func TestQueriesByDayAndType(t *testing.T) {
	el := NewEventLog(nil)
	el.Append(GameEvent{Type: EventTypeEmailDelivered, GameDay: 1, TargetID: "a"})
	el.Append(GameEvent{Type: EventTypeDayChanged, GameDay: 2})
	el.Append(GameEvent{Type: EventTypeEmailDelivered, GameDay: 2, TargetID: "b"})

	assert.Len(t, el.GetByDay(2), 2)
	delivered := el.GetByType(EventTypeEmailDelivered)
	require.Len(t, delivered, 2)
	assert.Equal(t, "a", delivered[0].TargetID)
	assert.Equal(t, "b", delivered[1].TargetID)
}

func TestReplayReturnsCopy(t *testing.T) {
	el := NewEventLog(nil)
	el.Append(GameEvent{Type: EventTypeSessionStarted})

	history := el.Replay()
	history[0].Type = EventTypeSessionEnded
	assert.Equal(t, EventTypeSessionStarted, el.Replay()[0].Type)
}

func TestPersisterReceivesEventsInOrder(t *testing.T) {
	p := &recordingPersister{}
	el := NewEventLog(p)
	for i := 0; i < 20; i++ {
		el.Append(GameEvent{Type: EventTypeEmailDelivered, GameDay: i})
	}
	el.Close()

	require.Len(t, p.events, 20)
	for i, e := range p.events {
		assert.Equal(t, i, e.GameDay)
	}
	assert.Zero(t, el.Dropped())
}

func TestPersisterFailureKeepsMemoryLog(t *testing.T) {
	el := NewEventLog(&recordingPersister{fail: true})
	el.Append(GameEvent{Type: EventTypeSessionStarted})
	el.Close()
	assert.Equal(t, 1, el.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	el := NewEventLog(&recordingPersister{})
	el.Close()
	el.Close()
	el.Append(GameEvent{Type: EventTypeSessionEnded})
	assert.Equal(t, 1, el.Len())
}

func TestCloseBeforeWriterStartsFlushes(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

	for i := 0; i < 50; i++ {
		p := &recordingPersister{}
		el := NewEventLog(p)
		el.Append(GameEvent{Type: EventTypeSessionStarted})

		closed := make(chan struct{})
		go func() {
			el.Close()
			close(closed)
		}()
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatal("Close did not return")
		}

		p.mu.Lock()
		assert.Len(t, p.events, 1)
		p.mu.Unlock()
	}
}
