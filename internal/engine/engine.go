package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MRamiBalles/mementos/server/internal/domain/library"
	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
	"github.com/MRamiBalles/mementos/server/internal/events"
	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
	"github.com/MRamiBalles/mementos/server/internal/platform/metrics"
)

// ErrUnknownItem is returned when a download names an item outside the library.
var ErrUnknownItem = errors.New("unknown library item")

// Broadcaster receives a snapshot after every tick or command.
// Implementations must not block.
type Broadcaster interface {
	BroadcastSnapshot(Snapshot)
}

// Engine is the central orchestrator: it drives the Session from the
// Ticker, records what changed in the EventLog and pushes snapshots out.
type Engine struct {
	session   *Session
	catalogue *library.Catalogue
	eventLog  *events.EventLog
	logger    *logger.Logger
	metrics   *metrics.Collector

	mu          sync.Mutex
	ticker      *Ticker
	broadcaster Broadcaster
}

// NewEngine wires a session to its library, event log and logger.
func NewEngine(session *Session, catalogue *library.Catalogue, eventLog *events.EventLog, log *logger.Logger) *Engine {
	return &Engine{
		session:   session,
		catalogue: catalogue,
		eventLog:  eventLog,
		logger:    log.With("session", session.ID()),
		metrics:   metrics.Get(),
	}
}

// SetBroadcaster attaches the snapshot consumer (the WebSocket hub).
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcaster = b
}

// SetMetrics replaces the global collector.
func (e *Engine) SetMetrics(c *metrics.Collector) {
	e.metrics = c
}

// Run drives the clock until ctx is cancelled or the session ends.
// Ticks arriving while the session is not running are ignored.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	t := NewTicker(interval, func() { e.Step() }, e.logger)

	e.mu.Lock()
	e.ticker = t
	e.mu.Unlock()

	if e.session.IsEnded() {
		return
	}
	t.Start(ctx)
}

// Step performs one tick. It is what the ticker calls every interval and
// what headless runs call directly.
func (e *Engine) Step() (TickReport, bool) {
	started := time.Now()
	report, ok := e.session.Tick()
	if !ok {
		return report, false
	}
	e.metrics.RecordTick(time.Since(started))
	e.logger.Trace("tick", "day", report.Day, "elapsed_hours", report.ElapsedHours,
		"speed", report.Speed, "delivered", len(report.Delivered), "ended", report.Ended)
	e.record(report)
	e.publish()

	if report.Ended {
		e.stopTicker()
	}
	return report, true
}

func (e *Engine) stopTicker() {
	e.mu.Lock()
	t := e.ticker
	e.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// record turns a tick report into audit events.
func (e *Engine) record(r TickReport) {
	if r.DayChanged {
		cfg, _ := e.session.Timeline().Day(r.Day)
		e.emit(events.EventTypeDayChanged, events.ActorSystem, "", r.Day, r.ElapsedHours, map[string]any{
			"title": cfg.Title,
		})
	}

	for _, d := range r.Delivered {
		e.emit(events.EventTypeEmailDelivered, events.ActorSystem, d.ID, r.Day, r.ElapsedHours, map[string]any{
			"subject":  d.Subject,
			"sender":   d.Sender,
			"priority": string(d.Priority),
		})
	}
	if n := len(r.Delivered); n > 0 {
		e.metrics.RecordEmailsDelivered(n)
	}

	if in := r.Interruption; in != nil {
		payload := map[string]any{
			"reason":          in.Reason,
			"speed_reduction": in.SpeedReduction,
			"duration_hours":  in.DurationHours,
		}
		target := ""
		if r.Message != nil {
			target = r.Message.ID
		}
		e.emit(events.EventTypeInterruptionStarted, events.ActorSystem, target, r.Day, r.ElapsedHours, payload)
	}

	for _, it := range r.Completed {
		e.emit(events.EventTypeDownloadCompleted, events.ActorSystem, it.ItemID, r.Day, r.ElapsedHours, map[string]any{
			"size_gb": it.SizeGB,
		})
	}
	if n := len(r.Completed); n > 0 {
		e.metrics.RecordDownloadsCompleted(n)
	}

	if r.Ended {
		st := e.Stats()
		e.emit(events.EventTypeSessionEnded, events.ActorSystem, "", r.Day, r.ElapsedHours, map[string]any{
			"items_saved":      st.ItemsSaved,
			"items_lost":       st.ItemsLost,
			"percentage_saved": st.PercentageSaved,
		})
		e.logger.Info("platform shut down", "items_saved", st.ItemsSaved, "percentage_saved", st.PercentageSaved)
	}
}

func (e *Engine) emit(t events.EventType, actor, target string, day int, hours float64, payload map[string]any) {
	e.eventLog.Append(events.GameEvent{
		Type:         t,
		ActorID:      actor,
		TargetID:     target,
		Payload:      payload,
		GameDay:      day,
		ElapsedHours: hours,
	})
	e.logger.Event(string(t), actor, fmt.Sprintf("day=%d t=%.2fh target=%s", day, hours, target))
}

// emitNow records a player command at the current clock position.
func (e *Engine) emitNow(t events.EventType, target string, payload map[string]any) {
	e.emit(t, events.ActorPlayer, target, e.session.CurrentDay(), e.session.ElapsedHours(), payload)
}

func (e *Engine) publish() {
	e.mu.Lock()
	b := e.broadcaster
	e.mu.Unlock()
	if b != nil {
		b.BroadcastSnapshot(e.session.Snapshot())
	}
}

// command records the outcome of a player command and publishes on change.
func (e *Engine) command(ok bool, t events.EventType, target string, payload map[string]any) bool {
	e.metrics.RecordCommand(ok)
	if !ok {
		e.logger.Debug("command ignored", "type", string(t), "target", target)
		return false
	}
	e.emitNow(t, target, payload)
	e.publish()
	return true
}

// Start begins the countdown.
func (e *Engine) Start() bool {
	report, ok := e.session.Start()
	e.metrics.RecordCommand(ok)
	if !ok {
		return false
	}
	e.emit(events.EventTypeSessionStarted, events.ActorPlayer, "", report.Day, 0, map[string]any{
		"time_scale": e.session.TimeScale(),
	})
	e.record(report)
	e.publish()
	return true
}

func (e *Engine) Pause() bool {
	return e.command(e.session.Pause(), events.EventTypeSessionPaused, "", nil)
}

func (e *Engine) Resume() bool {
	return e.command(e.session.Resume(), events.EventTypeSessionResumed, "", nil)
}

// SetTimeScale changes how many game seconds pass per tick.
func (e *Engine) SetTimeScale(scale float64) error {
	if err := e.session.SetTimeScale(scale); err != nil {
		e.metrics.RecordCommand(false)
		return err
	}
	e.command(true, events.EventTypeTimeScaleChanged, "", map[string]any{"time_scale": scale})
	return nil
}

func (e *Engine) MarkEmailRead(id string) bool {
	return e.command(e.session.MarkEmailRead(id), events.EventTypeEmailRead, id, nil)
}

func (e *Engine) DismissMessage(id string) bool {
	return e.command(e.session.DismissSystemMessage(id), events.EventTypeMessageDismissed, id, nil)
}

// AckNotification is not audited; it only clears the outbox.
func (e *Engine) AckNotification(id string) bool {
	ok := e.session.AckNotification(id)
	e.metrics.RecordCommand(ok)
	if ok {
		e.publish()
	}
	return ok
}

func (e *Engine) DrainNotifications() []Notification {
	out := e.session.DrainNotifications()
	if len(out) > 0 {
		e.publish()
	}
	return out
}

// EnqueueItem queues a library item by id. The bool is false when the
// item was already queued or the platform has shut down.
func (e *Engine) EnqueueItem(itemID string) (DownloadItem, bool, error) {
	it, ok := e.catalogue.ByID(itemID)
	if !ok {
		e.metrics.RecordCommand(false)
		return DownloadItem{}, false, fmt.Errorf("%w: %q", ErrUnknownItem, itemID)
	}
	queued, added := e.session.EnqueueDownload(it.ID, it.SizeGB)
	e.command(added, events.EventTypeDownloadQueued, it.ID, map[string]any{
		"title":   it.Title,
		"size_gb": it.SizeGB,
	})
	return queued, added, nil
}

func (e *Engine) PauseDownload(itemID string) bool {
	return e.command(e.session.PauseDownload(itemID), events.EventTypeDownloadPaused, itemID, nil)
}

func (e *Engine) ResumeDownload(itemID string) bool {
	return e.command(e.session.ResumeDownload(itemID), events.EventTypeDownloadResumed, itemID, nil)
}

// Session exposes the query interface.
func (e *Engine) Session() *Session {
	return e.session
}

func (e *Engine) SessionID() string {
	return e.session.ID()
}

func (e *Engine) Snapshot() Snapshot {
	return e.session.Snapshot()
}

func (e *Engine) Stats() Stats {
	return e.session.Stats(e.catalogue)
}

func (e *Engine) Library() *library.Catalogue {
	return e.catalogue
}

// HoursPerDay is the day length of the session's timeline.
func (e *Engine) HoursPerDay() float64 {
	return e.session.Timeline().HoursPerDay
}

func (e *Engine) Epilogue() timeline.Epilogue {
	return e.session.Timeline().Epilogue
}

// Events returns the in-memory audit log of this session.
func (e *Engine) Events() []events.GameEvent {
	return e.eventLog.Replay()
}
