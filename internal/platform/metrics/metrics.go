// Package metrics provides observability for the game server.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers runtime counters. Safe for concurrent use.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	LastTickTime   time.Time

	// Session metrics
	EmailsDelivered    int64
	DownloadsCompleted int64
	CommandsAccepted   int64
	CommandsRejected   int64

	// Event metrics
	EventsWritten    int64
	EventWriteLatSum int64
	EventWriteLatMax int64
	EventWriteErrors int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSMessagesDropped   int64
	WSErrors            int64

	// System
	StartTime time.Time
	mu        sync.RWMutex
}

// Global collector instance
var collector = New()

// Get returns the global collector.
func Get() *Collector {
	return collector
}

// New creates an empty collector. Tests use their own instead of the global.
func New() *Collector {
	return &Collector{StartTime: time.Now()}
}

func storeMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))
	storeMax(&c.TickLatencyMax, int64(latency))

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordEmailsDelivered counts emails that reached the inbox.
func (c *Collector) RecordEmailsDelivered(n int) {
	atomic.AddInt64(&c.EmailsDelivered, int64(n))
}

// RecordDownloadsCompleted counts queue items that reached 100%.
func (c *Collector) RecordDownloadsCompleted(n int) {
	atomic.AddInt64(&c.DownloadsCompleted, int64(n))
}

// RecordCommand counts a player command and whether it changed anything.
func (c *Collector) RecordCommand(accepted bool) {
	if accepted {
		atomic.AddInt64(&c.CommandsAccepted, 1)
	} else {
		atomic.AddInt64(&c.CommandsRejected, 1)
	}
}

// RecordEventWrite records an event write to the database.
func (c *Collector) RecordEventWrite(latency time.Duration, err error) {
	atomic.AddInt64(&c.EventsWritten, 1)
	atomic.AddInt64(&c.EventWriteLatSum, int64(latency))
	storeMax(&c.EventWriteLatMax, int64(latency))

	if err != nil {
		atomic.AddInt64(&c.EventWriteErrors, 1)
	}
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
	}
}

// RecordWSDrop records a snapshot that a slow client never received.
func (c *Collector) RecordWSDrop() {
	atomic.AddInt64(&c.WSMessagesDropped, 1)
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)
	eventsWritten := atomic.LoadInt64(&c.EventsWritten)

	// Calculate averages
	var tickAvg, eventAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if eventsWritten > 0 {
		eventAvg = float64(atomic.LoadInt64(&c.EventWriteLatSum)) / float64(eventsWritten) / 1e6
	}

	lastTick := ""
	if !c.LastTickTime.IsZero() {
		lastTick = c.LastTickTime.Format(time.RFC3339)
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"tick": map[string]interface{}{
			"count":          tickCount,
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      lastTick,
		},

		"session": map[string]interface{}{
			"emails_delivered":    atomic.LoadInt64(&c.EmailsDelivered),
			"downloads_completed": atomic.LoadInt64(&c.DownloadsCompleted),
			"commands_accepted":   atomic.LoadInt64(&c.CommandsAccepted),
			"commands_rejected":   atomic.LoadInt64(&c.CommandsRejected),
		},

		"events": map[string]interface{}{
			"written":          eventsWritten,
			"avg_write_lat_ms": eventAvg,
			"max_write_lat_ms": float64(atomic.LoadInt64(&c.EventWriteLatMax)) / 1e6,
			"errors":           atomic.LoadInt64(&c.EventWriteErrors),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"messages_dropped":   atomic.LoadInt64(&c.WSMessagesDropped),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		_ = json.NewEncoder(w).Encode(c.Snapshot())
	}
}

func writeMetric(w http.ResponseWriter, name, kind, help string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(w, "%s %.2f\n\n", name, v)
	default:
		fmt.Fprintf(w, "%s %v\n\n", name, v)
	}
}

// PrometheusHandler returns metrics in Prometheus text format.
func (c *Collector) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		writeMetric(w, "mementos_tick_count", "counter", "Total tick cycles", atomic.LoadInt64(&c.TickCount))
		writeMetric(w, "mementos_tick_latency_max_ms", "gauge", "Maximum tick latency",
			float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		writeMetric(w, "mementos_emails_delivered", "counter", "Emails delivered to the inbox", atomic.LoadInt64(&c.EmailsDelivered))
		writeMetric(w, "mementos_downloads_completed", "counter", "Downloads that reached 100%", atomic.LoadInt64(&c.DownloadsCompleted))

		fmt.Fprintf(w, "# HELP mementos_commands_total Player commands\n")
		fmt.Fprintf(w, "# TYPE mementos_commands_total counter\n")
		fmt.Fprintf(w, "mementos_commands_total{result=\"accepted\"} %d\n", atomic.LoadInt64(&c.CommandsAccepted))
		fmt.Fprintf(w, "mementos_commands_total{result=\"rejected\"} %d\n\n", atomic.LoadInt64(&c.CommandsRejected))

		writeMetric(w, "mementos_events_written", "counter", "Total events written", atomic.LoadInt64(&c.EventsWritten))
		writeMetric(w, "mementos_event_write_errors", "counter", "Total event write errors", atomic.LoadInt64(&c.EventWriteErrors))

		writeMetric(w, "mementos_ws_connections", "gauge", "Active WebSocket connections", atomic.LoadInt64(&c.WSConnectionsActive))

		fmt.Fprintf(w, "# HELP mementos_ws_messages_total Total WebSocket messages\n")
		fmt.Fprintf(w, "# TYPE mementos_ws_messages_total counter\n")
		fmt.Fprintf(w, "mementos_ws_messages_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.WSMessagesIn))
		fmt.Fprintf(w, "mementos_ws_messages_total{direction=\"out\"} %d\n", atomic.LoadInt64(&c.WSMessagesOut))
		fmt.Fprintf(w, "mementos_ws_messages_total{direction=\"dropped\"} %d\n", atomic.LoadInt64(&c.WSMessagesDropped))
	}
}
