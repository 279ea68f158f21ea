package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/mementos/server/internal/domain/library"
	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
	"github.com/MRamiBalles/mementos/server/internal/engine"
	"github.com/MRamiBalles/mementos/server/internal/events"
	"github.com/MRamiBalles/mementos/server/internal/infra/storage"
	"github.com/MRamiBalles/mementos/server/internal/network"
	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
	"github.com/MRamiBalles/mementos/server/internal/platform/metrics"
)

func TestPlayerNextCommand(t *testing.T) {
	tests := []struct {
		name  string
		snap  *engine.Snapshot
		queue []string
		want  string
		id    string
	}{
		{"no snapshot yet", nil, nil, "", ""},
		{"start first", &engine.Snapshot{State: engine.StateNotStarted}, []string{"1"}, network.CommandStart, ""},
		{"queue before reading", &engine.Snapshot{State: engine.StateRunning,
			Emails: []engine.DeliveredEmail{{ScheduledEmail: timeline.ScheduledEmail{ID: "m1"}}}}, []string{"4"},
			network.CommandEnqueueDownload, "4"},
		{"read unread email", &engine.Snapshot{State: engine.StateRunning,
			Emails: []engine.DeliveredEmail{
				{ScheduledEmail: timeline.ScheduledEmail{ID: "m1"}, Read: true},
				{ScheduledEmail: timeline.ScheduledEmail{ID: "m2"}},
			}}, nil, network.CommandMarkRead, "m2"},
		{"dismiss message", &engine.Snapshot{State: engine.StateRunning,
			Messages: []engine.SystemMessage{{ID: "s1"}}}, nil, network.CommandDismissMessage, "s1"},
		{"ack notification", &engine.Snapshot{State: engine.StateRunning,
			Notifications: []engine.Notification{{ID: "n1"}}}, nil, network.CommandAckNotification, "n1"},
		{"nothing to do", &engine.Snapshot{State: engine.StateRunning}, nil, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &player{latest: tt.snap, queue: tt.queue}
			cmd, ok := p.next()
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, cmd.Type)
			if tt.id != "" {
				var payload map[string]string
				require.NoError(t, json.Unmarshal(cmd.Payload, &payload))
				assert.Equal(t, tt.id, payload["id"])
			}
		})
	}
}

func TestAutoplayAgainstServer(t *testing.T) {
	tl, err := timeline.Default()
	require.NoError(t, err)
	cat, err := library.Default()
	require.NoError(t, err)
	session, err := engine.NewSession(tl, engine.WithTimeScale(300))
	require.NoError(t, err)

	e := engine.NewEngine(session, cat, events.NewEventLog(nil), logger.NewNop())
	e.SetMetrics(metrics.New())
	hub := network.NewHub(e, logger.NewNop(), network.HubConfig{SendBuffer: 256, Metrics: metrics.New()})
	e.SetBroadcaster(hub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go hub.Run(ctx)

	custom := storage.NewCustomization(storage.NewMemoryCustomizationStore(), logger.NewNop())
	srv := httptest.NewServer(network.NewAPI(e, custom, nil, hub, metrics.New(), logger.NewNop()).Routes())
	defer srv.Close()

	// Drive the clock by hand once the player has started the session.
	go func() {
		for ctx.Err() == nil {
			report, ok := e.Step()
			if ok && report.Ended {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	stats := Run(ctx, Config{
		ServerURL:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		NumClients:     1,
		ActionInterval: 60 * time.Millisecond,
		Queue:          []string{"3"},
	})

	require.NotNil(t, stats.LastSnapshot)
	assert.Equal(t, engine.StateEnded, stats.LastSnapshot.State)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, int64(1), stats.Commands[network.CommandStart])
	assert.Equal(t, int64(1), stats.Commands[network.CommandEnqueueDownload])

	downloads := e.Session().Downloads()
	require.Len(t, downloads, 1)
	assert.True(t, downloads[0].Complete)

	var buf bytes.Buffer
	require.NoError(t, printResults(&buf, stats, Config{NumClients: 1}, time.Second, false))
	assert.Contains(t, buf.String(), "Last state: ENDED")
}
