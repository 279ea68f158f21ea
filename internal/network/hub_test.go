package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/mementos/server/internal/engine"
	"github.com/MRamiBalles/mementos/server/internal/infra/storage"
	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
	"github.com/MRamiBalles/mementos/server/internal/platform/metrics"
)

type wsFixture struct {
	engine *engine.Engine
	hub    *Hub
	srv    *httptest.Server
	url    string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	e := newTestEngine(t)
	hub := NewHub(e, logger.NewNop(), HubConfig{Metrics: metrics.New()})
	e.SetBroadcaster(hub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	custom := storage.NewCustomization(storage.NewMemoryCustomizationStore(), logger.NewNop())
	srv := httptest.NewServer(NewAPI(e, custom, nil, hub, metrics.New(), logger.NewNop()).Routes())
	t.Cleanup(srv.Close)

	return &wsFixture{
		engine: e,
		hub:    hub,
		srv:    srv,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) engine.Snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type    string          `json:"type"`
		Payload engine.Snapshot `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, MessageTypeSnapshot, env.Type)
	return env.Payload
}

func TestSnapshotOnConnect(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	snap := readSnapshot(t, conn)
	assert.Equal(t, engine.StateNotStarted, snap.State)
	assert.Equal(t, f.engine.SessionID(), snap.SessionID)

	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestCommandsOverWebSocket(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	readSnapshot(t, conn)

	require.NoError(t, conn.WriteJSON(ClientCommand{Type: CommandStart}))
	snap := readSnapshot(t, conn)
	assert.Equal(t, engine.StateRunning, snap.State)
	require.Len(t, snap.Emails, 1)

	time.Sleep(2 * minCommandInterval)
	payload, err := json.Marshal(idPayload{ID: snap.Emails[0].ID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ClientCommand{Type: CommandMarkRead, Payload: payload}))
	snap = readSnapshot(t, conn)
	assert.Zero(t, snap.UnreadCount)

	time.Sleep(2 * minCommandInterval)
	payload, err = json.Marshal(idPayload{ID: "4"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ClientCommand{Type: CommandEnqueueDownload, Payload: payload}))
	snap = readSnapshot(t, conn)
	require.Len(t, snap.Downloads, 1)
	assert.Equal(t, "4", snap.Downloads[0].ItemID)
}

func TestTicksAreBroadcast(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	readSnapshot(t, conn)
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.True(t, f.engine.Start())
	readSnapshot(t, conn)

	_, ok := f.engine.Step()
	require.True(t, ok)
	snap := readSnapshot(t, conn)
	assert.InDelta(t, 300.0/3600, snap.ElapsedHours, 1e-9)
}

func TestForeignOriginRejected(t *testing.T) {
	f := newWSFixture(t)
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173"})

	req := httptest.NewRequest(http.MethodGet, "http://game.local/ws", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://game.local")
	assert.True(t, check(req), "same origin")

	req.Header.Set("Origin", "http://other.local")
	assert.False(t, check(req))
}
