// Package network exposes the session to the desktop client over HTTP and
// a WebSocket. It never mutates state itself; every command goes through
// the Game.
package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/mementos/server/internal/domain/library"
	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
	"github.com/MRamiBalles/mementos/server/internal/engine"
	"github.com/MRamiBalles/mementos/server/internal/events"
	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
	"github.com/MRamiBalles/mementos/server/internal/platform/metrics"
)

// Game is the command and query surface of a running session.
// *engine.Engine implements it.
type Game interface {
	Start() bool
	Pause() bool
	Resume() bool
	SetTimeScale(scale float64) error
	MarkEmailRead(id string) bool
	DismissMessage(id string) bool
	AckNotification(id string) bool
	DrainNotifications() []engine.Notification
	EnqueueItem(itemID string) (engine.DownloadItem, bool, error)
	PauseDownload(itemID string) bool
	ResumeDownload(itemID string) bool

	SessionID() string
	Snapshot() engine.Snapshot
	Stats() engine.Stats
	Library() *library.Catalogue
	Epilogue() timeline.Epilogue
	HoursPerDay() float64
	Events() []events.GameEvent
}

// Envelope is every message the server pushes.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// MessageTypeSnapshot carries an engine.Snapshot.
const MessageTypeSnapshot = "SNAPSHOT"

// HubConfig tunes the hub.
type HubConfig struct {
	AllowedOrigins []string // empty means same-origin only
	SendBuffer     int      // per-client queued messages before it is dropped
	Metrics        *metrics.Collector
}

// Hub maintains the set of active clients and broadcasts snapshots to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
	logger     *logger.Logger
	game       Game
	metrics    *metrics.Collector
	upgrader   websocket.Upgrader
	sendBuffer int
	done       chan struct{}
}

// NewHub initializes a new WebSocket Hub.
func NewHub(game Game, log *logger.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Get()
	}
	h := &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     log,
		game:       game,
		metrics:    cfg.Metrics,
		sendBuffer: cfg.SendBuffer,
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// originChecker accepts listed origins, or same-origin when none are listed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RecordWSConnection(1)
			h.logger.Info("websocket client connected", "remote", client.remote)
			if msg, err := encode(MessageTypeSnapshot, h.game.Snapshot()); err == nil {
				client.trySend(msg)
			}
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.RecordWSConnection(-1)
				h.logger.Info("websocket client disconnected", "remote", client.remote)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.trySend(message) {
					// Slow reader: drop it rather than stall every other client.
					close(client.send)
					delete(h.clients, client)
					h.metrics.RecordWSConnection(-1)
					h.metrics.RecordWSDrop()
					h.logger.Warn("dropping slow websocket client", "remote", client.remote)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// BroadcastSnapshot serializes a snapshot and queues it for every client.
// It never blocks: when the hub is behind, the snapshot is dropped and the
// next one supersedes it.
func (h *Hub) BroadcastSnapshot(snap engine.Snapshot) {
	payload, err := encode(MessageTypeSnapshot, snap)
	if err != nil {
		h.logger.Error("failed to serialize snapshot", "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.metrics.RecordWSDrop()
		h.logger.Warn("snapshot broadcast dropped, hub is behind")
	}
}

// ServeWS upgrades the request and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RecordWSError()
		h.logger.Warn("failed to upgrade websocket connection", "error", err)
		return
	}

	client := NewClient(h, conn, r.RemoteAddr)
	client.Register()

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.WritePump()
	go client.ReadPump()
}
