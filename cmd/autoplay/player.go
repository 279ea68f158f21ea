package main

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/mementos/server/internal/engine"
	"github.com/MRamiBalles/mementos/server/internal/network"
)

// Config for one autoplay run.
type Config struct {
	ServerURL      string
	NumClients     int
	ActionInterval time.Duration
	Duration       time.Duration
	Queue          []string
}

// Stats tracks what the players saw and did.
type Stats struct {
	MessagesSent     int64
	MessagesReceived int64
	Errors           int64
	Commands         map[string]int64
	LastSnapshot     *engine.Snapshot
	mu               sync.Mutex
}

func newStats() *Stats {
	return &Stats{Commands: make(map[string]int64)}
}

func (s *Stats) recordCommand(t string) {
	atomic.AddInt64(&s.MessagesSent, 1)
	s.mu.Lock()
	s.Commands[t]++
	s.mu.Unlock()
}

func (s *Stats) recordSnapshot(snap engine.Snapshot) {
	atomic.AddInt64(&s.MessagesReceived, 1)
	s.mu.Lock()
	if s.LastSnapshot == nil || snap.ElapsedHours >= s.LastSnapshot.ElapsedHours {
		s.LastSnapshot = &snap
	}
	s.mu.Unlock()
}

// player is one desktop client: it reads snapshots and answers them with
// the next sensible command.
type player struct {
	id    int
	conn  *websocket.Conn
	stats *Stats
	queue []string

	mu     sync.Mutex
	latest *engine.Snapshot
}

// Run connects every player and returns when the platform shuts down or
// ctx expires.
func Run(ctx context.Context, cfg Config) *Stats {
	stats := newStats()
	var wg sync.WaitGroup
	for i := 0; i < cfg.NumClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runPlayer(ctx, id, cfg, stats)
		}(i)

		// Stagger client starts to avoid thundering herd
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()
	return stats
}

func runPlayer(ctx context.Context, id int, cfg Config, stats *Stats) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.ServerURL, nil)
	if err != nil {
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()

	p := &player{id: id, conn: conn, stats: stats}
	// Only the first player works through the queue.
	if id == 0 {
		p.queue = append(p.queue, cfg.Queue...)
	}

	ended := make(chan struct{})
	go p.read(ended)

	ticker := time.NewTicker(cfg.ActionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ended:
			return
		case <-ticker.C:
			cmd, ok := p.next()
			if !ok {
				continue
			}
			if err := conn.WriteJSON(cmd); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}
			stats.recordCommand(cmd.Type)
		}
	}
}

func (p *player) read(ended chan<- struct{}) {
	defer close(ended)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var env struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &env); err != nil || env.Type != network.MessageTypeSnapshot {
			atomic.AddInt64(&p.stats.Errors, 1)
			continue
		}
		var snap engine.Snapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			atomic.AddInt64(&p.stats.Errors, 1)
			continue
		}
		p.stats.recordSnapshot(snap)

		p.mu.Lock()
		p.latest = &snap
		p.mu.Unlock()

		if snap.State == engine.StateEnded {
			return
		}
	}
}

// next picks one command from the latest snapshot: start the session,
// queue downloads, then clear the inbox, messages and notifications.
func (p *player) next() (network.ClientCommand, bool) {
	p.mu.Lock()
	snap := p.latest
	p.mu.Unlock()
	if snap == nil {
		return network.ClientCommand{}, false
	}

	switch {
	case snap.State == engine.StateNotStarted:
		return network.ClientCommand{Type: network.CommandStart}, true
	case len(p.queue) > 0:
		id := p.queue[0]
		p.queue = p.queue[1:]
		return withID(network.CommandEnqueueDownload, id), true
	}
	for _, e := range snap.Emails {
		if !e.Read {
			return withID(network.CommandMarkRead, e.ID), true
		}
	}
	if len(snap.Messages) > 0 {
		return withID(network.CommandDismissMessage, snap.Messages[0].ID), true
	}
	if len(snap.Notifications) > 0 {
		return withID(network.CommandAckNotification, snap.Notifications[0].ID), true
	}
	return network.ClientCommand{}, false
}

func withID(cmdType, id string) network.ClientCommand {
	payload, _ := json.Marshal(map[string]string{"id": id})
	return network.ClientCommand{Type: cmdType, Payload: payload}
}
