// Package engine contains the game clock and the loop that drives it.
// This is the heartbeat of the countdown.
//
// ARCHITECTURAL RULE: only the Session mutates game state. The Engine turns
// what a tick changed into events and snapshots; it never edits state itself.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
)

// TickRate defines how often the clock advances in real time.
const TickRate = 1 * time.Second

// Ticker manages the game loop heartbeat.
// It does NOT know about emails or downloads - only when to tick.
type Ticker struct {
	interval time.Duration
	onTick   func()
	logger   *logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTicker creates a ticker calling onTick every interval.
func NewTicker(interval time.Duration, onTick func(), log *logger.Logger) *Ticker {
	if interval <= 0 {
		interval = TickRate
	}
	return &Ticker{
		interval: interval,
		onTick:   onTick,
		logger:   log,
		stopChan: make(chan struct{}),
	}
}

// Start begins the game loop and blocks until stopped. Call in a goroutine.
// Ticks missed while onTick runs are dropped, never replayed.
func (t *Ticker) Start(ctx context.Context) {
	t.logger.Info("engine ticker started", "interval", t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("engine ticker stopped by context")
			return
		case <-t.stopChan:
			t.logger.Info("engine ticker stopped")
			return
		case <-ticker.C:
			t.onTick()
		}
	}
}

// Stop gracefully stops the ticker. Safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}
