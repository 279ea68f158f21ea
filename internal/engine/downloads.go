package engine

import (
	"math"

	"github.com/MRamiBalles/mementos/server/internal/domain/rules"
)

// DownloadItem is one entry of the download queue.
type DownloadItem struct {
	ItemID   string  `json:"item_id"`
	SizeGB   float64 `json:"size_gb"`
	Progress float64 `json:"progress"` // percent, never decreases
	Paused   bool    `json:"paused"`
	Complete bool    `json:"complete"`
}

// downloadQueue is guarded by the owning Session's mutex.
type downloadQueue struct {
	items []DownloadItem
	index map[string]int
}

func newDownloadQueue() *downloadQueue {
	return &downloadQueue{index: make(map[string]int)}
}

// add queues an item unless it is already present.
func (q *downloadQueue) add(itemID string, sizeGB float64) (DownloadItem, bool) {
	if i, ok := q.index[itemID]; ok {
		return q.items[i], false
	}
	it := DownloadItem{ItemID: itemID, SizeGB: sizeGB}
	q.index[itemID] = len(q.items)
	q.items = append(q.items, it)
	return it, true
}

func (q *downloadQueue) setPaused(itemID string, paused bool) bool {
	i, ok := q.index[itemID]
	if !ok {
		return false
	}
	it := &q.items[i]
	if it.Complete || it.Paused == paused {
		return false
	}
	it.Paused = paused
	return true
}

// advance applies one tick at speed GB/hour and returns the items that
// finished during this tick.
func (q *downloadQueue) advance(speed float64) []DownloadItem {
	var done []DownloadItem
	for i := range q.items {
		it := &q.items[i]
		if it.Paused || it.Complete {
			continue
		}
		it.Progress = math.Min(100, it.Progress+rules.ProgressIncrement(speed, it.SizeGB))
		if it.Progress >= 100 {
			it.Complete = true
			done = append(done, *it)
		}
	}
	return done
}

func (q *downloadQueue) list() []DownloadItem {
	out := make([]DownloadItem, len(q.items))
	copy(out, q.items)
	return out
}
