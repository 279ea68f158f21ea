package engine

import (
	"github.com/MRamiBalles/mementos/server/internal/domain/library"
	"github.com/MRamiBalles/mementos/server/internal/domain/rules"
	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
)

// Snapshot is the full desktop view of a session at one instant.
type Snapshot struct {
	SessionID          string                 `json:"session_id"`
	State              State                  `json:"state"`
	ElapsedHours       float64                `json:"elapsed_hours"`
	HourInDay          float64                `json:"hour_in_day"`
	Day                int                    `json:"day"`
	DayTitle           string                 `json:"day_title"`
	TimeScale          float64                `json:"time_scale"`
	TimeRemaining      rules.Remaining        `json:"time_remaining"`
	DownloadSpeed      float64                `json:"download_speed"`
	ActiveInterruption *timeline.Interruption `json:"active_interruption,omitempty"`
	UnreadCount        int                    `json:"unread_count"`
	Emails             []DeliveredEmail       `json:"emails"`
	Messages           []SystemMessage        `json:"messages"`
	Notifications      []Notification         `json:"notifications"`
	Downloads          []DownloadItem         `json:"downloads"`
}

// Snapshot copies every query result under a single lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	hours := s.elapsedHours()
	snap := Snapshot{
		SessionID:     s.id,
		State:         s.state,
		ElapsedHours:  hours,
		HourInDay:     rules.HourInDay(s.timeline, hours),
		Day:           s.day,
		TimeScale:     s.timeScale,
		TimeRemaining: rules.TimeRemaining(s.timeline, hours),
		DownloadSpeed: s.speed,
		UnreadCount:   s.unreadCount(),
		Emails:        make([]DeliveredEmail, len(s.delivered)),
		Messages:      make([]SystemMessage, len(s.messages)),
		Notifications: s.outbox.list(),
		Downloads:     s.downloads.list(),
	}
	copy(snap.Emails, s.delivered)
	copy(snap.Messages, s.messages)

	if cfg, ok := s.timeline.Day(s.day); ok {
		snap.DayTitle = cfg.Title
		if s.state == StateRunning || s.state == StatePaused {
			snap.ActiveInterruption = rules.ActiveInterruption(cfg, snap.HourInDay)
		}
	}
	return snap
}

// Stats is the end screen summary of what was saved.
type Stats struct {
	TotalLibrarySizeGB float64 `json:"total_library_size"`
	TotalDownloadedGB  float64 `json:"total_downloaded"`
	PercentageSaved    float64 `json:"percentage_saved"`
	ItemsInLibrary     int     `json:"items_in_library"`
	ItemsSaved         int     `json:"items_saved"`
	ItemsLost          int     `json:"items_lost"`
}

// Stats measures the download queue against the catalogue. Partially
// downloaded items count toward the downloaded volume but not as saved.
func (s *Session) Stats(cat *library.Catalogue) Stats {
	return ComputeStats(s.Downloads(), cat)
}

// ComputeStats is the pure form of Session.Stats.
func ComputeStats(items []DownloadItem, cat *library.Catalogue) Stats {
	st := Stats{
		TotalLibrarySizeGB: rules.RoundTenth(cat.TotalSizeGB()),
		ItemsInLibrary:     cat.Len(),
	}
	var downloaded float64
	for _, it := range items {
		if _, ok := cat.ByID(it.ItemID); !ok {
			continue
		}
		downloaded += it.SizeGB * it.Progress / 100
		if it.Complete {
			st.ItemsSaved++
		}
	}
	st.TotalDownloadedGB = rules.RoundTenth(downloaded)
	if total := cat.TotalSizeGB(); total > 0 {
		st.PercentageSaved = rules.RoundTenth(downloaded / total * 100)
	}
	st.ItemsLost = st.ItemsInLibrary - st.ItemsSaved
	return st
}
