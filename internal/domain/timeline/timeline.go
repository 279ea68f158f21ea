// Package timeline defines the authored 3-day narrative: per-day download
// bandwidth, scheduled interruptions and scripted email deliveries.
// This package is PURE and must NOT import any infrastructure packages.
package timeline

import "math"

// Interruption is a scheduled window of reduced download throughput.
type Interruption struct {
	StartHour      float64 `json:"start_hour" yaml:"start_hour"`
	DurationHours  float64 `json:"duration_hours" yaml:"duration_hours"`
	SpeedReduction float64 `json:"speed_reduction" yaml:"speed_reduction"` // 0.4 = 40% slower
	Reason         string  `json:"reason" yaml:"reason"`
	Cancellable    bool    `json:"cancellable" yaml:"cancellable"` // never true in the shipped narrative
}

// EndHour returns the first hour-in-day that is no longer covered.
func (i Interruption) EndHour() float64 {
	return i.StartHour + i.DurationHours
}

// Covers reports whether hourInDay falls inside [start, start+duration).
func (i Interruption) Covers(hourInDay float64) bool {
	return hourInDay >= i.StartHour && hourInDay < i.EndHour()
}

// Priority of a scripted email, as shown in the inbox.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ScheduledEmail is a scripted email delivered at an offset within its day.
type ScheduledEmail struct {
	ID            string   `json:"id" yaml:"id"`
	DeliveryHours float64  `json:"delivery_hours" yaml:"delivery_hours"`
	Folder        string   `json:"folder" yaml:"folder"`
	Subject       string   `json:"subject" yaml:"subject"`
	Sender        string   `json:"sender" yaml:"sender"`
	Priority      Priority `json:"priority" yaml:"priority"`
	Body          string   `json:"body" yaml:"body"`
}

// DownloadSpeed is the bandwidth profile of a single day.
type DownloadSpeed struct {
	Base          float64        `json:"base" yaml:"base"`               // GB/hour
	Fluctuation   float64        `json:"fluctuation" yaml:"fluctuation"` // 0.1 = ±10%
	Interruptions []Interruption `json:"interruptions" yaml:"interruptions"`
}

// Day is one authored day of the countdown.
type Day struct {
	Number        int              `json:"day" yaml:"day"`
	Title         string           `json:"title" yaml:"title"`
	Description   string           `json:"description" yaml:"description"`
	DownloadSpeed DownloadSpeed    `json:"download_speed" yaml:"download_speed"`
	Emails        []ScheduledEmail `json:"emails" yaml:"emails"`
}

// Epilogue is shown once the platform has shut down.
type Epilogue struct {
	Title          string `json:"title" yaml:"title"`
	Message        string `json:"message" yaml:"message"`
	CreditsDelayMS int    `json:"credits_delay_ms" yaml:"credits_delay_ms"`
}

// Timeline is the full narrative. It is immutable once loaded; callers
// receive it by pointer but must never modify it.
type Timeline struct {
	TotalDays    int      `json:"total_days" yaml:"total_days"`
	HoursPerDay  float64  `json:"hours_per_day" yaml:"hours_per_day"`
	TriggerHours float64  `json:"trigger_hours" yaml:"trigger_hours"`
	Days         []Day    `json:"days" yaml:"days"`
	Epilogue     Epilogue `json:"epilogue" yaml:"epilogue"`
}

// Day returns the configuration for a 1-based day number.
func (t *Timeline) Day(n int) (Day, bool) {
	if n < 1 || n > len(t.Days) {
		return Day{}, false
	}
	return t.Days[n-1], true
}

// EndHours is the elapsed time at which the game ends. The explicit
// trigger wins over the day-based bound when it is earlier.
func (t *Timeline) EndHours() float64 {
	dayBound := float64(t.TotalDays) * t.HoursPerDay
	if t.TriggerHours > 0 && t.TriggerHours < dayBound {
		return t.TriggerHours
	}
	return dayBound
}

// DayAt maps elapsed hours to the 1-based day number, unclamped.
func (t *Timeline) DayAt(elapsedHours float64) int {
	return int(math.Floor(elapsedHours/t.HoursPerDay)) + 1
}

// ClampedDayAt is DayAt limited to [1, TotalDays].
func (t *Timeline) ClampedDayAt(elapsedHours float64) int {
	day := t.DayAt(elapsedHours)
	if day < 1 {
		return 1
	}
	if day > t.TotalDays {
		return t.TotalDays
	}
	return day
}

// Email looks up a scheduled email by id across all days.
func (t *Timeline) Email(id string) (ScheduledEmail, bool) {
	for _, d := range t.Days {
		for _, e := range d.Emails {
			if e.ID == id {
				return e, true
			}
		}
	}
	return ScheduledEmail{}, false
}

// EmailCount returns the number of scheduled emails across all days.
func (t *Timeline) EmailCount() int {
	n := 0
	for _, d := range t.Days {
		n += len(d.Emails)
	}
	return n
}
