// Package rules contains the pure calculation logic for the countdown:
// which scripted emails are due, which bandwidth interruption is active and
// how fast downloads currently run.
// This package is PURE and must NOT import any infrastructure packages.
package rules

import (
	"math"

	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
)

// Source yields uniformly distributed values in [0,1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Resolution is what the timeline says about a single instant.
type Resolution struct {
	Ended              bool
	Day                int
	HourInDay          float64
	DueEmails          []timeline.ScheduledEmail
	ActiveInterruption *timeline.Interruption
}

// Resolve samples the timeline at elapsedHours. Emails are returned whenever
// they fall inside the delivery tolerance; de-duplication against what was
// already delivered is the caller's job.
func Resolve(tl *timeline.Timeline, elapsedHours float64) Resolution {
	day := tl.DayAt(elapsedHours)
	if day > tl.TotalDays {
		return Resolution{Ended: true, Day: tl.TotalDays}
	}

	cfg, ok := tl.Day(day)
	if !ok {
		return Resolution{Ended: true, Day: tl.TotalDays}
	}

	res := Resolution{
		Day:       day,
		HourInDay: HourInDay(tl, elapsedHours),
	}

	for _, email := range cfg.Emails {
		if math.Abs(res.HourInDay-email.DeliveryHours) < timeline.DeliveryTolerance {
			res.DueEmails = append(res.DueEmails, email)
		}
	}

	res.ActiveInterruption = ActiveInterruption(cfg, res.HourInDay)
	return res
}

// HourInDay is elapsedHours modulo the day length.
func HourInDay(tl *timeline.Timeline, elapsedHours float64) float64 {
	return math.Mod(elapsedHours, tl.HoursPerDay)
}

// ActiveInterruption returns the first interruption covering hourInDay.
// Overlapping windows are never stacked: first match wins.
func ActiveInterruption(day timeline.Day, hourInDay float64) *timeline.Interruption {
	for i := range day.DownloadSpeed.Interruptions {
		in := day.DownloadSpeed.Interruptions[i]
		if in.Covers(hourInDay) {
			return &in
		}
	}
	return nil
}

// DownloadSpeed computes the instantaneous speed in GB/hour, rounded to one
// decimal. Fluctuation is drawn fresh on every call and never smoothed.
func DownloadSpeed(tl *timeline.Timeline, elapsedHours float64, src Source) float64 {
	day := tl.DayAt(elapsedHours)
	cfg, ok := tl.Day(day)
	if !ok {
		return 0
	}
	return SpeedFor(cfg, HourInDay(tl, elapsedHours), src)
}

// SpeedFor applies fluctuation and the active interruption for one day.
func SpeedFor(day timeline.Day, hourInDay float64, src Source) float64 {
	speed := day.DownloadSpeed.Base
	speed *= 1 + (src.Float64()-0.5)*2*day.DownloadSpeed.Fluctuation

	if in := ActiveInterruption(day, hourInDay); in != nil {
		speed *= 1 - in.SpeedReduction
	}
	return RoundTenth(speed)
}

// RoundTenth rounds to one decimal place, half away from zero.
func RoundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// Remaining is the countdown shown on the desktop clock.
type Remaining struct {
	Hours      int     `json:"hours"`
	Minutes    int     `json:"minutes"`
	TotalHours float64 `json:"total_hours"`
}

// TimeRemaining returns the time left until the shutdown bound.
func TimeRemaining(tl *timeline.Timeline, elapsedHours float64) Remaining {
	left := tl.EndHours() - elapsedHours
	if left < 0 {
		left = 0
	}
	whole, frac := math.Modf(left)
	return Remaining{
		Hours:      int(whole),
		Minutes:    int(math.Floor(frac * 60)),
		TotalHours: left,
	}
}

// ProgressIncrement is how many percentage points an item of sizeGB gains
// during one real second at speed GB/hour.
func ProgressIncrement(speed, sizeGB float64) float64 {
	if sizeGB <= 0 {
		return 0
	}
	return speed / sizeGB / 3600 * 100
}
