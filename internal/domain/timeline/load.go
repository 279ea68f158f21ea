package timeline

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure of a timeline document.
var ErrInvalid = errors.New("invalid timeline")

// DeliveryTolerance is how close (in hours) the sampled hour-in-day must be
// to an email's delivery offset for it to be due. 0.1h = 6 minutes.
const DeliveryTolerance = 0.1

//go:embed narrative.yaml
var defaultNarrative []byte

// Default returns the shipped Vault Digital narrative.
func Default() (*Timeline, error) {
	return Parse(defaultNarrative)
}

// LoadFile reads a timeline document from disk. An empty path selects the
// embedded narrative.
func LoadFile(path string) (*Timeline, error) {
	if path == "" {
		return Default()
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	return Parse(content)
}

// Parse decodes and validates a timeline document. Nothing is returned
// unless the whole document is valid.
func Parse(content []byte) (*Timeline, error) {
	var t Timeline
	if err := yaml.Unmarshal(content, &t); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalid, err)
	}
	if t.HoursPerDay == 0 {
		t.HoursPerDay = 24
	}
	if t.TotalDays == 0 {
		t.TotalDays = len(t.Days)
	}
	if t.TriggerHours == 0 {
		t.TriggerHours = float64(t.TotalDays) * t.HoursPerDay
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate reports every structural problem of the timeline at once.
func (t *Timeline) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if t.TotalDays <= 0 {
		fail("total_days must be positive, got %d", t.TotalDays)
	}
	if t.HoursPerDay <= 0 {
		fail("hours_per_day must be positive, got %v", t.HoursPerDay)
	}
	if t.TriggerHours <= 0 {
		fail("trigger_hours must be positive, got %v", t.TriggerHours)
	}
	if len(t.Days) != t.TotalDays {
		fail("expected %d days, got %d", t.TotalDays, len(t.Days))
	}

	seenEmails := make(map[string]int)
	for i, d := range t.Days {
		want := i + 1
		if d.Number != want {
			fail("day %d is missing (found day %d at position %d)", want, d.Number, want)
		}
		speed := d.DownloadSpeed
		if speed.Base <= 0 {
			fail("day %d: base download speed must be positive, got %v", d.Number, speed.Base)
		}
		if speed.Fluctuation < 0 || speed.Fluctuation > 1 {
			fail("day %d: fluctuation must be in [0,1], got %v", d.Number, speed.Fluctuation)
		}
		for j, in := range speed.Interruptions {
			if in.StartHour < 0 || in.StartHour >= t.HoursPerDay {
				fail("day %d interruption %d: start_hour %v outside [0,%v)", d.Number, j, in.StartHour, t.HoursPerDay)
			}
			if in.DurationHours <= 0 {
				fail("day %d interruption %d: duration_hours must be positive, got %v", d.Number, j, in.DurationHours)
			}
			if in.EndHour() > t.HoursPerDay {
				fail("day %d interruption %d: window %v+%v exceeds %v hours", d.Number, j, in.StartHour, in.DurationHours, t.HoursPerDay)
			}
			if in.SpeedReduction < 0 || in.SpeedReduction > 1 {
				fail("day %d interruption %d: speed_reduction must be in [0,1], got %v", d.Number, j, in.SpeedReduction)
			}
			if in.Reason == "" {
				fail("day %d interruption %d: reason is required", d.Number, j)
			}
		}
		for _, e := range d.Emails {
			if e.ID == "" {
				fail("day %d: email without id", d.Number)
				continue
			}
			if prev, dup := seenEmails[e.ID]; dup {
				fail("duplicate email id %q (days %d and %d)", e.ID, prev, d.Number)
			}
			seenEmails[e.ID] = d.Number
			if e.DeliveryHours < 0 || e.DeliveryHours >= t.HoursPerDay {
				fail("email %q: delivery_hours %v outside [0,%v)", e.ID, e.DeliveryHours, t.HoursPerDay)
			}
		}
	}

	return errors.Join(errs...)
}

// CheckTimeScale verifies that one tick at the given scale (simulated
// seconds per real second) stays inside the email delivery tolerance.
// A coarser tick can step over an email window and skip it entirely.
func CheckTimeScale(timeScale float64) error {
	if math.IsNaN(timeScale) || math.IsInf(timeScale, 0) {
		return fmt.Errorf("%w: time scale must be finite, got %v", ErrInvalid, timeScale)
	}
	if timeScale <= 0 {
		return fmt.Errorf("%w: time scale must be positive, got %v", ErrInvalid, timeScale)
	}
	step := timeScale / 3600
	if step >= DeliveryTolerance {
		return fmt.Errorf("%w: time scale %v advances %.3fh per tick, must stay below the %.1fh delivery tolerance",
			ErrInvalid, timeScale, step, DeliveryTolerance)
	}
	return nil
}
