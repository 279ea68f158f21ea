package timeline

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNarrativeLoads(t *testing.T) {
	tl, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 3, tl.TotalDays)
	assert.Equal(t, 24.0, tl.HoursPerDay)
	assert.Equal(t, 72.0, tl.EndHours())
	assert.Equal(t, 9, tl.EmailCount())

	day2, ok := tl.Day(2)
	require.True(t, ok)
	assert.Equal(t, 60.0, day2.DownloadSpeed.Base)
	require.Len(t, day2.DownloadSpeed.Interruptions, 1)
	in := day2.DownloadSpeed.Interruptions[0]
	assert.Equal(t, 12.0, in.StartHour)
	assert.Equal(t, 2.0, in.DurationHours)
	assert.Equal(t, 0.4, in.SpeedReduction)
	assert.False(t, in.Cancellable)

	email, ok := tl.Email("day1_shutdown_notice")
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, email.Priority)
	assert.Contains(t, email.Body, "Vault Digital Service Team")

	assert.Equal(t, "Vault Digital has shut down.", tl.Epilogue.Title)
}

func TestDayAt(t *testing.T) {
	tl, err := Default()
	require.NoError(t, err)

	tests := []struct {
		elapsed float64
		day     int
		clamped int
	}{
		{0, 1, 1},
		{23.99, 1, 1},
		{24, 2, 2},
		{47.5, 2, 2},
		{48, 3, 3},
		{72, 4, 3},
	}
	for _, tt := range tests {
		if got := tl.DayAt(tt.elapsed); got != tt.day {
			t.Errorf("DayAt(%v) = %d, want %d", tt.elapsed, got, tt.day)
		}
		if got := tl.ClampedDayAt(tt.elapsed); got != tt.clamped {
			t.Errorf("ClampedDayAt(%v) = %d, want %d", tt.elapsed, got, tt.clamped)
		}
	}
}

func TestEndHoursPrefersEarlierTrigger(t *testing.T) {
	tl := &Timeline{TotalDays: 3, HoursPerDay: 24, TriggerHours: 60}
	assert.Equal(t, 60.0, tl.EndHours())

	tl.TriggerHours = 100
	assert.Equal(t, 72.0, tl.EndHours())
}

const validDoc = `
total_days: 2
days:
  - day: 1
    download_speed: {base: 10, fluctuation: 0}
    emails:
      - {id: a, delivery_hours: 0}
  - day: 2
    download_speed:
      base: 5
      fluctuation: 0.5
      interruptions:
        - {start_hour: 20, duration_hours: 4, speed_reduction: 0.5, reason: storm}
    emails:
      - {id: b, delivery_hours: 3}
`

func TestParseFillsDefaults(t *testing.T) {
	tl, err := Parse([]byte(validDoc))
	require.NoError(t, err)
	assert.Equal(t, 24.0, tl.HoursPerDay)
	assert.Equal(t, 48.0, tl.TriggerHours)
	assert.Equal(t, 48.0, tl.EndHours())
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing day",
			doc: `
total_days: 2
days:
  - day: 1
    download_speed: {base: 10}
`,
			want: "expected 2 days",
		},
		{
			name: "day out of order",
			doc: `
total_days: 2
days:
  - day: 1
    download_speed: {base: 10}
  - day: 3
    download_speed: {base: 10}
`,
			want: "day 2 is missing",
		},
		{
			name: "interruption past midnight",
			doc: `
total_days: 1
days:
  - day: 1
    download_speed:
      base: 10
      interruptions:
        - {start_hour: 23, duration_hours: 2, speed_reduction: 0.1, reason: late}
`,
			want: "exceeds 24 hours",
		},
		{
			name: "duplicate email id",
			doc: `
total_days: 2
days:
  - day: 1
    download_speed: {base: 10}
    emails: [{id: same, delivery_hours: 1}]
  - day: 2
    download_speed: {base: 10}
    emails: [{id: same, delivery_hours: 2}]
`,
			want: `duplicate email id "same"`,
		},
		{
			name: "fluctuation out of range",
			doc: `
total_days: 1
days:
  - day: 1
    download_speed: {base: 10, fluctuation: 1.5}
`,
			want: "fluctuation must be in [0,1]",
		},
		{
			name: "non positive speed",
			doc: `
total_days: 1
days:
  - day: 1
    download_speed: {base: 0}
`,
			want: "base download speed must be positive",
		},
		{
			name: "delivery outside day",
			doc: `
total_days: 1
days:
  - day: 1
    download_speed: {base: 1}
    emails: [{id: x, delivery_hours: 24}]
`,
			want: "outside [0,24)",
		},
		{
			name: "malformed yaml",
			doc:  "days: [",
			want: "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Nil(t, tl)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	tl := &Timeline{
		TotalDays:    1,
		HoursPerDay:  24,
		TriggerHours: 24,
		Days: []Day{{
			Number:        1,
			DownloadSpeed: DownloadSpeed{Base: -1, Fluctuation: 2},
		}},
	}
	err := tl.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base download speed")
	assert.Contains(t, err.Error(), "fluctuation")
}

func TestCheckTimeScale(t *testing.T) {
	assert.NoError(t, CheckTimeScale(60))
	assert.NoError(t, CheckTimeScale(359))
	assert.ErrorIs(t, CheckTimeScale(360), ErrInvalid)
	assert.ErrorIs(t, CheckTimeScale(0), ErrInvalid)
	assert.ErrorIs(t, CheckTimeScale(-5), ErrInvalid)
	assert.ErrorIs(t, CheckTimeScale(math.NaN()), ErrInvalid)
	assert.ErrorIs(t, CheckTimeScale(math.Inf(1)), ErrInvalid)
	assert.ErrorIs(t, CheckTimeScale(math.Inf(-1)), ErrInvalid)
}

func TestInterruptionCovers(t *testing.T) {
	in := Interruption{StartHour: 12, DurationHours: 2}
	assert.False(t, in.Covers(11.99))
	assert.True(t, in.Covers(12))
	assert.True(t, in.Covers(13.99))
	assert.False(t, in.Covers(14))
}
