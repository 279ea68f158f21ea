package engine

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/mementos/server/internal/domain/library"
	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
)

// midpoint is a random source without fluctuation.
type midpoint struct{}

func (midpoint) Float64() float64 { return 0.5 }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	tl, err := timeline.Default()
	require.NoError(t, err)
	opts = append([]Option{WithSource(midpoint{}), WithIDGenerator(sequentialIDs())}, opts...)
	s, err := NewSession(tl, opts...)
	require.NoError(t, err)
	return s
}

func tickN(t *testing.T, s *Session, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, ok := s.Tick()
		require.True(t, ok, "tick %d", i)
	}
}

// tickUntil ticks until elapsed time reaches hours.
func tickUntil(t *testing.T, s *Session, hours float64) {
	t.Helper()
	for s.ElapsedHours() < hours {
		_, ok := s.Tick()
		require.True(t, ok)
	}
}

func deliveredIDs(s *Session) []string {
	var ids []string
	for _, d := range s.DeliveredEmails() {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestNewSessionRejectsUnsafeTimeScale(t *testing.T) {
	tl, err := timeline.Default()
	require.NoError(t, err)

	_, err = NewSession(tl, WithTimeScale(360))
	assert.ErrorIs(t, err, timeline.ErrInvalid)

	_, err = NewSession(tl, WithTimeScale(0))
	assert.Error(t, err)

	_, err = NewSession(tl, WithTimeScale(math.NaN()))
	assert.ErrorIs(t, err, timeline.ErrInvalid)

	s, err := NewSession(tl)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeScale, s.TimeScale())
	assert.Equal(t, StateNotStarted, s.State())
	assert.NotEmpty(t, s.ID())
}

func TestStartDeliversOnlyDayOneOpeningEmails(t *testing.T) {
	s := newTestSession(t)

	report, ok := s.Start()
	require.True(t, ok)

	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, []string{"day1_shutdown_notice"}, deliveredIDs(s))
	require.Len(t, report.Delivered, 1)
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, 0.0, s.ElapsedHours())
	assert.Equal(t, 1, s.CurrentDay())
	assert.Equal(t, 75.0, s.CurrentDownloadSpeed())
}

func TestThirtyTicksReachHalfHour(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	tickN(t, s, 30)

	assert.Equal(t, 0.5, s.ElapsedHours())
	assert.Contains(t, deliveredIDs(s), "day1_tos_retrieval")
	assert.NotContains(t, deliveredIDs(s), "day1_alex_panic")
}

func TestEmailDeliveryIsIdempotent(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	// The tolerance window spans several ticks; the email lands once.
	tickUntil(t, s, 0.7)
	count := 0
	for _, id := range deliveredIDs(s) {
		if id == "day1_tos_retrieval" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestFullRunDeliversEveryEmailOnce(t *testing.T) {
	s := newTestSession(t, WithTimeScale(300))
	s.Start()

	lastDay := s.CurrentDay()
	for {
		report, ok := s.Tick()
		require.True(t, ok)
		assert.GreaterOrEqual(t, report.Day, lastDay)
		lastDay = report.Day
		if report.Ended {
			break
		}
	}

	ids := deliveredIDs(s)
	assert.Len(t, ids, s.Timeline().EmailCount())
	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestDayTwoInterruption(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	tickUntil(t, s, 36)
	assert.Equal(t, 2, s.CurrentDay())
	assert.Equal(t, 36.0, s.CurrentDownloadSpeed())
	msgs := s.ActiveSystemMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "brother")

	tickUntil(t, s, 38.5)
	assert.Len(t, s.ActiveSystemMessages(), 1, "one message per window")
	assert.Equal(t, 60.0, s.CurrentDownloadSpeed())

	assert.True(t, s.DismissSystemMessage(msgs[0].ID))
	assert.Empty(t, s.ActiveSystemMessages())
	assert.False(t, s.DismissSystemMessage(msgs[0].ID))
}

func TestTickReportFlagsInterruptionOnce(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	tickN(t, s, 36*60-1)

	report, ok := s.Tick()
	require.True(t, ok)
	require.NotNil(t, report.Interruption)
	require.NotNil(t, report.Message)

	report, _ = s.Tick()
	assert.Nil(t, report.Interruption)
	assert.Nil(t, report.Message)
}

func TestDownloadCompletesOnTick202(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	_, added := s.EnqueueDownload("1", 4.2)
	require.True(t, added)

	tickN(t, s, 201)
	items := s.Downloads()
	require.Len(t, items, 1)
	assert.False(t, items[0].Complete)
	assert.Less(t, items[0].Progress, 100.0)

	report, _ := s.Tick()
	require.Len(t, report.Completed, 1)
	assert.Equal(t, "1", report.Completed[0].ItemID)
	assert.Equal(t, 100.0, s.Downloads()[0].Progress)

	report, _ = s.Tick()
	assert.Empty(t, report.Completed, "completion is reported once")
}

func TestPausedDownloadKeepsProgress(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	s.EnqueueDownload("1", 4.2)

	for s.Downloads()[0].Progress < 50 {
		tickN(t, s, 1)
	}
	require.True(t, s.PauseDownload("1"))
	assert.False(t, s.PauseDownload("1"))
	frozen := s.Downloads()[0].Progress

	tickN(t, s, 10)
	assert.Equal(t, frozen, s.Downloads()[0].Progress)

	require.True(t, s.ResumeDownload("1"))
	tickN(t, s, 1)
	assert.Greater(t, s.Downloads()[0].Progress, frozen)
}

func TestEnqueueIgnoresDuplicatesAndBadInput(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	_, added := s.EnqueueDownload("2", 0.12)
	require.True(t, added)
	_, added = s.EnqueueDownload("2", 0.12)
	assert.False(t, added)
	_, added = s.EnqueueDownload("x", 0)
	assert.False(t, added)
	assert.Len(t, s.Downloads(), 1)

	assert.False(t, s.PauseDownload("missing"))
}

func TestSessionEndsExactlyAtBound(t *testing.T) {
	s := newTestSession(t, WithTimeScale(300))
	s.Start()
	s.EnqueueDownload("4", 8.5)

	var final TickReport
	for {
		report, ok := s.Tick()
		require.True(t, ok)
		if report.Ended {
			final = report
			break
		}
	}

	assert.Equal(t, 72.0, final.ElapsedHours)
	assert.Equal(t, 72.0, s.ElapsedHours())
	assert.True(t, s.IsEnded())
	assert.Equal(t, 3, s.CurrentDay())
	assert.Equal(t, 0.0, s.CurrentDownloadSpeed())

	before := s.Snapshot()
	_, ok := s.Tick()
	assert.False(t, ok)
	after := s.Snapshot()
	assert.Equal(t, before.ElapsedHours, after.ElapsedHours)
	assert.Equal(t, before.Downloads, after.Downloads)

	_, added := s.EnqueueDownload("1", 4.2)
	assert.False(t, added)
	assert.False(t, s.Pause())
	assert.False(t, s.Resume())

	var kinds []NotificationKind
	for _, n := range s.PendingNotifications() {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []NotificationKind{
		NotificationDayTransition,
		NotificationDayTransition,
		NotificationGameEnded,
	}, kinds)
}

func TestInvalidTransitionsAreNoOps(t *testing.T) {
	s := newTestSession(t)

	assert.False(t, s.Pause())
	assert.False(t, s.Resume())
	_, ok := s.Tick()
	assert.False(t, ok)
	assert.Equal(t, StateNotStarted, s.State())

	_, ok = s.Start()
	require.True(t, ok)
	_, ok = s.Start()
	assert.False(t, ok)
	assert.False(t, s.Resume())

	require.True(t, s.Pause())
	assert.True(t, s.IsPaused())
	assert.False(t, s.Pause())
}

func TestPauseFreezesClockWithoutCatchUp(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	tickN(t, s, 10)
	require.True(t, s.Pause())

	_, ok := s.Tick()
	assert.False(t, ok)
	assert.Equal(t, 10.0/60, s.ElapsedHours())

	require.True(t, s.Resume())
	tickN(t, s, 1)
	assert.InDelta(t, 11.0/60, s.ElapsedHours(), 1e-12)
}

func TestDayTransitionNotifiedOnce(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	tickUntil(t, s, 24.5)

	pending := s.PendingNotifications()
	require.Len(t, pending, 1)
	assert.Equal(t, NotificationDayTransition, pending[0].Kind)
	assert.Equal(t, 2, pending[0].Day)
	assert.NotEmpty(t, pending[0].Title)

	assert.True(t, s.AckNotification(pending[0].ID))
	assert.False(t, s.AckNotification(pending[0].ID))
	assert.Empty(t, s.DrainNotifications())
}

func TestDrainNotifications(t *testing.T) {
	s := newTestSession(t, WithTimeScale(300))
	s.Start()
	tickUntil(t, s, 49)

	drained := s.DrainNotifications()
	assert.Len(t, drained, 2)
	assert.Empty(t, s.PendingNotifications())
}

func TestMarkEmailRead(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	assert.True(t, s.MarkEmailRead("day1_shutdown_notice"))
	assert.False(t, s.MarkEmailRead("day1_shutdown_notice"))
	assert.False(t, s.MarkEmailRead("day2_faq_automated"))
	assert.Zero(t, s.UnreadCount())
}

func TestSetTimeScale(t *testing.T) {
	s := newTestSession(t)
	s.Start()

	require.NoError(t, s.SetTimeScale(120))
	tickN(t, s, 1)
	assert.InDelta(t, 120.0/3600, s.ElapsedHours(), 1e-12)

	assert.Error(t, s.SetTimeScale(3600))
	assert.Error(t, s.SetTimeScale(math.NaN()))
	assert.Equal(t, 120.0, s.TimeScale())
}

func TestTimeRemainingFollowsClock(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	tickN(t, s, 90)

	r := s.TimeRemaining()
	assert.Equal(t, 70, r.Hours)
	assert.Equal(t, 30, r.Minutes)
}

func TestSnapshot(t *testing.T) {
	s := newTestSession(t)
	s.Start()
	s.EnqueueDownload("3", 0.08)
	tickN(t, s, 5)

	snap := s.Snapshot()
	assert.Equal(t, s.ID(), snap.SessionID)
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, 1, snap.Day)
	assert.Equal(t, "Discovery & Denial", snap.DayTitle)
	assert.Equal(t, 1, snap.UnreadCount)
	require.Len(t, snap.Emails, 1)
	require.Len(t, snap.Downloads, 1)
	assert.Nil(t, snap.ActiveInterruption)
}

func TestStats(t *testing.T) {
	cat, err := library.Default()
	require.NoError(t, err)

	stats := ComputeStats([]DownloadItem{
		{ItemID: "1", SizeGB: 4.2, Progress: 100, Complete: true},
		{ItemID: "4", SizeGB: 8.5, Progress: 60},
		{ItemID: "unknown", SizeGB: 100, Progress: 100, Complete: true},
	}, cat)

	assert.Equal(t, 12.9, stats.TotalLibrarySizeGB)
	assert.Equal(t, 9.3, stats.TotalDownloadedGB)
	assert.Equal(t, 72.1, stats.PercentageSaved)
	assert.Equal(t, 4, stats.ItemsInLibrary)
	assert.Equal(t, 1, stats.ItemsSaved)
	assert.Equal(t, 3, stats.ItemsLost)
}
