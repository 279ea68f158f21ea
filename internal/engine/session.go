package engine

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MRamiBalles/mementos/server/internal/domain/rules"
	"github.com/MRamiBalles/mementos/server/internal/domain/timeline"
)

// DefaultTimeScale is the number of game seconds per tick: one real second
// is one game minute.
const DefaultTimeScale = 60.0

// State of the session lifecycle. Ended is terminal.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateRunning    State = "RUNNING"
	StatePaused     State = "PAUSED"
	StateEnded      State = "ENDED"
)

// DeliveredEmail is a scripted email that has reached the inbox.
type DeliveredEmail struct {
	timeline.ScheduledEmail
	Day         int     `json:"day"`
	DeliveredAt float64 `json:"delivered_at_hours"`
	Read        bool    `json:"read"`
}

// SystemMessage is a desktop alert raised when an interruption begins.
// It stays until the player dismisses it.
type SystemMessage struct {
	ID           string  `json:"id"`
	Text         string  `json:"text"`
	Day          int     `json:"day"`
	ElapsedHours float64 `json:"created_at_hours"`
}

// TickReport describes what a single tick changed.
type TickReport struct {
	ElapsedHours float64
	Day          int
	DayChanged   bool
	Delivered    []DeliveredEmail
	Interruption *timeline.Interruption // set only when a window just opened
	Message      *SystemMessage
	Speed        float64
	Completed    []DownloadItem
	Ended        bool
}

// Option configures a Session.
type Option func(*Session)

// WithTimeScale sets the game seconds advanced per tick.
func WithTimeScale(scale float64) Option {
	return func(s *Session) { s.timeScale = scale }
}

// WithSource injects the random source used for speed fluctuation.
func WithSource(src rules.Source) Option {
	return func(s *Session) { s.rng = src }
}

// WithIDGenerator replaces uuid generation for messages and notifications.
func WithIDGenerator(fn func() string) Option {
	return func(s *Session) { s.newID = fn }
}

// Session owns the game clock and every piece of state derived from it.
// Ticks and player commands are serialized through one mutex.
type Session struct {
	mu sync.Mutex

	id        string
	timeline  *timeline.Timeline
	rng       rules.Source
	newID     func() string
	state     State
	timeScale float64

	elapsedSeconds float64
	day            int
	speed          float64

	delivered    []DeliveredEmail
	deliveredIdx map[string]int
	messages     []SystemMessage
	activeKey    string // identifies the interruption window currently open

	downloads *downloadQueue
	outbox    outbox
}

// NewSession creates a session in NotStarted. It fails when the time scale
// would let a tick jump over an email delivery window.
func NewSession(tl *timeline.Timeline, opts ...Option) (*Session, error) {
	s := &Session{
		id:           uuid.NewString(),
		timeline:     tl,
		newID:        uuid.NewString,
		state:        StateNotStarted,
		timeScale:    DefaultTimeScale,
		day:          1,
		deliveredIdx: make(map[string]int),
		downloads:    newDownloadQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if err := timeline.CheckTimeScale(s.timeScale); err != nil {
		return nil, err
	}
	return s, nil
}

// ID identifies the session in logs and the event store.
func (s *Session) ID() string {
	return s.id
}

// Timeline returns the narrative driving this session.
func (s *Session) Timeline() *timeline.Timeline {
	return s.timeline
}

// Start resets the clock and delivers the emails scheduled at hour 0 of day 1.
func (s *Session) Start() (TickReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNotStarted {
		return TickReport{}, false
	}

	s.elapsedSeconds = 0
	s.day = 1
	s.delivered = nil
	s.deliveredIdx = make(map[string]int)
	s.messages = nil
	s.activeKey = ""
	s.outbox.reset()
	s.state = StateRunning

	report := TickReport{Day: 1}
	if day, ok := s.timeline.Day(1); ok {
		for _, email := range day.Emails {
			if email.DeliveryHours == 0 {
				if d, added := s.deliver(email, 1); added {
					report.Delivered = append(report.Delivered, d)
				}
			}
		}
	}
	s.observeInterruption(rules.Resolve(s.timeline, 0), &report)
	s.speed = rules.DownloadSpeed(s.timeline, 0, s.rng)
	report.Speed = s.speed
	return report, true
}

// Tick advances the clock by one time-scale step. It is a no-op unless the
// session is running.
func (s *Session) Tick() (TickReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return TickReport{}, false
	}

	s.elapsedSeconds += s.timeScale
	hours := s.elapsedHours()

	end := s.timeline.EndHours()
	if hours >= end {
		s.elapsedSeconds = end * 3600
		s.state = StateEnded
		s.speed = 0
		s.activeKey = ""
		s.outbox.push(Notification{
			ID:           s.newID(),
			Kind:         NotificationGameEnded,
			Day:          s.day,
			Title:        s.timeline.Epilogue.Title,
			Text:         s.timeline.Epilogue.Message,
			ElapsedHours: end,
		})
		return TickReport{ElapsedHours: end, Day: s.day, Ended: true}, true
	}

	report := TickReport{ElapsedHours: hours}

	if day := s.timeline.ClampedDayAt(hours); day > s.day {
		s.day = day
		report.DayChanged = true
		cfg, _ := s.timeline.Day(day)
		s.outbox.push(Notification{
			ID:           s.newID(),
			Kind:         NotificationDayTransition,
			Day:          day,
			Title:        cfg.Title,
			Text:         cfg.Description,
			ElapsedHours: hours,
		})
	}
	report.Day = s.day

	res := rules.Resolve(s.timeline, hours)
	for _, email := range res.DueEmails {
		if d, added := s.deliver(email, res.Day); added {
			report.Delivered = append(report.Delivered, d)
		}
	}
	s.observeInterruption(res, &report)

	s.speed = rules.DownloadSpeed(s.timeline, hours, s.rng)
	report.Speed = s.speed
	report.Completed = s.downloads.advance(s.speed)
	return report, true
}

// deliver appends an email to the inbox once. Caller holds mu.
func (s *Session) deliver(email timeline.ScheduledEmail, day int) (DeliveredEmail, bool) {
	if _, seen := s.deliveredIdx[email.ID]; seen {
		return DeliveredEmail{}, false
	}
	d := DeliveredEmail{
		ScheduledEmail: email,
		Day:            day,
		DeliveredAt:    s.elapsedHours(),
	}
	s.deliveredIdx[email.ID] = len(s.delivered)
	s.delivered = append(s.delivered, d)
	return d, true
}

// observeInterruption raises one system message per interruption window.
// Caller holds mu.
func (s *Session) observeInterruption(res rules.Resolution, report *TickReport) {
	in := res.ActiveInterruption
	if in == nil {
		s.activeKey = ""
		return
	}
	key := fmt.Sprintf("%d|%g|%s", res.Day, in.StartHour, in.Reason)
	if key == s.activeKey {
		return
	}
	s.activeKey = key
	report.Interruption = in

	if in.Reason == "" {
		return
	}
	msg := SystemMessage{
		ID:           s.newID(),
		Text:         in.Reason,
		Day:          res.Day,
		ElapsedHours: s.elapsedHours(),
	}
	s.messages = append(s.messages, msg)
	report.Message = &msg
}

// Pause freezes the clock.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.state = StatePaused
	return true
}

// Resume continues from where the clock was paused; missed ticks are not
// replayed.
func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return false
	}
	s.state = StateRunning
	return true
}

// SetTimeScale changes the game seconds per tick.
func (s *Session) SetTimeScale(scale float64) error {
	if err := timeline.CheckTimeScale(scale); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeScale = scale
	return nil
}

// MarkEmailRead clears the unread flag of a delivered email.
func (s *Session) MarkEmailRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.deliveredIdx[id]
	if !ok || s.delivered[i].Read {
		return false
	}
	s.delivered[i].Read = true
	return true
}

// DismissSystemMessage removes a desktop alert.
func (s *Session) DismissSystemMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// EnqueueDownload adds a library item to the queue. Items already queued
// are ignored, as is anything queued after the shutdown.
func (s *Session) EnqueueDownload(itemID string, sizeGB float64) (DownloadItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded || itemID == "" || sizeGB <= 0 {
		return DownloadItem{}, false
	}
	return s.downloads.add(itemID, sizeGB)
}

// PauseDownload freezes an item's progress.
func (s *Session) PauseDownload(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads.setPaused(itemID, true)
}

// ResumeDownload lets a paused item progress again.
func (s *Session) ResumeDownload(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads.setPaused(itemID, false)
}

// AckNotification removes one pending notification.
func (s *Session) AckNotification(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.ack(id)
}

// DrainNotifications returns and clears every pending notification.
func (s *Session) DrainNotifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.drain()
}

// elapsedHours must be called with mu held.
func (s *Session) elapsedHours() float64 {
	return s.elapsedSeconds / 3600
}

func (s *Session) ElapsedHours() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedHours()
}

func (s *Session) CurrentDay() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.day
}

// DeliveredEmails returns the inbox in delivery order.
func (s *Session) DeliveredEmails() []DeliveredEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeliveredEmail, len(s.delivered))
	copy(out, s.delivered)
	return out
}

func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadCount()
}

func (s *Session) unreadCount() int {
	n := 0
	for _, d := range s.delivered {
		if !d.Read {
			n++
		}
	}
	return n
}

// CurrentDownloadSpeed is the speed computed on the last tick, in GB/hour.
func (s *Session) CurrentDownloadSpeed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

func (s *Session) ActiveSystemMessages() []SystemMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SystemMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) IsEnded() bool {
	return s.State() == StateEnded
}

func (s *Session) IsPaused() bool {
	return s.State() == StatePaused
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) TimeScale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeScale
}

func (s *Session) TimeRemaining() rules.Remaining {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rules.TimeRemaining(s.timeline, s.elapsedHours())
}

// Downloads returns the queue in enqueue order.
func (s *Session) Downloads() []DownloadItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads.list()
}

func (s *Session) PendingNotifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.list()
}
