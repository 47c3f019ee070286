package toggle

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plexsphere/appguard/internal/events"
)

// Publisher delivers change notifications. It is satisfied by *events.Hub.
type Publisher interface {
	Publish(e events.Event)
}

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scheduler flips the global enabled flag every interval. Each firing
// schedules exactly one next firing at now+interval instead of relying on a
// periodic timer, so a missed wakeup or a clock change only shifts the
// schedule.
type Scheduler struct {
	timer    Timer
	pub      Publisher
	interval time.Duration
	clock    Clock
	logger   *slog.Logger

	mu      sync.Mutex // serializes firings
	enabled atomic.Bool
	next    atomic.Int64 // unix nanos of the next flip, 0 when idle
}

// NewScheduler creates a Scheduler in the Enabled state. Config defaults
// are applied automatically. Nothing is scheduled until Start.
func NewScheduler(cfg Config, timer Timer, pub Publisher, logger *slog.Logger) *Scheduler {
	cfg.ApplyDefaults()
	s := &Scheduler{
		timer:    timer,
		pub:      pub,
		interval: cfg.Interval,
		clock:    realClock{},
		logger:   logger.With("component", "toggle"),
	}
	s.enabled.Store(true)
	return s
}

// SetClock sets a custom clock for testing.
func (s *Scheduler) SetClock(c Clock) { s.clock = c }

// Enabled reports the current state of the global flag.
func (s *Scheduler) Enabled() bool {
	return s.enabled.Load()
}

// NextToggle returns the time of the next scheduled flip, or the zero time
// if nothing is scheduled.
func (s *Scheduler) NextToggle() time.Time {
	n := s.next.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Start schedules the first flip one interval from now.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.clock.Now().Add(s.interval)
	s.schedule(next)
	s.logger.Info("toggle scheduler started",
		"interval", s.interval,
		"next_toggle", next,
	)
}

// Fire flips the flag, publishes a RulesChanged event and schedules the
// next firing. It is the timer callback; tests may call it directly.
func (s *Scheduler) Fire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := !s.enabled.Load()
	s.enabled.Store(enabled)

	next := s.clock.Now().Add(s.interval)

	s.pub.Publish(events.Event{
		Type:   events.RulesChanged,
		Source: "toggle",
		Data: events.ToggleData{
			Enabled:    enabled,
			NextToggle: next,
		},
	})
	s.schedule(next)

	s.logger.Info("filtering toggled",
		"enabled", enabled,
		"next_toggle", next,
	)
}

// schedule must be called with s.mu held.
func (s *Scheduler) schedule(at time.Time) {
	s.next.Store(at.UnixNano())
	s.timer.ScheduleAt(at, s.Fire)
}
