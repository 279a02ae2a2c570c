package reminder

import (
	"context"
	"sync"
	"time"

	"aulabot/internal/calendar"
	"aulabot/internal/eventbus"
	"aulabot/internal/schedule"
	logx "aulabot/pkg/logx"
)

// TimetableSource is the slice of calendar.Source this service needs.
type TimetableSource interface {
	Name() string
	Fetch(ctx context.Context) ([]calendar.Lecture, error)
}

// Config controls reminder computation.
type Config struct {
	// LeadTime is how long before a lecture's start the reminder fires.
	LeadTime time.Duration

	// HourOffset compensates for the feed's naive wall-clock zone: the fire
	// slot is start − LeadTime − HourOffset hours, read on the host clock.
	HourOffset int

	// RefreshAt is the daily full-replace slot.
	RefreshAt schedule.Slot
}

// ScheduledEvent is emitted on the event bus per registered reminder.
type ScheduledEvent struct {
	Title string `json:"title"`
	Slot  string `json:"slot"`
}

// RefreshEvent is emitted on the event bus after each refresh attempt.
type RefreshEvent struct {
	Source     string `json:"source"`
	Generation uint64 `json:"generation"`
	Scheduled  int    `json:"scheduled"`
	Error      string `json:"error,omitempty"`
}

// Service owns the daily reminder set: once per day (and once at startup) it
// replaces every pending lecture reminder with a fresh batch computed from
// the timetable.
type Service struct {
	mu  sync.Mutex
	cfg Config
	gen uint64 // generation of the current batch

	src     TimetableSource
	store   *schedule.Store
	deliver func(calendar.Lecture)
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for the lookahead boundary (tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(cfg Config, src TimetableSource, store *schedule.Store, deliver func(calendar.Lecture), log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		src:     src,
		store:   store,
		deliver: deliver,
		log:     log,
		bus:     bus,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply updates timing knobs on config reload. The new values take effect at
// the next refresh; callers that want them sooner enqueue a manual refresh.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Install registers the permanent daily refresh trigger in the store.
func (s *Service) Install() error {
	s.mu.Lock()
	at := s.cfg.RefreshAt.String()
	s.mu.Unlock()
	return s.store.SchedulePermanent("timetable.refresh", at, s.Refresh)
}

// Refresh replaces the whole reminder batch:
//
//  1. drop the previous generation (the store is empty of lecture jobs even
//     if the fetch below fails — stale reminders are worse than none),
//  2. fetch the timetable,
//  3. keep lectures starting before tomorrow's midnight,
//  4. register one job per lecture at start − lead − offset.
//
// A fire slot already behind the clock still registers; the store lands it on
// the following day. Refresh runs as a store job, so it always executes on
// the poll goroutine.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	prev := s.gen
	s.mu.Unlock()

	gen := s.store.NextGeneration()
	if removed := s.store.ClearGeneration(prev); removed > 0 {
		s.log.Debug("previous batch cleared", logx.Uint64("generation", prev), logx.Int("removed", removed))
	}
	s.setGen(gen)

	lectures, err := s.src.Fetch(ctx)
	if err != nil {
		s.log.Error("timetable fetch failed; reminders empty until next refresh",
			logx.String("source", s.src.Name()), logx.Err(err))
		s.publishRefresh(RefreshEvent{Source: s.src.Name(), Generation: gen, Error: err.Error()})
		return err
	}

	boundary := nextMidnight(s.now())
	scheduled := 0
	for _, lec := range lectures {
		if !lec.Start.Before(boundary) {
			continue
		}
		fireAt := lec.Start.Add(-cfg.LeadTime).Add(-time.Duration(cfg.HourOffset) * time.Hour)
		slot := schedule.Slot{Hour: fireAt.Hour(), Minute: fireAt.Minute()}

		lec := lec
		err := s.store.Schedule(lec.DisplayTitle(), slot.String(), gen, func(context.Context) error {
			s.deliver(lec)
			return nil
		})
		if err != nil {
			s.log.Warn("reminder rejected", logx.String("title", lec.Title), logx.String("slot", slot.String()), logx.Err(err))
			continue
		}
		scheduled++
		s.log.Info("reminder scheduled",
			logx.String("title", lec.Title),
			logx.String("slot", slot.String()),
			logx.Time("start", lec.Start),
		)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "reminder.scheduled", Data: ScheduledEvent{Title: lec.DisplayTitle(), Slot: slot.String()}})
		}
	}

	s.log.Info("timetable refreshed",
		logx.String("source", s.src.Name()),
		logx.Uint64("generation", gen),
		logx.Int("scheduled", scheduled),
		logx.Int("fetched", len(lectures)),
	)
	s.publishRefresh(RefreshEvent{Source: s.src.Name(), Generation: gen, Scheduled: scheduled})
	return nil
}

// Generation returns the generation of the current batch.
func (s *Service) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Service) setGen(gen uint64) {
	s.mu.Lock()
	s.gen = gen
	s.mu.Unlock()
}

func (s *Service) publishRefresh(ev RefreshEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: "timetable.refreshed", Data: ev})
}

// nextMidnight is the lookahead boundary: lectures starting at or after
// tomorrow 00:00 local belong to tomorrow's refresh.
func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
