package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidTime is wrapped by Schedule/ParseSlot for malformed HH:MM input.
var ErrInvalidTime = errors.New("invalid fire time")

// PermanentGeneration marks jobs that survive every bulk clear (the daily
// refresh trigger registers itself with it).
const PermanentGeneration uint64 = 0

// Slot is a daily-recurring fire time at minute granularity.
type Slot struct {
	Hour   int
	Minute int
}

func (s Slot) String() string { return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute) }

// ParseSlot parses "HH:MM" (24h clock).
func ParseSlot(raw string) (Slot, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return Slot{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Slot{}, fmt.Errorf("%w: %q: bad hour", ErrInvalidTime, raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Slot{}, fmt.Errorf("%w: %q: bad minute", ErrInvalidTime, raw)
	}
	return Slot{Hour: h, Minute: m}, nil
}

// Job is one pending daily-recurring entry.
//
// next/sched are owned by the Store; callers only hand Jobs back to
// MarkFired after running them.
type Job struct {
	Name       string
	Slot       Slot
	Generation uint64
	Run        func(ctx context.Context) error

	next  time.Time
	sched cron.Schedule
}

// JobInfo is a read-only snapshot row (for the /jobs command and logs).
type JobInfo struct {
	Name       string
	Slot       Slot
	Generation uint64
	Next       time.Time
}

// Store holds the pending job set. All mutation is expected to come from the
// poll goroutine (refresh runs as a due job); the mutex only covers the
// read-side snapshots taken by command handlers.
type Store struct {
	mu     sync.Mutex
	parser cron.Parser
	jobs   []*Job
	gen    uint64
	now    func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) clock() time.Time { return s.now() }

// NextGeneration advances and returns the generation id for a refresh batch.
func (s *Store) NextGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// Generation returns the most recently issued generation id.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Schedule registers a daily-recurring job at the given "HH:MM" slot.
// A slot already behind the clock lands on the following day.
func (s *Store) Schedule(name, fireAt string, gen uint64, run func(ctx context.Context) error) error {
	if run == nil {
		return fmt.Errorf("schedule %q: nil run func", name)
	}
	slot, err := ParseSlot(fireAt)
	if err != nil {
		return err
	}
	sched, err := s.parser.Parse(fmt.Sprintf("%d %d * * *", slot.Minute, slot.Hour))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidTime, fireAt, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &Job{
		Name:       name,
		Slot:       slot,
		Generation: gen,
		Run:        run,
		next:       sched.Next(s.now()),
		sched:      sched,
	})
	return nil
}

// SchedulePermanent registers a job that ClearGeneration never removes.
func (s *Store) SchedulePermanent(name, fireAt string, run func(ctx context.Context) error) error {
	return s.Schedule(name, fireAt, PermanentGeneration, run)
}

// ClearGeneration removes every job of the given generation and returns how
// many were dropped. Calling it again (or with an unknown generation) is a
// no-op; permanent jobs are never touched.
func (s *Store) ClearGeneration(gen uint64) int {
	if gen == PermanentGeneration {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.jobs[:0]
	removed := 0
	for _, j := range s.jobs {
		if j.Generation == gen {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(s.jobs); i++ {
		s.jobs[i] = nil
	}
	s.jobs = kept
	return removed
}

// DueNow returns the jobs whose next occurrence is at or before now.
// It does not consume them; callers advance each job via MarkFired.
func (s *Store) DueNow(now time.Time) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
		}
	}
	return due
}

// MarkFired advances the job to its next daily occurrence, so it cannot fire
// again within the same minute (or day).
func (s *Store) MarkFired(j *Job, now time.Time) {
	if j == nil {
		return
	}
	s.mu.Lock()
	j.next = j.sched.Next(now)
	s.mu.Unlock()
}

// Snapshot returns the pending jobs ordered by next fire time.
func (s *Store) Snapshot() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{
			Name:       j.Name,
			Slot:       j.Slot,
			Generation: j.Generation,
			Next:       j.next,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].Next.Equal(out[k].Next) {
			return out[i].Next.Before(out[k].Next)
		}
		return out[i].Name < out[k].Name
	})
	return out
}

// Len reports the number of pending jobs (permanent included).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
