package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"aulabot/internal/eventbus"
	logx "aulabot/pkg/logx"
)

const defaultPollInterval = 10 * time.Second

// JobEvent is emitted on the event bus when a job fires or fails.
type JobEvent struct {
	Name  string `json:"name"`
	Slot  string `json:"slot"`
	Error string `json:"error,omitempty"`
}

type kickItem struct {
	name string
	fn   func(ctx context.Context) error
}

// Runner drives the store: every tick it runs the jobs due at the current
// minute. All job execution (and therefore all store mutation done by jobs,
// refresh included) happens on this one goroutine.
type Runner struct {
	store    *Store
	interval time.Duration
	log      logx.Logger
	bus      eventbus.Bus
	kick     chan kickItem
}

func NewRunner(store *Store, interval time.Duration, log logx.Logger, bus eventbus.Bus) *Runner {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Runner{
		store:    store,
		interval: interval,
		log:      log,
		bus:      bus,
		kick:     make(chan kickItem, 8),
	}
}

// Enqueue hands fn to the loop goroutine (used by /refresh and startup).
// Non-blocking: when the small kick buffer is full the request is dropped
// with a warning, since a refresh is already pending anyway.
func (r *Runner) Enqueue(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	select {
	case r.kick <- kickItem{name: name, fn: fn}:
	default:
		r.log.Warn("manual job dropped (queue full)", logx.String("name", name))
	}
}

// Run polls until ctx is canceled. An in-flight job finishes before the loop
// observes cancellation.
func (r *Runner) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.log.Info("poll loop started", logx.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("poll loop stopped")
			return nil
		case it := <-r.kick:
			if err := r.runOne(ctx, it.name, it.fn); err != nil {
				r.log.Warn("manual job failed", logx.String("name", it.name), logx.Err(err))
			}
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	now := r.store.clock()
	due := r.store.DueNow(now)
	for _, j := range due {
		if ctx.Err() != nil {
			return
		}
		err := r.runOne(ctx, j.Name, j.Run)
		// Advance even on failure: a job fires at most once per day.
		r.store.MarkFired(j, now)
		if err != nil {
			r.log.Warn("job failed", logx.String("name", j.Name), logx.String("slot", j.Slot.String()), logx.Err(err))
			r.publish("job.failed", JobEvent{Name: j.Name, Slot: j.Slot.String(), Error: err.Error()})
			continue
		}
		r.log.Debug("job fired", logx.String("name", j.Name), logx.String("slot", j.Slot.String()))
		r.publish("job.fired", JobEvent{Name: j.Name, Slot: j.Slot.String()})
	}
}

// runOne isolates a single job: a panic inside a handler must not take down
// the loop or skip the remaining due jobs.
func (r *Runner) runOne(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			r.log.Error("job panicked",
				logx.String("name", name),
				logx.Any("panic", p),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	return fn(ctx)
}

func (r *Runner) publish(typ string, ev JobEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
