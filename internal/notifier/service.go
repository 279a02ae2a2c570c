package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"aulabot/internal/calendar"
	"aulabot/internal/eventbus"
	rtsup "aulabot/internal/runtime/supervisor"
	"aulabot/internal/storage"
	kit "aulabot/internal/transport"
	logx "aulabot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const defaultBroadcast = "@everyone"

const (
	kindAnnouncement = "announcement"
	kindBroadcast    = "broadcast"
)

// item is one queue entry: the announcement plus its optional broadcast
// marker. The marker rides in the same entry so a single worker sends the
// pair back to back; as separate entries two workers could deliver the
// marker first.
type item struct {
	title     string
	professor string
	slot      string
	text      string // announcement body
	followup  string // broadcast marker, "" when disabled
}

// Service is the bridge between the poll goroutine and the chat transport:
// a bounded queue consumed by a small worker pool that owns all adapter
// sends. Deliver never blocks the caller; when the queue is full the
// announcement is dropped with a log line, not a stall.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	store   storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan item
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// In-memory history of sent texts (for the owner commands).
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log,
		bus:     bus,
		store:   store,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if strings.TrimSpace(cfg.Broadcast) == "" {
		cfg.Broadcast = defaultBroadcast
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent.
	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan item, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// delivery failures should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	// If not running, nothing to do.
	if q == nil {
		s.mu.Unlock()
		return
	}
	// If already stopping, wait.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	// Block new deliveries.
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// Force-stop internal loops.
		if sup != nil {
			sup.Cancel()
		}
		return
	}
}

// Deliver enqueues the reminder for a fired lecture: the announcement itself
// immediately followed by the broadcast marker. Fire-and-forget: it never
// blocks and never returns an error to the poll loop; failures end up in the
// log and on the event bus.
func (s *Service) Deliver(lec calendar.Lecture) {
	s.mu.Lock()
	broadcast := s.cfg.Broadcast
	s.mu.Unlock()

	it := item{
		title:     lec.DisplayTitle(),
		professor: lec.Professor,
		slot:      lec.Start.Format("15:04"),
		text:      Announcement(lec),
	}
	if broadcast != "-" {
		it.followup = broadcast
	}
	s.enqueue(it)
}

// Announcement renders the reminder message for a lecture.
func Announcement(lec calendar.Lecture) string {
	var b strings.Builder
	b.WriteString("📣 A lecture is about to start!\n")
	b.WriteString("Course: ")
	b.WriteString(lec.DisplayTitle())
	b.WriteString("\nProf: ")
	b.WriteString(lec.Professor)
	b.WriteString("\nTime: ")
	b.WriteString(lec.TimeLabel)
	if lec.Room != "" {
		b.WriteString("\nRoom: ")
		b.WriteString(lec.Room)
	}
	if lec.TeamsLink != "" {
		b.WriteString("\nTeams: ")
		b.WriteString(lec.TeamsLink)
	}
	if lec.Note != "" {
		b.WriteString("\nNote: ")
		b.WriteString(lec.Note)
	}
	return b.String()
}

func (s *Service) enqueue(it item) {
	if it.text == "" {
		return
	}
	s.mu.Lock()
	chatID := s.cfg.ChatID
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		s.log.Warn("delivery dropped (notifier stopped)", logx.String("title", it.title))
		s.publish("delivery.dropped", chatID, kindAnnouncement, it, ErrStopped)
		return
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- it:
	default:
		s.log.Warn("delivery dropped (queue full)",
			logx.String("title", it.title),
			logx.Int64("chat_id", chatID),
		)
		s.publish("delivery.dropped", chatID, kindAnnouncement, it, ErrQueueFull)
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan item) {
	if ctx == nil {
		ctx = context.Background()
	}
	if q == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-q:
			if !ok {
				return
			}
			s.sendOne(ctx, it)
		}
	}
}

// sendOne delivers one queue entry: announcement first, then the marker.
// Each send gets exactly one attempt — reminders are time-sensitive, a
// retried announcement would arrive after the lecture started.
func (s *Service) sendOne(runCtx context.Context, it item) {
	s.mu.Lock()
	lim := s.limiter
	ad := s.adapter
	chatID := s.cfg.ChatID
	s.mu.Unlock()

	if ad == nil || chatID == 0 {
		s.log.Warn("delivery skipped (no target chat)", logx.String("title", it.title))
		return
	}

	if err := s.send(runCtx, lim, ad, chatID, kindAnnouncement, it, it.text); err != nil {
		// A marker without its announcement is just noise.
		return
	}
	if it.followup != "" {
		_ = s.send(runCtx, lim, ad, chatID, kindBroadcast, it, it.followup)
	}
}

func (s *Service) send(runCtx context.Context, lim *rate.Limiter, ad kit.Adapter, chatID int64, kind string, it item, text string) error {
	// Rate limit (honor cancellation).
	if lim != nil {
		if err := lim.Wait(runCtx); err != nil {
			return err
		}
	}

	// Bound per-send call. Keep tight to avoid hanging workers.
	callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	_, err := ad.SendText(callCtx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	cancel()

	if err != nil {
		s.log.Warn("delivery failed",
			logx.String("kind", kind),
			logx.String("title", it.title),
			logx.Int64("chat_id", chatID),
			logx.Err(err),
		)
		s.publish("delivery.failed", chatID, kind, it, err)
		s.record(it, chatID, kind, err)
		return err
	}

	s.appendHistory(text)
	s.log.Debug("delivery sent", logx.String("kind", kind), logx.String("title", it.title))
	s.publish("delivery.sent", chatID, kind, it, nil)
	s.record(it, chatID, kind, nil)
	return nil
}

func (s *Service) publish(typ string, chatID int64, kind string, it item, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DeliveryEvent{ChatID: chatID, Kind: kind, Title: it.title, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// record appends the delivery outcome to storage (best-effort).
func (s *Service) record(it item, chatID int64, kind string, sendErr error) {
	if s.store == nil {
		return
	}
	e := storage.DeliveryEntry{
		At:        time.Now(),
		ChatID:    chatID,
		Kind:      kind,
		Title:     it.title,
		Professor: it.professor,
		FireSlot:  it.slot,
		OK:        sendErr == nil,
	}
	if sendErr != nil {
		e.Error = sendErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := s.store.AppendDelivery(ctx, e); err != nil {
		s.log.Debug("delivery history write failed", logx.Err(err))
	}
}
