package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "aulabot/internal/transport"
	logx "aulabot/pkg/logx"
)

type recordingAdapter struct {
	mu    sync.Mutex
	sent  []string
	sends chan string
}

func newRecordingAdapter() *recordingAdapter {
	return &recordingAdapter{sends: make(chan string, 16)}
}

func (a *recordingAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *recordingAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *recordingAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	select {
	case a.sends <- text:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func nextReply(t *testing.T, a *recordingAdapter) string {
	t.Helper()
	select {
	case s := <-a.sends:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return ""
	}
}

func textUpdate(fromID int64, text string) kit.Update {
	return kit.Update{Message: &kit.Message{ID: 1, ChatID: -500, FromID: fromID, Text: text}}
}

func startRouter(t *testing.T, r *Router) chan kit.Update {
	t.Helper()
	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("dispatch loop did not stop on cancel")
		}
	})
	return updates
}

func TestRouterDispatchesCommand(t *testing.T) {
	t.Parallel()

	ad := newRecordingAdapter()
	r := NewRouter(ad, logx.Nop())
	r.Register(Command{
		Name:        "ping",
		Description: "ping",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "pong "+strings.Join(req.Args, " "))
		},
	})

	updates := startRouter(t, r)
	updates <- textUpdate(1, "/ping a b")
	if got := nextReply(t, ad); got != "pong a b" {
		t.Fatalf("reply = %q", got)
	}
}

func TestRouterStripsBotMention(t *testing.T) {
	t.Parallel()

	ad := newRecordingAdapter()
	r := NewRouter(ad, logx.Nop())
	r.Register(Command{
		Name:   "ping",
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "pong") },
	})

	updates := startRouter(t, r)
	updates <- textUpdate(1, "/ping@aula_bot")
	if got := nextReply(t, ad); got != "pong" {
		t.Fatalf("reply = %q", got)
	}
}

func TestRouterUnknownCommand(t *testing.T) {
	t.Parallel()

	ad := newRecordingAdapter()
	r := NewRouter(ad, logx.Nop())
	updates := startRouter(t, r)

	updates <- textUpdate(1, "/nope")
	if got := nextReply(t, ad); !strings.Contains(got, "/help") {
		t.Fatalf("unknown-command reply = %q", got)
	}

	// Plain chatter is ignored entirely.
	updates <- textUpdate(1, "hello there")
	select {
	case got := <-ad.sends:
		t.Fatalf("unexpected reply to plain text: %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouterOwnerGating(t *testing.T) {
	t.Parallel()

	ad := newRecordingAdapter()
	r := NewRouter(ad, logx.Nop())
	r.SetOwners([]int64{99})
	r.Register(Command{
		Name:   "secret",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "granted") },
	})

	updates := startRouter(t, r)

	updates <- textUpdate(1, "/secret")
	if got := nextReply(t, ad); got != "unauthorized" {
		t.Fatalf("non-owner reply = %q", got)
	}

	updates <- textUpdate(99, "/secret")
	if got := nextReply(t, ad); got != "granted" {
		t.Fatalf("owner reply = %q", got)
	}
}

func TestHelpTextHidesOwnerCommands(t *testing.T) {
	t.Parallel()

	r := NewRouter(newRecordingAdapter(), logx.Nop())
	r.SetOwners([]int64{99})
	r.Register(
		Command{Name: "calendar", Description: "timetable", Handle: func(ctx context.Context, req *Request) error { return nil }},
		Command{Name: "jobs", Description: "pending reminders", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error { return nil }},
	)

	public := r.HelpText(1)
	if !strings.Contains(public, "/calendar") || strings.Contains(public, "/jobs") {
		t.Fatalf("public help leaked owner commands:\n%s", public)
	}
	owner := r.HelpText(99)
	if !strings.Contains(owner, "/jobs") {
		t.Fatalf("owner help missing owner commands:\n%s", owner)
	}
}
