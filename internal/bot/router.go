package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	rtsup "aulabot/internal/runtime/supervisor"
	kit "aulabot/internal/transport"
	logx "aulabot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string // without the leading "/"
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends a plain-text reply to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

const defaultCommandTimeout = 30 * time.Second

// Router dispatches incoming chat updates to registered command handlers.
// Handlers run on a small worker pool so one slow command doesn't stall the
// update stream.
type Router struct {
	mu     sync.RWMutex
	cmds   map[string]Command
	owners []int64

	adapter kit.Adapter
	log     logx.Logger

	jobs chan func()
}

func NewRouter(adapter kit.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:    make(map[string]Command),
		adapter: adapter,
		log:     log,
		jobs:    make(chan func(), 64),
	}
}

func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = append([]int64(nil), owners...)
	r.mu.Unlock()
}

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		r.cmds[c.Name] = c
	}
	r.mu.Unlock()
}

// DispatchLoop consumes updates until ctx is canceled or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "bot.router"))),
		rtsup.WithCancelOnError(false),
	)

	var closeOnce sync.Once
	closeJobs := func() { closeOnce.Do(func() { close(r.jobs) }) }

	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("command.worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command handler", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	r.log.Info("command dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("command dispatcher stopped (updates channel closed)")
				return nil
			}
			r.routeMessage(ctx, up)
		}
	}
}

func (r *Router) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	// Strip the "@botname" suffix used in group chats.
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	args := parts[1:]

	r.mu.RLock()
	cmd, ok := r.cmds[word]
	owners := r.owners
	r.mu.RUnlock()

	chat := kit.ChatTarget{ChatID: msg.ChatID}
	if !ok {
		_, _ = r.adapter.SendText(root, chat, "Unknown command. Try /help", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = r.adapter.SendText(root, chat, "unauthorized", nil)
		return
	}

	req := &Request{
		Chat:    chat,
		FromID:  msg.FromID,
		Command: word,
		Args:    args,
		Adapter: r.adapter,
		Logger:  r.log.With(logx.String("cmd", word), logx.Int64("chat_id", msg.ChatID)),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	job := func() {
		ctx, cancel := context.WithTimeout(root, timeout)
		defer cancel()
		start := time.Now()
		err := cmd.Handle(ctx, req)
		if err != nil {
			req.Logger.Warn("command failed", logx.Duration("took", time.Since(start)), logx.Err(err))
			_, _ = r.adapter.SendText(root, chat, "Something went wrong: "+err.Error(), nil)
			return
		}
		req.Logger.Debug("command handled", logx.Duration("took", time.Since(start)))
	}

	select {
	case r.jobs <- job:
	default:
		r.log.Warn("command dropped (queue full)", logx.String("cmd", word))
		_, _ = r.adapter.SendText(root, chat, "Busy, try again in a moment.", nil)
	}
}

// HelpText lists the registered commands visible to the given user.
func (r *Router) HelpText(fromID int64) string {
	r.mu.RLock()
	owners := r.owners
	names := make([]string, 0, len(r.cmds))
	for name := range r.cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, name := range names {
		c := r.cmds[name]
		if c.Access == AccessOwnerOnly && !isOwner(fromID, owners) {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&b, "%s — %s\n", usage, c.Description)
	}
	r.mu.RUnlock()
	return b.String()
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
