package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aulabot/internal/calendar"
	"aulabot/internal/reminder"
	"aulabot/internal/schedule"
	"aulabot/internal/storage"
)

// Deps are the services the built-in commands act on. History may be nil
// when persistence is disabled.
type Deps struct {
	Sources       map[string]*calendar.Source
	DefaultSource string

	Store    *schedule.Store
	Runner   *schedule.Runner
	Reminder *reminder.Service

	History storage.Store
}

const (
	defaultCalendarDays = 7
	maxCalendarDays     = 31
)

// RegisterCommands installs the built-in command set on the router.
func RegisterCommands(r *Router, deps Deps) {
	r.Register(
		Command{
			Name:        "start",
			Description: "what this bot does",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, "Hi! I post lecture reminders and can show the timetable.\nTry /help for the command list.")
			},
		},
		Command{
			Name:        "help",
			Description: "list available commands",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, r.HelpText(req.FromID))
			},
		},
		Command{
			Name:        "calendar",
			Description: "show the upcoming timetable",
			Usage:       "/calendar [source] [days]",
			Handle:      deps.calendarCommand,
		},
		Command{
			Name:        "today",
			Description: "show today's lectures",
			Usage:       "/today [source]",
			Handle:      deps.todayCommand,
		},
		Command{
			Name:        "jobs",
			Description: "list pending reminders",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, JobsDigest(deps.Store.Snapshot()))
			},
		},
		Command{
			Name:        "refresh",
			Description: "re-fetch the timetable and rebuild reminders",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				deps.Runner.Enqueue("manual.refresh", deps.Reminder.Refresh)
				return req.Reply(ctx, "Refresh queued.")
			},
		},
		Command{
			Name:        "history",
			Description: "recent reminder deliveries",
			Access:      AccessOwnerOnly,
			Handle:      deps.historyCommand,
		},
	)
}

func (d Deps) source(name string) (*calendar.Source, bool) {
	if name == "" {
		name = d.DefaultSource
	}
	src, ok := d.Sources[name]
	return src, ok
}

func (d Deps) sourceNames() string {
	names := make([]string, 0, len(d.Sources))
	for name := range d.Sources {
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// calendarCommand accepts "[source] [days]" in either order: a numeric
// argument is the day count, anything else is a source name.
func (d Deps) calendarCommand(ctx context.Context, req *Request) error {
	srcName := ""
	days := defaultCalendarDays
	for _, arg := range req.Args {
		if n, err := strconv.Atoi(arg); err == nil {
			days = n
			continue
		}
		srcName = arg
	}
	if days < 1 {
		days = 1
	}
	if days > maxCalendarDays {
		days = maxCalendarDays
	}

	src, ok := d.source(srcName)
	if !ok {
		return req.Reply(ctx, fmt.Sprintf("Unknown source %q. Available: %s", srcName, d.sourceNames()))
	}

	lectures, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("timetable fetch: %w", err)
	}
	lectures = withinDays(lectures, time.Now(), days)
	return req.Reply(ctx, TimetableDigest(lectures))
}

func (d Deps) todayCommand(ctx context.Context, req *Request) error {
	srcName := ""
	if len(req.Args) > 0 {
		srcName = req.Args[0]
	}
	src, ok := d.source(srcName)
	if !ok {
		return req.Reply(ctx, fmt.Sprintf("Unknown source %q. Available: %s", srcName, d.sourceNames()))
	}

	lectures, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("timetable fetch: %w", err)
	}
	now := time.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	todays := lectures[:0:0]
	for _, lec := range lectures {
		if lec.Start.Before(day.AddDate(0, 0, 1)) {
			todays = append(todays, lec)
		}
	}
	return req.Reply(ctx, DailyDigest(day, todays))
}

func (d Deps) historyCommand(ctx context.Context, req *Request) error {
	if d.History == nil {
		return req.Reply(ctx, "Delivery history is disabled.")
	}
	entries, err := d.History.RecentDeliveries(ctx, 10)
	if err != nil {
		return fmt.Errorf("history query: %w", err)
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "No deliveries recorded yet.")
	}
	total, err := d.History.CountDeliveries(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("history count: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent deliveries (%d in the last 24h):\n", total)
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = "failed: " + e.Error
		}
		fmt.Fprintf(&b, "• %s %s [%s] — %s\n", e.At.Format("02 Jan 15:04"), e.Title, e.Kind, status)
	}
	return req.Reply(ctx, b.String())
}

// withinDays keeps lectures starting before now + days (whole days, local).
func withinDays(lectures []calendar.Lecture, now time.Time, days int) []calendar.Lecture {
	limit := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, days)
	out := lectures[:0:0]
	for _, lec := range lectures {
		if lec.Start.Before(limit) {
			out = append(out, lec)
		}
	}
	return out
}
