package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"aulabot/internal/calendar"
	"aulabot/internal/schedule"
)

// GroupByDay buckets lectures by calendar day (local time), preserving the
// start-time order inside each bucket. Returned day keys are sorted.
func GroupByDay(lectures []calendar.Lecture) ([]time.Time, map[time.Time][]calendar.Lecture) {
	byDay := make(map[time.Time][]calendar.Lecture)
	for _, lec := range lectures {
		day := time.Date(lec.Start.Year(), lec.Start.Month(), lec.Start.Day(), 0, 0, 0, 0, lec.Start.Location())
		byDay[day] = append(byDay[day], lec)
	}
	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
		sort.Slice(byDay[d], func(i, j int) bool { return byDay[d][i].Start.Before(byDay[d][j].Start) })
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, byDay
}

// DailyDigest renders one day's lectures as a chat message.
func DailyDigest(day time.Time, lectures []calendar.Lecture) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 %s\n", day.Format("Monday 02 Jan"))
	if len(lectures) == 0 {
		b.WriteString("No lectures.\n")
		return b.String()
	}
	for _, lec := range lectures {
		fmt.Fprintf(&b, "\n• %s\n", lec.DisplayTitle())
		fmt.Fprintf(&b, "  %s — %s\n", lec.TimeLabel, lec.Professor)
		if lec.Room != "" {
			fmt.Fprintf(&b, "  Room: %s\n", lec.Room)
		}
		if lec.TeamsLink != "" {
			fmt.Fprintf(&b, "  %s\n", lec.TeamsLink)
		}
	}
	return b.String()
}

// TimetableDigest renders a multi-day window. Days with no lectures are
// omitted; an empty window gets a single placeholder line.
func TimetableDigest(lectures []calendar.Lecture) string {
	if len(lectures) == 0 {
		return "No upcoming lectures in this window."
	}
	days, byDay := GroupByDay(lectures)
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, DailyDigest(d, byDay[d]))
	}
	return strings.Join(parts, "\n")
}

// JobsDigest renders the pending reminder jobs for the owner command.
func JobsDigest(jobs []schedule.JobInfo) string {
	if len(jobs) == 0 {
		return "No pending reminders."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ %d pending job(s)\n", len(jobs))
	for _, j := range jobs {
		gen := fmt.Sprintf("gen %d", j.Generation)
		if j.Generation == schedule.PermanentGeneration {
			gen = "permanent"
		}
		fmt.Fprintf(&b, "\n• %s\n  at %s (next %s, %s)\n", j.Name, j.Slot, j.Next.Format("Mon 15:04"), gen)
	}
	return b.String()
}
