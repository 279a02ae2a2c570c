package bot

import (
	"strings"
	"testing"
	"time"

	"aulabot/internal/calendar"
	"aulabot/internal/schedule"
)

func lec(title string, start time.Time) calendar.Lecture {
	return calendar.Lecture{
		Title:     title,
		Professor: "Rossi",
		TimeLabel: start.Format("15:04") + " - " + start.Add(2*time.Hour).Format("15:04"),
		Start:     start,
		End:       start.Add(2 * time.Hour),
	}
}

func TestGroupByDaySortsWithinAndAcrossDays(t *testing.T) {
	t.Parallel()

	mon := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	tue := mon.AddDate(0, 0, 1)
	lectures := []calendar.Lecture{
		lec("Tue late", tue.Add(14*time.Hour)),
		lec("Mon late", mon.Add(16*time.Hour)),
		lec("Mon early", mon.Add(9*time.Hour)),
		lec("Tue early", tue.Add(8*time.Hour)),
	}

	days, byDay := GroupByDay(lectures)
	if len(days) != 2 || !days[0].Equal(mon) || !days[1].Equal(tue) {
		t.Fatalf("days = %v", days)
	}
	if byDay[mon][0].Title != "Mon early" || byDay[mon][1].Title != "Mon late" {
		t.Fatalf("monday order: %+v", byDay[mon])
	}
	if byDay[tue][0].Title != "Tue early" {
		t.Fatalf("tuesday order: %+v", byDay[tue])
	}
}

func TestTimetableDigest(t *testing.T) {
	t.Parallel()

	if got := TimetableDigest(nil); !strings.Contains(got, "No upcoming lectures") {
		t.Fatalf("empty digest = %q", got)
	}

	mon := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	out := TimetableDigest([]calendar.Lecture{lec("Analysis II/Exercises", mon)})
	if !strings.Contains(out, "Monday 02 Mar") {
		t.Fatalf("digest missing day header:\n%s", out)
	}
	if !strings.Contains(out, "• Analysis II\n") {
		t.Fatalf("digest title not truncated at '/':\n%s", out)
	}
	if !strings.Contains(out, "Rossi") {
		t.Fatalf("digest missing professor:\n%s", out)
	}
}

func TestJobsDigest(t *testing.T) {
	t.Parallel()

	if got := JobsDigest(nil); got != "No pending reminders." {
		t.Fatalf("empty jobs digest = %q", got)
	}

	next := time.Date(2026, 3, 2, 8, 50, 0, 0, time.Local)
	out := JobsDigest([]schedule.JobInfo{
		{Name: "timetable.refresh", Slot: schedule.Slot{Hour: 6}, Generation: schedule.PermanentGeneration, Next: next},
		{Name: "Quantum Mechanics", Slot: schedule.Slot{Hour: 8, Minute: 50}, Generation: 3, Next: next},
	})
	if !strings.Contains(out, "permanent") {
		t.Fatalf("refresh job not labeled permanent:\n%s", out)
	}
	if !strings.Contains(out, "at 08:50") || !strings.Contains(out, "gen 3") {
		t.Fatalf("job row malformed:\n%s", out)
	}
}
