package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"aulabot/internal/calendar"
	"aulabot/internal/schedule"
	logx "aulabot/pkg/logx"
)

type fakeSource struct {
	lectures []calendar.Lecture
	err      error
	calls    int
}

func (f *fakeSource) Name() string { return "first" }

func (f *fakeSource) Fetch(context.Context) ([]calendar.Lecture, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.lectures, nil
}

func lectureAt(title string, start time.Time) calendar.Lecture {
	return calendar.Lecture{
		Title:     title,
		Professor: "Rossi",
		TimeLabel: start.Format("15:04") + " - " + start.Add(2*time.Hour).Format("15:04"),
		Start:     start,
		End:       start.Add(2 * time.Hour),
	}
}

func newService(t *testing.T, cfg Config, src TimetableSource, clock func() time.Time, deliver func(calendar.Lecture)) (*Service, *schedule.Store) {
	t.Helper()
	if deliver == nil {
		deliver = func(calendar.Lecture) {}
	}
	store := schedule.New(schedule.WithClock(clock))
	svc := New(cfg, src, store, deliver, logx.Nop(), nil, WithClock(clock))
	return svc, store
}

func TestRefreshComputesFireSlot(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 4, 0, 5, 0, 0, time.Local)
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.Local)
	src := &fakeSource{lectures: []calendar.Lecture{lectureAt("Analysis II", start)}}

	svc, store := newService(t, Config{LeadTime: 10 * time.Minute, HourOffset: 1}, src, func() time.Time { return now }, nil)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	snap := store.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d jobs, want 1", len(snap))
	}
	if got := snap[0].Slot.String(); got != "08:50" {
		t.Fatalf("fire slot = %s, want 08:50", got)
	}
}

func TestRefreshLookaheadBoundary(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 4, 0, 30, 0, 0, time.Local)
	src := &fakeSource{lectures: []calendar.Lecture{
		lectureAt("Soon", now.Add(23*time.Hour)),     // today 23:30
		lectureAt("Tomorrow", now.Add(25*time.Hour)), // past midnight
	}}

	svc, store := newService(t, Config{LeadTime: 10 * time.Minute}, src, func() time.Time { return now }, nil)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	snap := store.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d jobs, want only the one inside the day window", len(snap))
	}
	if snap[0].Name != "Soon" {
		t.Fatalf("scheduled %q, want %q", snap[0].Name, "Soon")
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 4, 0, 5, 0, 0, time.Local)
	src := &fakeSource{lectures: []calendar.Lecture{
		lectureAt("Analysis II", time.Date(2024, 3, 4, 10, 0, 0, 0, time.Local)),
		lectureAt("Quantum Mechanics/Lab", time.Date(2024, 3, 4, 14, 0, 0, 0, time.Local)),
	}}

	svc, store := newService(t, Config{LeadTime: 10 * time.Minute}, src, func() time.Time { return now }, nil)
	for i := 0; i < 2; i++ {
		if err := svc.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh #%d error: %v", i+1, err)
		}
	}

	snap := store.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("got %d jobs after two refreshes, want 2 (no duplicates)", len(snap))
	}
	if snap[0].Generation != snap[1].Generation || snap[0].Generation != svc.Generation() {
		t.Fatalf("jobs not all on current generation: %v", snap)
	}
}

func TestRefreshClearsStaleJobsEvenOnEmptyFetch(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 4, 0, 5, 0, 0, time.Local)
	src := &fakeSource{lectures: []calendar.Lecture{
		lectureAt("Analysis II", time.Date(2024, 3, 4, 10, 0, 0, 0, time.Local)),
	}}

	svc, store := newService(t, Config{}, src, func() time.Time { return now }, nil)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("got %d jobs, want 1", store.Len())
	}

	src.lectures = nil
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("stale jobs survived an empty refresh: %d left", store.Len())
	}
}

func TestRefreshFetchFailureLeavesBatchEmpty(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 4, 0, 5, 0, 0, time.Local)
	src := &fakeSource{lectures: []calendar.Lecture{
		lectureAt("Analysis II", time.Date(2024, 3, 4, 10, 0, 0, 0, time.Local)),
	}}

	svc, store := newService(t, Config{}, src, func() time.Time { return now }, nil)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	src.err = errors.New("upstream down")
	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected error from failed refresh")
	}
	if store.Len() != 0 {
		t.Fatalf("previous batch survived a failed refresh: %d jobs", store.Len())
	}
}

func TestInstallRegistersPermanentRefresh(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.Local)
	src := &fakeSource{}
	svc, store := newService(t, Config{RefreshAt: schedule.Slot{}}, src, func() time.Time { return now }, nil)

	if err := svc.Install(); err != nil {
		t.Fatalf("Install error: %v", err)
	}
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	// The refresh trigger must survive its own full-replace.
	snap := store.Snapshot()
	if len(snap) != 1 || snap[0].Name != "timetable.refresh" {
		t.Fatalf("snapshot = %v, want the permanent refresh job", snap)
	}
	if snap[0].Generation != schedule.PermanentGeneration {
		t.Fatalf("refresh job generation = %d, want permanent", snap[0].Generation)
	}
}

func TestEndToEndReminderFires(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 4, 13, 0, 0, 0, time.Local)
	start := time.Date(2024, 3, 4, 14, 0, 0, 0, time.Local)
	src := &fakeSource{lectures: []calendar.Lecture{lectureAt("Quantum Mechanics/Lab", start)}}

	var delivered []calendar.Lecture
	svc, store := newService(t, Config{LeadTime: 10 * time.Minute}, src,
		func() time.Time { return now },
		func(lec calendar.Lecture) { delivered = append(delivered, lec) },
	)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	fire := time.Date(2024, 3, 4, 13, 50, 2, 0, time.Local)
	due := store.DueNow(fire)
	if len(due) != 1 {
		t.Fatalf("got %d due jobs at 13:50, want 1", len(due))
	}
	if err := due[0].Run(context.Background()); err != nil {
		t.Fatalf("job run error: %v", err)
	}
	store.MarkFired(due[0], fire)

	if len(delivered) != 1 {
		t.Fatalf("delivered %d lectures, want 1", len(delivered))
	}
	if delivered[0].DisplayTitle() != "Quantum Mechanics" {
		t.Fatalf("delivered title = %q", delivered[0].DisplayTitle())
	}
	if due := store.DueNow(fire.Add(30 * time.Second)); len(due) != 0 {
		t.Fatalf("reminder due again within the same day")
	}
}
