package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noopJob(context.Context) error { return nil }

func TestParseSlot(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    Slot
		wantErr bool
	}{
		{raw: "08:50", want: Slot{Hour: 8, Minute: 50}},
		{raw: "00:00", want: Slot{}},
		{raw: "23:59", want: Slot{Hour: 23, Minute: 59}},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "noon", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSlot(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidTime) {
				t.Fatalf("ParseSlot(%q): want ErrInvalidTime, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSlot(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseSlot(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestScheduleRejectsBadSlot(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.Schedule("bad", "25:00", 1, noopJob); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("want ErrInvalidTime, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("store not empty after rejected schedule")
	}
}

func TestDueNowMinuteGranularity(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.Local)
	s := New(WithClock(func() time.Time { return base }))
	if err := s.Schedule("quantum", "08:50", 1, noopJob); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	if due := s.DueNow(base); len(due) != 0 {
		t.Fatalf("job due at 08:00, want none")
	}
	if due := s.DueNow(base.Add(49 * time.Minute)); len(due) != 0 {
		t.Fatalf("job due at 08:49, want none")
	}
	fire := time.Date(2024, 3, 4, 8, 50, 7, 0, time.Local)
	due := s.DueNow(fire)
	if len(due) != 1 || due[0].Name != "quantum" {
		t.Fatalf("DueNow(08:50:07) = %d jobs, want the one scheduled", len(due))
	}
}

func TestMarkFiredAdvancesToNextDay(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.Local)
	s := New(WithClock(func() time.Time { return base }))
	if err := s.Schedule("quantum", "08:50", 1, noopJob); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	fire := time.Date(2024, 3, 4, 8, 50, 0, 0, time.Local)
	due := s.DueNow(fire)
	if len(due) != 1 {
		t.Fatalf("want 1 due job, got %d", len(due))
	}
	s.MarkFired(due[0], fire)

	if again := s.DueNow(fire.Add(time.Minute)); len(again) != 0 {
		t.Fatalf("job fired twice in the same day")
	}
	snap := s.Snapshot()
	wantNext := time.Date(2024, 3, 5, 8, 50, 0, 0, time.Local)
	if len(snap) != 1 || !snap[0].Next.Equal(wantNext) {
		t.Fatalf("next = %v, want %v", snap[0].Next, wantNext)
	}
}

func TestPastSlotSlipsToNextDay(t *testing.T) {
	t.Parallel()
	// Registering a slot already behind the clock lands on tomorrow.
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.Local)
	s := New(WithClock(func() time.Time { return base }))
	if err := s.Schedule("late", "08:50", 1, noopJob); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	snap := s.Snapshot()
	wantNext := time.Date(2024, 3, 5, 8, 50, 0, 0, time.Local)
	if len(snap) != 1 || !snap[0].Next.Equal(wantNext) {
		t.Fatalf("next = %v, want %v", snap[0].Next, wantNext)
	}
}

func TestClearGeneration(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.SchedulePermanent("refresh", "00:00", noopJob); err != nil {
		t.Fatalf("SchedulePermanent error: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if err := s.Schedule(name, "10:00", 1, noopJob); err != nil {
			t.Fatalf("Schedule error: %v", err)
		}
	}
	if err := s.Schedule("c", "11:00", 2, noopJob); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	if n := s.ClearGeneration(1); n != 2 {
		t.Fatalf("ClearGeneration(1) = %d, want 2", n)
	}
	if n := s.ClearGeneration(1); n != 0 {
		t.Fatalf("ClearGeneration(1) second call = %d, want 0 (idempotent)", n)
	}
	if n := s.ClearGeneration(PermanentGeneration); n != 0 {
		t.Fatalf("permanent jobs must never be cleared, removed %d", n)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (permanent + gen 2)", s.Len())
	}
}
