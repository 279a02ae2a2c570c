package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "aulabot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if st == nil {
		t.Fatal("Open returned nil store for sqlite driver")
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want disabled", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestDeliveryRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	entries := []DeliveryEntry{
		{At: base, ChatID: -100, Kind: "announcement", Title: "Quantum Mechanics", Professor: "Bianchi", FireSlot: "13:50", OK: true},
		{At: base.Add(time.Minute), ChatID: -100, Kind: "broadcast", Title: "@everyone", OK: true},
		{At: base.Add(2 * time.Minute), ChatID: -100, Kind: "announcement", Title: "Analysis II", OK: false, Error: "chat not found"},
	}
	for _, e := range entries {
		if err := st.AppendDelivery(ctx, e); err != nil {
			t.Fatalf("AppendDelivery error: %v", err)
		}
	}

	n, err := st.CountDeliveries(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountDeliveries error: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}

	recent, err := st.RecentDeliveries(ctx, 2)
	if err != nil {
		t.Fatalf("RecentDeliveries error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d recent entries, want 2", len(recent))
	}
	// Newest first.
	if recent[0].Title != "Analysis II" || recent[0].OK {
		t.Fatalf("unexpected newest entry: %+v", recent[0])
	}
	if recent[0].Error != "chat not found" {
		t.Fatalf("error column lost: %+v", recent[0])
	}
}
