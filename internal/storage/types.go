package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// DeliveryEntry records one announcement handed to the chat transport.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	At        time.Time
	ChatID    int64
	Kind      string // "announcement" | "broadcast"
	Title     string
	Professor string
	FireSlot  string
	OK        bool
	Error     string
}
