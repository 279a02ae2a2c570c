package notifier

import "time"

// Config controls the async delivery pipeline.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int

	// ChatID is the chat that receives announcements.
	ChatID int64

	// Broadcast is the attention marker sent after each announcement.
	// Empty means the default "@everyone"; "-" disables the marker.
	Broadcast string
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// DeliveryEvent is emitted on the event bus for delivery lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type DeliveryEvent struct {
	ChatID int64     `json:"chat_id"`
	Kind   string    `json:"kind"`
	Title  string    `json:"title,omitempty"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
