package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Calendar describes the upstream timetable feeds.
	Calendar CalendarConfig `json:"calendar"`

	// Notify controls reminder computation and the delivery pipeline.
	Notify NotifyConfig `json:"notify"`

	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// NotifyChat is the chat that receives lecture announcements.
	NotifyChat   int64   `json:"notify_chat"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CalendarConfig maps source names (e.g. "first", "second", "third") to
// timetable JSON URLs. Reminders follow DefaultSource; the /calendar command
// accepts any source name.
type CalendarConfig struct {
	Sources       map[string]string `json:"sources"`
	DefaultSource string            `json:"default_source"`

	// HTTPTimeout is a Go duration string (default "15s").
	HTTPTimeout string `json:"http_timeout,omitempty"`
}

// NotifyConfig controls reminder timing and the async delivery pipeline.
//
// All durations are Go duration strings (e.g. "10m", "10s").
type NotifyConfig struct {
	// LeadTime is how long before a lecture's start the reminder fires.
	LeadTime string `json:"lead_time"`

	// HourOffset is subtracted from the timetable's wall clock to get the
	// host wall clock (whole hours; the upstream feed publishes naive
	// timestamps in its own zone).
	HourOffset int `json:"hour_offset"`

	// RefreshAt is the daily full-replace slot, "HH:MM" (default "00:00").
	RefreshAt string `json:"refresh_at"`

	// PollInterval is the due-job polling period (default "10s").
	PollInterval string `json:"poll_interval"`

	// Broadcast is the attention marker sent after each announcement.
	// Empty means the default "@everyone"; set "-" to disable the marker.
	Broadcast string `json:"broadcast,omitempty"`

	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional persistence layer (delivery history).
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./aulabot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
