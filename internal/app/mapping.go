package app

import (
	"fmt"
	"strings"
	"time"

	"aulabot/internal/calendar"
	"aulabot/internal/config"
	"aulabot/internal/notifier"
	"aulabot/internal/reminder"
	"aulabot/internal/schedule"
	"aulabot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notify
	if n.Workers < 0 {
		return notifier.Config{}, fmt.Errorf("notify.workers must be >= 0")
	}
	if n.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notify.queue_size must be >= 0")
	}
	if n.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notify.rate_per_sec must be >= 0")
	}
	return notifier.Config{
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		ChatID:     cfg.Telegram.NotifyChat,
		Broadcast:  n.Broadcast,
	}, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	n := cfg.Notify

	lead, err := config.ParseDurationOrDefault("notify.lead_time", n.LeadTime, 10*time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	if lead < 0 {
		return reminder.Config{}, fmt.Errorf("notify.lead_time must be >= 0")
	}

	refreshAt := schedule.Slot{} // midnight
	if raw := strings.TrimSpace(n.RefreshAt); raw != "" {
		slot, err := schedule.ParseSlot(raw)
		if err != nil {
			return reminder.Config{}, fmt.Errorf("notify.refresh_at: %w", err)
		}
		refreshAt = slot
	}

	return reminder.Config{
		LeadTime:   lead,
		HourOffset: n.HourOffset,
		RefreshAt:  refreshAt,
	}, nil
}

// buildSources constructs the timetable fetchers and resolves the default
// source name. With a single configured source, it is the default implicitly.
func buildSources(cfg *config.Config) (map[string]*calendar.Source, string, error) {
	c := cfg.Calendar
	if len(c.Sources) == 0 {
		return nil, "", fmt.Errorf("calendar.sources must not be empty")
	}
	timeout, err := config.ParseDurationOrDefault("calendar.http_timeout", c.HTTPTimeout, 15*time.Second)
	if err != nil {
		return nil, "", err
	}

	sources := make(map[string]*calendar.Source, len(c.Sources))
	for name, url := range c.Sources {
		if strings.TrimSpace(url) == "" {
			return nil, "", fmt.Errorf("calendar.sources[%s]: empty url", name)
		}
		sources[name] = calendar.NewSource(name, url, timeout)
	}

	def := strings.TrimSpace(c.DefaultSource)
	if def == "" {
		if len(sources) == 1 {
			for name := range sources {
				def = name
			}
		} else {
			return nil, "", fmt.Errorf("calendar.default_source is required with multiple sources")
		}
	}
	if _, ok := sources[def]; !ok {
		return nil, "", fmt.Errorf("calendar.default_source %q not in calendar.sources", def)
	}
	return sources, def, nil
}

// validateConfig is the hot-reload gate: a config that fails here is rejected
// before commit, keeping the previous one live.
func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("notify.poll_interval", cfg.Notify.PollInterval); err != nil {
		return err
	}
	if _, _, err := buildSources(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
