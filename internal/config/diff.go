package config

import (
	"reflect"
	"sort"
	"strings"

	logx "aulabot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	tokenChanged := oldCfg.Telegram.Token != newCfg.Telegram.Token
	if tokenChanged ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.NotifyChat != newCfg.Telegram.NotifyChat ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.notify_chat_set", newCfg.Telegram.NotifyChat != 0),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Calendar (URLs may carry tokens in query strings; log names only)
	if !reflect.DeepEqual(oldCfg.Calendar.Sources, newCfg.Calendar.Sources) ||
		strings.TrimSpace(oldCfg.Calendar.DefaultSource) != strings.TrimSpace(newCfg.Calendar.DefaultSource) ||
		strings.TrimSpace(oldCfg.Calendar.HTTPTimeout) != strings.TrimSpace(newCfg.Calendar.HTTPTimeout) {
		changed = append(changed, "calendar")
		attrs = append(attrs,
			logx.Int("calendar.source_count", len(newCfg.Calendar.Sources)),
			logx.String("calendar.default_source", strings.TrimSpace(newCfg.Calendar.DefaultSource)),
		)
	}

	// Notify (reminder timing + delivery pipeline)
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.String("notify.lead_time", strings.TrimSpace(newCfg.Notify.LeadTime)),
			logx.Int("notify.hour_offset", newCfg.Notify.HourOffset),
			logx.String("notify.refresh_at", strings.TrimSpace(newCfg.Notify.RefreshAt)),
			logx.String("notify.poll_interval", strings.TrimSpace(newCfg.Notify.PollInterval)),
			logx.Int("notify.workers", newCfg.Notify.Workers),
			logx.Int("notify.queue_size", newCfg.Notify.QueueSize),
			logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec),
		)
	}

	// Storage (persistence). Nil means disabled.
	oldS := oldCfg.Storage
	newS := newCfg.Storage
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldS != nil {
		oDriver = strings.TrimSpace(oldS.Driver)
		oBusy = strings.TrimSpace(oldS.BusyTimeout)
		oPathSet = strings.TrimSpace(oldS.Path) != ""
	}
	if newS != nil {
		nDriver = strings.TrimSpace(newS.Driver)
		nBusy = strings.TrimSpace(newS.BusyTimeout)
		nPathSet = strings.TrimSpace(newS.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
