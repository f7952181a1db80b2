package config

import (
	"reflect"
	"sort"
	"strings"

	logx "sflnotify/pkg/logx"
)

// SummarizeConfigChange returns the sorted list of changed sections and safe
// structured attrs for logging. Secrets (tokens) are never included, only
// whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if !reflect.DeepEqual(oldCfg.Preferences, newCfg.Preferences) {
		changed = append(changed, "preferences")
		disabled := 0
		for _, v := range newCfg.Preferences.Enabled {
			if !v {
				disabled++
			}
		}
		attrs = append(attrs,
			logx.Bool("preferences.notifications_only", newCfg.Preferences.TapNotificationsOnly()),
			logx.String("preferences.app_to_open", strings.TrimSpace(newCfg.Preferences.AppToOpen)),
			logx.Int("preferences.disabled_count", disabled),
			logx.Int("preferences.known_apps", len(newCfg.Preferences.KnownApps)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Icons, newCfg.Icons) {
		changed = append(changed, "icons")
		attrs = append(attrs,
			logx.String("icons.dir", newCfg.Icons.Dir),
			logx.Int("icons.resources", len(newCfg.Icons.Resources)),
		)
	}

	oldN, newN := oldCfg.NotifierOrDefault(), newCfg.NotifierOrDefault()
	if oldN != newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled || ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) || ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Bool("telegram.chat_set", nt.ChatID != 0),
			logx.Int("telegram.thread_id", nt.ThreadID),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.ws_enabled", newCfg.HTTP.WS.Enabled),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	var oldH, newH HousekeepingConfig
	if oldCfg.Housekeeping != nil {
		oldH = *oldCfg.Housekeeping
	}
	if newCfg.Housekeeping != nil {
		newH = *newCfg.Housekeeping
	}
	if oldH != newH {
		changed = append(changed, "housekeeping")
		attrs = append(attrs,
			logx.Bool("housekeeping.enabled", newH.Enabled),
			logx.String("housekeeping.schedule", newH.Schedule),
			logx.String("housekeeping.retention", newH.Retention),
		)
	}

	var oldB, newB BatchConfig
	if oldCfg.Batch != nil {
		oldB = *oldCfg.Batch
	}
	if newCfg.Batch != nil {
		newB = *newCfg.Batch
	}
	if oldB != newB {
		changed = append(changed, "batch")
		attrs = append(attrs,
			logx.Bool("batch.enabled", newB.Enabled),
			logx.Int("batch.workers", newB.Workers),
			logx.Int("batch.queue_size", newB.QueueSize),
		)
	}

	if oldCfg.SummaryLog != newCfg.SummaryLog {
		changed = append(changed, "summary_log")
		attrs = append(attrs, logx.String("summary_log.path", newCfg.SummaryLog.Path))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	out := make([]string, 0, len(changed))
	for _, s := range changed {
		switch s {
		case "storage", "telegram":
			out = append(out, s)
		}
	}
	return out
}
