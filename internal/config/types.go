package config

import (
	"strings"
	"time"

	"sflnotify/internal/linkroute"
	"sflnotify/internal/render"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Timezone is an IANA name used for "Ends at" clock times and the
	// summary log. Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`

	Preferences PreferencesConfig `json:"preferences"`
	Icons       IconsConfig       `json:"icons"`

	Notifier     *NotifierConfig     `json:"notifier,omitempty"`
	Storage      *StorageConfig      `json:"storage,omitempty"`
	Telegram     TelegramConfig      `json:"telegram"`
	HTTP         HTTPConfig          `json:"http"`
	Housekeeping *HousekeepingConfig `json:"housekeeping,omitempty"`
	Batch        *BatchConfig        `json:"batch,omitempty"`
	SummaryLog   SummaryLogConfig    `json:"summary_log"`
}

// PreferencesConfig mirrors the user's notification settings.
//
// Enabled is keyed by "category" or "category/item" (e.g. "cooking",
// "production/Sunflower"). Missing keys are enabled. The system category
// can't be disabled.
//
// KnownApps maps predefined companion package ids to their launch activity;
// an empty activity means the package's default entry point.
//
// NotificationsOnly left unset means off for notification taps and on for
// link routing.
type PreferencesConfig struct {
	NotificationsOnly *bool             `json:"notifications_only,omitempty"`
	AppToOpen         string            `json:"app_to_open,omitempty"`
	CustomPackage     string            `json:"custom_package,omitempty"`
	CustomActivity    string            `json:"custom_activity,omitempty"`
	Enabled           map[string]bool   `json:"enabled,omitempty"`
	KnownApps         map[string]string `json:"known_apps,omitempty"`
}

// Snapshot returns a render.Preferences that shares nothing with p.
func (p PreferencesConfig) Snapshot() render.Preferences {
	enabled := make(map[string]bool, len(p.Enabled))
	for k, v := range p.Enabled {
		enabled[strings.TrimSpace(k)] = v
	}
	return render.Preferences{
		Enabled:           enabled,
		NotificationsOnly: p.TapNotificationsOnly(),
		Companion: render.CompanionApp{
			AppToOpen:      strings.TrimSpace(p.AppToOpen),
			CustomPackage:  strings.TrimSpace(p.CustomPackage),
			CustomActivity: strings.TrimSpace(p.CustomActivity),
		},
	}
}

// TapNotificationsOnly is the notifications-only mode for notification taps.
func (p PreferencesConfig) TapNotificationsOnly() bool {
	return p.NotificationsOnly != nil && *p.NotificationsOnly
}

// LinkNotificationsOnly is the notifications-only mode for tapped links.
func (p PreferencesConfig) LinkNotificationsOnly() bool {
	if p.NotificationsOnly == nil {
		return linkroute.DefaultNotificationsOnly
	}
	return *p.NotificationsOnly
}

// Launcher builds the package resolver for predefined companion apps.
func (p PreferencesConfig) Launcher() render.StaticLauncher {
	l := make(render.StaticLauncher, len(p.KnownApps))
	for pkg, act := range p.KnownApps {
		l[strings.TrimSpace(pkg)] = strings.TrimSpace(act)
	}
	return l
}

// IconsConfig lists which icon resources ship. Dir is scanned for ic_* files
// at startup; Resources adds names explicitly.
type IconsConfig struct {
	Dir       string   `json:"dir,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier runs with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// DefaultNotifier is used when the notifier section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
		HistorySize:     200,
	}
}

// StorageConfig controls delivery history and dedup persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./sflnotify.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TelegramConfig configures the Telegram presenter. The token may also come
// from SFLNOTIFY_TELEGRAM_TOKEN.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8787"
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string   `json:"token,omitempty"`
	WS    WSConfig `json:"ws"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`

	// AllowInsecure permits a non-loopback addr without a token.
	AllowInsecure bool `json:"allow_insecure,omitempty"`
	// Pprof mounts /debug/pprof behind the same token.
	Pprof bool `json:"pprof,omitempty"`
}

type WSConfig struct {
	Enabled bool `json:"enabled"`
	// Buffer is the per-client outbound queue length.
	Buffer int `json:"buffer,omitempty"`
}

// HousekeepingConfig schedules pruning of delivery history.
type HousekeepingConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (seconds optional) or descriptor like "@hourly".
	Schedule  string `json:"schedule,omitempty"`
	Retention string `json:"retention,omitempty"`
}

// BatchConfig controls bulk submission via POST /v1/notifications/batch.
type BatchConfig struct {
	Enabled    bool `json:"enabled"`
	Workers    int  `json:"workers,omitempty"`
	QueueSize  int  `json:"queue_size,omitempty"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`
	RetryMax   int  `json:"retry_max,omitempty"`
}

type SummaryLogConfig struct {
	Path string `json:"path,omitempty"`
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

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// NotifierOrDefault returns the notifier section, or defaults when omitted.
func (c *Config) NotifierOrDefault() NotifierConfig {
	if c.Notifier == nil {
		return DefaultNotifier()
	}
	return *c.Notifier
}
