package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"sflnotify/internal/render"
)

// EnvTelegramToken overrides telegram.token so the secret can live in .env.
const EnvTelegramToken = "SFLNOTIFY_TELEGRAM_TOKEN"

// ApplyEnv fills secrets from the environment. getenv may be nil.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if tok := strings.TrimSpace(getenv(EnvTelegramToken)); tok != "" {
		cfg.Telegram.Token = tok
	}
}

// Validate checks everything that can be checked without opening resources.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := cfg.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}

	p := cfg.Preferences
	if strings.TrimSpace(p.AppToOpen) == render.AppToOpenCustom &&
		(strings.TrimSpace(p.CustomPackage) == "" || strings.TrimSpace(p.CustomActivity) == "") {
		errs = append(errs, errors.New("preferences: app_to_open=custom requires custom_package and custom_activity"))
	}
	for key := range p.Enabled {
		cat, _, _ := strings.Cut(key, "/")
		if strings.TrimSpace(cat) == "" {
			errs = append(errs, fmt.Errorf("preferences.enabled: empty category in key %q", key))
		}
	}

	n := cfg.NotifierOrDefault()
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
		errs = append(errs, errors.New("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0"))
	}
	for path, raw := range map[string]string{
		"notifier.retry_base":      n.RetryBase,
		"notifier.retry_max_delay": n.RetryMaxDelay,
		"notifier.dedup_window":    n.DedupWindow,
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"http.read_timeout":        cfg.HTTP.ReadTimeout,
		"http.write_timeout":       cfg.HTTP.WriteTimeout,
	} {
		if _, err := Duration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "off", "disabled", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := Duration("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, fmt.Errorf("telegram: token is required (or set %s)", EnvTelegramToken))
		}
		if cfg.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("telegram: chat_id is required"))
		}
	}

	if b := cfg.Batch; b != nil && (b.Workers < 0 || b.QueueSize < 0 || b.RatePerSec < 0 || b.RetryMax < 0) {
		errs = append(errs, errors.New("batch: workers, queue_size, rate_per_sec and retry_max must be >= 0"))
	}

	if h := cfg.Housekeeping; h != nil {
		if _, err := Duration("housekeeping.retention", h.Retention); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
