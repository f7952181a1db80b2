package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"sflnotify/internal/config"
	"sflnotify/internal/housekeeping"
	"sflnotify/internal/ingest"
	"sflnotify/internal/notifier"
	"sflnotify/internal/notifier/batch"
	"sflnotify/internal/render"
	"sflnotify/internal/storage"
	"sflnotify/internal/transport/telegram"
	logx "sflnotify/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapNotifierConfig parses durations and fills defaults for zero values.
// An omitted notifier section means enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	def := config.DefaultNotifier()
	out := notifier.Config{
		Enabled:         true,
		Workers:         def.Workers,
		QueueSize:       def.QueueSize,
		RatePerSec:      def.RatePerSec,
		RetryMax:        def.RetryMax,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: def.DedupMaxEntries,
		HistorySize:     def.HistorySize,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}
	if n.HistorySize != 0 {
		out.HistorySize = n.HistorySize
	}

	var err error
	if out.RetryBase, err = config.DurationOr("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.DurationOr("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.DurationOr("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}

	if out.Workers < 0 || out.QueueSize < 0 || out.RatePerSec < 0 || out.RetryMax < 0 || out.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	return out, nil
}

func mapBatchConfig(cfg *config.Config) batch.Config {
	if cfg == nil || cfg.Batch == nil {
		return batch.Config{}
	}
	b := cfg.Batch
	return batch.Config{
		Enabled:    b.Enabled,
		Workers:    b.Workers,
		QueueSize:  b.QueueSize,
		RatePerSec: b.RatePerSec,
		RetryMax:   b.RetryMax,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "off", "disabled":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapHousekeepingConfig(cfg *config.Config) (housekeeping.Config, error) {
	var out housekeeping.Config
	if cfg == nil || cfg.Housekeeping == nil {
		return out, nil
	}
	h := cfg.Housekeeping
	out.Enabled = h.Enabled
	out.Schedule = strings.TrimSpace(h.Schedule)
	if out.Schedule == "" {
		out.Schedule = housekeeping.DefaultSchedule
	}
	if err := housekeeping.ValidateSchedule(out.Schedule); err != nil {
		return housekeeping.Config{}, fmt.Errorf("housekeeping.schedule: %w", err)
	}
	ret, err := config.DurationOr("housekeeping.retention", h.Retention, housekeeping.DefaultRetention)
	if err != nil {
		return housekeeping.Config{}, err
	}
	out.Retention = ret
	if out.Location, err = cfg.Location(); err != nil {
		return housekeeping.Config{}, fmt.Errorf("timezone: %w", err)
	}
	return out, nil
}

// mapIngestConfig never starts the server; it only validates and converts.
func mapIngestConfig(cfg *config.Config) (ingest.Config, error) {
	var out ingest.Config
	if cfg == nil {
		return out, nil
	}
	hc := cfg.HTTP
	out.Enabled = hc.Enabled
	out.Token = strings.TrimSpace(hc.Token)
	out.AllowInsecure = hc.AllowInsecure
	out.Pprof = hc.Pprof
	out.Addr = strings.TrimSpace(hc.Addr)
	if out.Addr == "" {
		out.Addr = ingest.DefaultAddr
	}

	var err error
	if out.ReadTimeout, err = config.DurationOr("http.read_timeout", hc.ReadTimeout, 10*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.DurationOr("http.write_timeout", hc.WriteTimeout, 15*time.Second); err != nil {
		return out, err
	}

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("http.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
	}
	return out, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Telegram
	poll, err := config.DurationOr("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(tc.Token),
		ChatID:      tc.ChatID,
		ThreadID:    tc.ThreadID,
		PollTimeout: poll,
	}, nil
}

// BuildRenderer indexes icon resources and binds the renderer to the
// configured zone and companion app table. A missing icon dir is logged and
// leaves only the configured resource list.
func BuildRenderer(cfg *config.Config, log logx.Logger) (*render.Renderer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	resources := append([]string(nil), cfg.Icons.Resources...)
	if dir := strings.TrimSpace(cfg.Icons.Dir); dir != "" {
		found, err := render.LoadIconDir(dir)
		if err != nil {
			log.Warn("icon dir unreadable; using configured resources only", logx.String("dir", dir), logx.Err(err))
		} else {
			resources = append(resources, found...)
		}
	}
	icons := render.NewIconSet(resources, log)
	log.Debug("icons indexed", logx.Int("count", icons.Len()))
	return render.NewRenderer(icons,
		render.WithLocation(loc),
		render.WithLauncher(cfg.Preferences.Launcher()),
		render.WithLogger(log),
	), nil
}
