package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sflnotify/internal/config"
	"sflnotify/internal/housekeeping"
	"sflnotify/internal/notifier"
	"sflnotify/internal/render"
	"sflnotify/internal/storage"
	logx "sflnotify/pkg/logx"
)

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	got, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled || got.Workers != 2 || got.RetryBase != 500*time.Millisecond || got.DedupWindow != time.Minute {
		t.Fatalf("defaults = %+v", got)
	}

	got, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{
		Enabled: true, Workers: 4, RetryBase: "1s", DedupWindow: "5m", PersistDedup: true,
	}})
	if err != nil {
		t.Fatal(err)
	}
	want := notifier.Config{
		Enabled: true, Workers: 4, QueueSize: 512, RatePerSec: 3, RetryMax: 3,
		RetryBase: time.Second, RetryMaxDelay: 10 * time.Second, DedupWindow: 5 * time.Minute,
		DedupMaxEntries: 2000, PersistDedup: true, HistorySize: 200,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mapNotifierConfig (-want +got):\n%s", diff)
	}

	if _, err := mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{RetryBase: "later"}}); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      *config.StorageConfig
		want    storage.Config
		enabled bool
		wantErr bool
	}{
		{"omitted", nil, storage.Config{}, false, false},
		{"none", &config.StorageConfig{Driver: "none"}, storage.Config{}, false, false},
		{"file", &config.StorageConfig{Driver: "File", Path: " ./data/store.json "}, storage.Config{Driver: "file", Path: "./data/store.json"}, true, false},
		{"sqlite default busy", &config.StorageConfig{Driver: "sqlite", Path: "x.db"}, storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second}, true, false},
		{"sqlite without path", &config.StorageConfig{Driver: "sqlite"}, storage.Config{}, false, true},
		{"unknown", &config.StorageConfig{Driver: "redis", Path: "x"}, storage.Config{}, false, true},
	}
	for _, tc := range tests {
		got, enabled, err := mapStorageConfig(&config.Config{Storage: tc.in})
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
		if enabled != tc.enabled || got != tc.want {
			t.Fatalf("%s: got %+v, %v; want %+v, %v", tc.name, got, enabled, tc.want, tc.enabled)
		}
	}
}

func TestMapHousekeepingConfig(t *testing.T) {
	t.Parallel()
	got, err := mapHousekeepingConfig(&config.Config{
		Timezone:     "UTC",
		Housekeeping: &config.HousekeepingConfig{Enabled: true, Retention: "48h"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled || got.Schedule != housekeeping.DefaultSchedule || got.Retention != 48*time.Hour || got.Location != time.UTC {
		t.Fatalf("got %+v", got)
	}
	if _, err := mapHousekeepingConfig(&config.Config{Housekeeping: &config.HousekeepingConfig{Schedule: "every tuesday"}}); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestMapIngestConfig(t *testing.T) {
	t.Parallel()
	got, err := mapIngestConfig(&config.Config{HTTP: config.HTTPConfig{Enabled: true, Pprof: true}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Addr != "127.0.0.1:8787" || !got.Pprof || got.ReadTimeout != 10*time.Second {
		t.Fatalf("got %+v", got)
	}
	if _, err := mapIngestConfig(&config.Config{HTTP: config.HTTPConfig{Enabled: true, Addr: "8787"}}); err == nil {
		t.Fatal("expected addr error")
	}
}

func TestBuildRendererScansIconDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"ic_pizza.png", "ic_sunflower.webp", "readme.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{Icons: config.IconsConfig{Dir: dir}}
	r, err := BuildRenderer(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.Render(render.Payload{ID: 1, ItemName: "Sunflower", Category: render.CategoryProduction}, render.Preferences{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Icon != "ic_sunflower" {
		t.Fatalf("icon = %q", out.Icon)
	}

	if _, err := BuildRenderer(&config.Config{Timezone: "Nowhere/Special"}, logx.Nop()); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestFormatRecent(t *testing.T) {
	t.Parallel()
	if got := formatRecent(nil, time.UTC); got != "No deliveries yet." {
		t.Fatalf("empty = %q", got)
	}
	at := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	got := formatRecent([]storage.Delivery{
		{Title: "Sunflower is ready!", Status: storage.StatusDelivered, At: at},
		{Category: "cooking", Item: "Kitchen", Status: storage.StatusFailed, Error: "boom", At: at},
	}, time.UTC)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "Mar 9 14:05") || !strings.HasSuffix(lines[0], "Sunflower is ready!") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "cooking/Kitchen (boom)") {
		t.Fatalf("line 1 = %q", lines[1])
	}
}

func TestFormatStatus(t *testing.T) {
	t.Parallel()
	got := formatStatus(notifier.Stats{Enabled: true, Running: true, Queued: 2, QueueCap: 512}, 1)
	want := "Notifier: running\nQueue: 2/512\nLive clients: 1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := formatStatus(notifier.Stats{}, 0); !strings.HasPrefix(got, "Notifier: disabled") {
		t.Fatalf("disabled = %q", got)
	}
}

const appConfig = `{
  "logging": {"level": "error", "console": false, "file": {"enabled": true, "path": %q}},
  "timezone": "UTC",
  "preferences": {"enabled": {"cooking": false}},
  "icons": {"resources": ["ic_sunflower"]},
  "notifier": {"enabled": true, "workers": 1, "queue_size": 8, "rate_per_sec": 50, "retry_max": 1,
               "retry_base": "10ms", "retry_max_delay": "20ms", "dedup_window": "1m", "dedup_max_entries": 100},
  "storage": {"driver": "file", "path": %q},
  "housekeeping": {"enabled": true, "schedule": "@daily", "retention": "24h"},
  "batch": {"enabled": true, "workers": 1},
  "telegram": {"enabled": false, "chat_id": 0},
  "http": {"enabled": false, "ws": {"enabled": true}},
  "summary_log": {"path": %q}
}`

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(appConfig,
		filepath.Join(dir, "sflnotify.log"),
		filepath.Join(dir, "store.json"),
		filepath.Join(dir, "summary.log"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := a.Stop(stopCtx, StopAppStop); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	res, err := a.Notifier().Notify(ctx, render.Payload{ID: 3, ItemName: "Sunflower", Category: render.CategoryProduction, Count: 3})
	if err != nil || res.Status != notifier.StatusQueued {
		t.Fatalf("Notify = %+v, %v", res, err)
	}
	res, err = a.Notifier().Notify(ctx, render.Payload{ID: 4, ItemName: "Kitchen", Category: render.CategoryCooking})
	if err != nil || res.Status != notifier.StatusSuppressed {
		t.Fatalf("suppressed Notify = %+v, %v", res, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		ds, err := a.Notifier().Recent(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(ds) == 2 && ds[0].Status == storage.StatusDelivered {
			if ds[0].Title != "Sunflower is ready!" || ds[1].Status != storage.StatusSuppressed {
				t.Fatalf("deliveries = %+v", ds)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivery not recorded: %+v", ds)
		}
		time.Sleep(20 * time.Millisecond)
	}

	h, ok := a.health().(healthInfo)
	if !ok || !h.Storage || !h.Notifier.Running || h.NextPrune == nil {
		t.Fatalf("health = %+v", a.health())
	}
	if got := a.summaryPath(); got != filepath.Join(dir, "summary.log") {
		t.Fatalf("summaryPath = %q", got)
	}
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"timezone": "Mars/Olympus"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewApp(path); err == nil || !strings.Contains(err.Error(), "timezone") {
		t.Fatalf("NewApp = %v, want timezone error", err)
	}
	if _, err := NewApp(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config")
	}
}
