package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sflnotify/internal/render"
)

const sampleJSON = `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "timezone": "UTC",
  "preferences": {
    "notifications_only": true,
    "app_to_open": "com.example.wallet",
    "enabled": {"cooking": false, "production/Sunflower": false},
    "known_apps": {"com.example.wallet": "com.example.wallet.Main"}
  },
  "icons": {"resources": ["ic_sunflower"]},
  "telegram": {"enabled": false, "chat_id": 0},
  "http": {"enabled": true, "addr": "127.0.0.1:0", "ws": {"enabled": true}},
  "summary_log": {"path": "./notification_summary.log"}
}`

const sampleYAML = `
logging:
  level: debug
  console: true
  file: {enabled: false, path: ""}
preferences:
  notifications_only: false
  enabled:
    auction: false
telegram:
  enabled: false
  chat_id: 0
http:
  enabled: false
  ws: {enabled: false}
summary_log: {}
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeConfig(t, "config.json", sampleJSON))
	m.getenv = func(string) string { return "" }
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the config")
	}

	want := render.Preferences{
		Enabled:           map[string]bool{"cooking": false, "production/Sunflower": false},
		NotificationsOnly: true,
		Companion:         render.CompanionApp{AppToOpen: "com.example.wallet"},
	}
	if diff := cmp.Diff(want, cfg.Preferences.Snapshot()); diff != "" {
		t.Fatalf("Snapshot mismatch (-want +got):\n%s", diff)
	}
	target, ok := cfg.Preferences.Launcher().LaunchTarget("com.example.wallet")
	if !ok || target.Activity != "com.example.wallet.Main" {
		t.Fatalf("Launcher = %+v ok=%v", target, ok)
	}
	if loc, err := cfg.Location(); err != nil || loc.String() != "UTC" {
		t.Fatalf("Location = %v, %v", loc, err)
	}
	if got := cfg.NotifierOrDefault(); got != DefaultNotifier() {
		t.Fatalf("omitted notifier section should use defaults, got %+v", got)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeConfig(t, "config.yaml", sampleYAML))
	m.getenv = func(string) string { return "" }
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Level = %q", cfg.Logging.Level)
	}
	if v, ok := cfg.Preferences.Enabled["auction"]; !ok || v {
		t.Fatalf("preferences.enabled.auction = %v ok=%v", v, ok)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"unknown.json":  `{"logging": {"level": "info"}, "pprof": {}}`,
		"trailing.json": `{"logging": {"level": "info"}} {}`,
		"unknown.yaml":  "logging:\n  level: info\n  telegram: {}\n",
		"dupkey.yaml":   "logging:\n  level: info\n  level: debug\n",
	} {
		m := NewConfigManager(writeConfig(t, name, body))
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := &Config{Telegram: TelegramConfig{Token: "from-file"}}
	ApplyEnv(cfg, func(k string) string {
		if k == EnvTelegramToken {
			return " from-env "
		}
		return ""
	})
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	ApplyEnv(cfg, func(string) string { return "" })
	if cfg.Telegram.Token != "from-env" {
		t.Fatal("empty env must not clear the token")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bad timezone", Config{Timezone: "Mars/Olympus"}, "timezone"},
		{"custom app incomplete", Config{Preferences: PreferencesConfig{AppToOpen: "custom", CustomPackage: "a"}}, "custom_package"},
		{"bad duration", Config{Notifier: &NotifierConfig{RetryBase: "soon"}}, "notifier.retry_base"},
		{"negative workers", Config{Notifier: &NotifierConfig{Workers: -1}}, "workers"},
		{"unknown driver", Config{Storage: &StorageConfig{Driver: "redis"}}, "storage.driver"},
		{"telegram without token", Config{Telegram: TelegramConfig{Enabled: true, ChatID: 1}}, "token is required"},
		{"empty preference category", Config{Preferences: PreferencesConfig{Enabled: map[string]bool{"/Sunflower": false}}}, "empty category"},
	}
	for _, tt := range tests {
		err := Validate(&tt.cfg)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: Validate = %v, want error containing %q", tt.name, err, tt.want)
		}
	}
	if err := Validate(&Config{}); err != nil {
		t.Fatalf("zero config should be valid: %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}}
	newCfg := &Config{
		Telegram:    TelegramConfig{Token: "b"},
		Preferences: PreferencesConfig{Enabled: map[string]bool{"cooking": false}},
		Storage:     &StorageConfig{Driver: "file", Path: "./data"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if diff := cmp.Diff([]string{"preferences", "storage", "telegram"}, changed); diff != "" {
		t.Fatalf("changed mismatch (-want +got):\n%s", diff)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if diff := cmp.Diff([]string{"storage", "telegram"}, RestartRequired(changed)); diff != "" {
		t.Fatalf("RestartRequired mismatch (-want +got):\n%s", diff)
	}

	if changed, _ := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", sampleJSON)
	m := NewConfigManager(path)
	m.getenv = func(string) string { return "" }
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(sampleJSON, `"level": "info"`, `"level": "debug"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reload was not committed")
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", sampleJSON)
	m := NewConfigManager(path)
	m.getenv = func(string) string { return "" }
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	before := m.Get()

	if err := os.WriteFile(path, []byte(strings.Replace(sampleJSON, `"UTC"`, `"Nowhere/Land"`, 1)), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())
	if m.Get() != before {
		t.Fatal("invalid config must not be committed")
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join("..", "..", "config.example.json"))
	m.getenv = func(string) string { return "" }
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("config.example.json: %v", err)
	}
	if cfg.Batch == nil || !cfg.Batch.Enabled || cfg.HTTP.Addr != "127.0.0.1:8787" {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
}

func TestNotificationsOnlyDefaults(t *testing.T) {
	t.Parallel()
	on, off := true, false
	tests := []struct {
		name      string
		in        *bool
		tap, link bool
	}{
		{"unset", nil, false, true},
		{"on", &on, true, true},
		{"off", &off, false, false},
	}
	for _, tc := range tests {
		p := PreferencesConfig{NotificationsOnly: tc.in}
		if got := p.TapNotificationsOnly(); got != tc.tap {
			t.Errorf("%s: TapNotificationsOnly = %v, want %v", tc.name, got, tc.tap)
		}
		if got := p.LinkNotificationsOnly(); got != tc.link {
			t.Errorf("%s: LinkNotificationsOnly = %v, want %v", tc.name, got, tc.link)
		}
		if got := p.Snapshot().NotificationsOnly; got != tc.tap {
			t.Errorf("%s: Snapshot().NotificationsOnly = %v, want %v", tc.name, got, tc.tap)
		}
	}
}

func TestYAMLErrorsCarryLine(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.yml", []byte("logging:\n  level: info\npreferences:\n  enabled:\n    cooking: false\n    cooking: true\n"))
	if err == nil || !strings.Contains(err.Error(), "line 6") {
		t.Fatalf("duplicate key error = %v, want line 6", err)
	}

	cfg, err := Decode("config.yaml", []byte(""))
	if err != nil || cfg.Logging.Level != "" {
		t.Fatalf("empty yaml = %+v, %v", cfg, err)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 90s ", 90 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"0d", 0, false},
		{"1.5d", 0, true},
		{"-1d", 0, true},
		{"-5s", 0, true},
		{"d", 0, true},
		{"1dx", 0, true},
		{"later", 0, true},
		{"999999999d", 0, true},
	}
	for _, tc := range tests {
		got, err := Duration("housekeeping.retention", tc.raw)
		if (err != nil) != tc.wantErr {
			t.Errorf("Duration(%q) err = %v, wantErr %v", tc.raw, err, tc.wantErr)
			continue
		}
		if err != nil && !strings.HasPrefix(err.Error(), "housekeeping.retention: ") {
			t.Errorf("Duration(%q) error %q should name the field", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("Duration(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}

	if got, err := DurationOr("notifier.dedup_window", "0s", time.Minute); err != nil || got != time.Minute {
		t.Fatalf("DurationOr zero = %v, %v", got, err)
	}
}
