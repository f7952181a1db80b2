package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	missing := filepath.Join(t.TempDir(), "none")
	rootCmd.SetArgs(append([]string{"--config", missing + ".json", "--env-file", missing + ".env"}, args...))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestRenderCommand(t *testing.T) {
	out := execute(t, `{"notificationId":1,"itemName":"Sunflower","category":"production","count":3}`, "render")
	var got struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Title != "Sunflower is ready!" || got.Body != "3 Sunflowers" {
		t.Fatalf("rendered = %+v", got)
	}
}

func TestRouteCommand(t *testing.T) {
	// Without a config the link mode defaults to notifications-only.
	if got := strings.TrimSpace(execute(t, "", "route", "https://sunflower-land.com/play")); got != "external" {
		t.Fatalf("route (default) = %q", got)
	}
	if got := strings.TrimSpace(execute(t, "", "route", "--notifications-only=false", "https://sunflower-land.com/play")); got != "in_app" {
		t.Fatalf("route (in app) = %q", got)
	}
	if got := strings.TrimSpace(execute(t, "", "route", "--notifications-only", "https://sunflower-land.com/play")); got != "external" {
		t.Fatalf("route (notifications only) = %q", got)
	}
}

func TestSummaryCommandMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notification_summary.log")
	got := strings.TrimSpace(execute(t, "", "summary", "--file", path))
	if got != "No log file found: notification_summary.log" {
		t.Fatalf("summary = %q", got)
	}
}
