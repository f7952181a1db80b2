package render

import (
	"fmt"
	"strings"
)

// ClickKind is what tapping a rendered notification does.
type ClickKind int

const (
	// ClickOpenApp opens the primary (game) app.
	ClickOpenApp ClickKind = iota
	// ClickOpenConfiguredApp opens the companion app chosen in preferences.
	ClickOpenConfiguredApp
	// ClickBroadcast re-delivers the same payload so the launch target can be
	// resolved again when the user taps.
	ClickBroadcast
)

func (k ClickKind) String() string {
	switch k {
	case ClickOpenApp:
		return "open_app"
	case ClickOpenConfiguredApp:
		return "open_configured_app"
	case ClickBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("ClickKind(%d)", int(k))
	}
}

func (k ClickKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ClickKind) UnmarshalText(b []byte) error {
	switch strings.TrimSpace(string(b)) {
	case "open_app", "":
		*k = ClickOpenApp
	case "open_configured_app":
		*k = ClickOpenConfiguredApp
	case "broadcast":
		*k = ClickBroadcast
	default:
		return fmt.Errorf("unknown click kind %q", string(b))
	}
	return nil
}

// LaunchTarget identifies an installed app entry point.
type LaunchTarget struct {
	Package  string `json:"package"`
	Activity string `json:"activity,omitempty"`
}

func (t LaunchTarget) String() string {
	if t.Activity == "" {
		return t.Package
	}
	return t.Package + "/" + t.Activity
}

// ClickAction is the resolved tap behavior.
// Target is set for ClickOpenConfiguredApp, Payload for ClickBroadcast.
type ClickAction struct {
	Kind    ClickKind     `json:"kind"`
	Target  *LaunchTarget `json:"target,omitempty"`
	Payload *Payload      `json:"payload,omitempty"`
}

// Launcher resolves a package id to its launch entry point.
type Launcher interface {
	LaunchTarget(pkg string) (LaunchTarget, bool)
}

// StaticLauncher is a Launcher backed by a fixed package -> activity table.
// An empty activity means the package's default entry point.
type StaticLauncher map[string]string

func (l StaticLauncher) LaunchTarget(pkg string) (LaunchTarget, bool) {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return LaunchTarget{}, false
	}
	act, ok := l[pkg]
	if !ok {
		return LaunchTarget{}, false
	}
	return LaunchTarget{Package: pkg, Activity: act}, true
}

// configuredTarget resolves the companion app from preferences.
// tried reports whether any companion app was configured at all.
func configuredTarget(prefs Preferences, launcher Launcher) (target LaunchTarget, ok, tried bool) {
	app := strings.TrimSpace(prefs.Companion.AppToOpen)
	switch {
	case app == AppToOpenCustom:
		pkg := strings.TrimSpace(prefs.Companion.CustomPackage)
		act := strings.TrimSpace(prefs.Companion.CustomActivity)
		if pkg == "" || act == "" {
			return LaunchTarget{}, false, false
		}
		return LaunchTarget{Package: pkg, Activity: act}, true, true
	case app != "":
		if launcher == nil {
			return LaunchTarget{}, false, true
		}
		t, ok := launcher.LaunchTarget(app)
		return t, ok, true
	default:
		return LaunchTarget{}, false, false
	}
}

// ResolveClick picks the click action attached when a notification is shown.
//
// Outside notifications-only mode the primary app always opens. Inside it,
// the configured companion app opens if it resolves; otherwise the action
// re-delivers p so the tap can retry resolution.
func ResolveClick(p Payload, prefs Preferences, launcher Launcher) ClickAction {
	if !prefs.NotificationsOnly {
		return ClickAction{Kind: ClickOpenApp}
	}
	if t, ok, _ := configuredTarget(prefs, launcher); ok {
		return ClickAction{Kind: ClickOpenConfiguredApp, Target: &t}
	}
	cp := p
	return ClickAction{Kind: ClickBroadcast, Payload: &cp}
}

// ResolveTap handles a tap on a ClickBroadcast notification: it retries the
// companion app and falls back to the primary app. unresolved reports
// whether a companion app was configured but could not be resolved.
func ResolveTap(prefs Preferences, launcher Launcher) (action ClickAction, unresolved bool) {
	if !prefs.NotificationsOnly {
		return ClickAction{Kind: ClickOpenApp}, false
	}
	t, ok, tried := configuredTarget(prefs, launcher)
	if ok {
		return ClickAction{Kind: ClickOpenConfiguredApp, Target: &t}, false
	}
	return ClickAction{Kind: ClickOpenApp}, tried
}
