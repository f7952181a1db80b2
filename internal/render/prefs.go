package render

import "strings"

// AppToOpenCustom selects the explicit package + activity pair.
const AppToOpenCustom = "custom"

// CompanionApp is the app a notification tap should open while
// notifications-only mode is on.
//
// AppToOpen is empty (none), a predefined package id, or AppToOpenCustom.
type CompanionApp struct {
	AppToOpen      string `json:"app_to_open,omitempty"`
	CustomPackage  string `json:"custom_package,omitempty"`
	CustomActivity string `json:"custom_activity,omitempty"`
}

// Preferences is a read-only snapshot of the user's notification settings.
//
// Enabled is keyed by "category" or "category/item"; an item key wins over
// its category key and a missing key means enabled.
type Preferences struct {
	Enabled           map[string]bool
	NotificationsOnly bool
	Companion         CompanionApp
}

// PreferenceKey builds the per-item key used in Preferences.Enabled.
func PreferenceKey(category Category, item string) string {
	item = strings.TrimSpace(item)
	if item == "" {
		return string(category)
	}
	return string(category) + "/" + item
}

// Allows reports whether a payload of this category/item may be shown.
// The system category is never suppressible.
func (p Preferences) Allows(category Category, item string) bool {
	if category == CategorySystem {
		return true
	}
	if v, ok := p.Enabled[PreferenceKey(category, item)]; ok {
		return v
	}
	if v, ok := p.Enabled[string(category)]; ok {
		return v
	}
	return true
}
