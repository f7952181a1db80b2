package render

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolveClick(t *testing.T) {
	t.Parallel()
	launcher := StaticLauncher{"com.example.wallet": ""}
	p := Payload{ID: 3, ItemName: "Sunflower", Category: CategoryProduction, Count: 1}

	tests := []struct {
		name  string
		prefs Preferences
		want  ClickAction
	}{
		{
			name:  "notifications only off opens primary app",
			prefs: Preferences{Companion: CompanionApp{AppToOpen: "com.example.wallet"}},
			want:  ClickAction{Kind: ClickOpenApp},
		},
		{
			name:  "predefined companion resolves",
			prefs: Preferences{NotificationsOnly: true, Companion: CompanionApp{AppToOpen: "com.example.wallet"}},
			want:  ClickAction{Kind: ClickOpenConfiguredApp, Target: &LaunchTarget{Package: "com.example.wallet"}},
		},
		{
			name: "custom companion",
			prefs: Preferences{NotificationsOnly: true, Companion: CompanionApp{
				AppToOpen: AppToOpenCustom, CustomPackage: "org.farm", CustomActivity: "org.farm.Main",
			}},
			want: ClickAction{Kind: ClickOpenConfiguredApp, Target: &LaunchTarget{Package: "org.farm", Activity: "org.farm.Main"}},
		},
		{
			name:  "custom companion missing activity broadcasts",
			prefs: Preferences{NotificationsOnly: true, Companion: CompanionApp{AppToOpen: AppToOpenCustom, CustomPackage: "org.farm"}},
			want:  ClickAction{Kind: ClickBroadcast, Payload: &p},
		},
		{
			name:  "unknown package broadcasts",
			prefs: Preferences{NotificationsOnly: true, Companion: CompanionApp{AppToOpen: "com.missing"}},
			want:  ClickAction{Kind: ClickBroadcast, Payload: &p},
		},
		{
			name:  "no companion broadcasts",
			prefs: Preferences{NotificationsOnly: true},
			want:  ClickAction{Kind: ClickBroadcast, Payload: &p},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ResolveClick(p, tt.prefs, launcher)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("ResolveClick mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveTap(t *testing.T) {
	t.Parallel()
	launcher := StaticLauncher{"com.example.wallet": "com.example.wallet.Home"}

	got, unresolved := ResolveTap(Preferences{NotificationsOnly: true, Companion: CompanionApp{AppToOpen: "com.example.wallet"}}, launcher)
	if unresolved || got.Kind != ClickOpenConfiguredApp || got.Target.String() != "com.example.wallet/com.example.wallet.Home" {
		t.Fatalf("ResolveTap = %+v unresolved=%v", got, unresolved)
	}

	got, unresolved = ResolveTap(Preferences{NotificationsOnly: true, Companion: CompanionApp{AppToOpen: "com.gone"}}, launcher)
	if !unresolved || got.Kind != ClickOpenApp {
		t.Fatalf("unresolvable companion: got %+v unresolved=%v", got, unresolved)
	}

	got, unresolved = ResolveTap(Preferences{NotificationsOnly: true}, nil)
	if unresolved || got.Kind != ClickOpenApp {
		t.Fatalf("no companion: got %+v unresolved=%v", got, unresolved)
	}

	got, unresolved = ResolveTap(Preferences{NotificationsOnly: true, Companion: CompanionApp{AppToOpen: "com.example.wallet"}}, nil)
	if !unresolved || got.Kind != ClickOpenApp {
		t.Fatalf("nil launcher: got %+v unresolved=%v", got, unresolved)
	}
}

func TestClickKindJSON(t *testing.T) {
	t.Parallel()
	in := ClickAction{Kind: ClickBroadcast}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"kind":"broadcast"}` {
		t.Fatalf("marshal = %s", b)
	}
	var k ClickKind
	if err := k.UnmarshalText([]byte("teleport")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
