package render

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	logx "sflnotify/pkg/logx"
)

func TestIconLookup(t *testing.T) {
	t.Parallel()
	set := NewIconSet([]string{"ic_sunflower", "ic_sunflower_cake"}, logx.Nop())

	tests := []struct {
		key  string
		want string
	}{
		{"Composter", "ic_sprout_mix"},
		{"Premium Composter", "ic_rapid_root"},
		{"Flower Token", "ic_flower_token"},
		{"Grease Lightning", "ic_grease_lightning"},
		{"Beehive 3", "ic_beehive"},
		{"Beehive Swarm", "ic_beehive"},
		{"Sunflower", "ic_sunflower"},
		{"Sunflower Cake", "ic_sunflower_cake"},
		{"Kale", DefaultIcon},
		{"", DefaultIcon},
	}
	for _, tt := range tests {
		if got := set.Lookup(tt.key); got != tt.want {
			t.Fatalf("Lookup(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestIconLookupIsTotal(t *testing.T) {
	t.Parallel()
	var nilSet *IconSet
	inputs := []string{"", " ", "???", "ünïcödé", "Beehive", "a b c", "Gem"}
	for _, in := range inputs {
		for _, set := range []*IconSet{nilSet, NewIconSet(nil, logx.Nop())} {
			if got := set.Lookup(in); got == "" {
				t.Fatalf("Lookup(%q) returned empty resource", in)
			}
		}
	}
	if got := nilSet.Lookup("Gem"); got != "ic_gem" {
		t.Fatalf("nil set should still resolve the special table, got %q", got)
	}
}

func TestResourceName(t *testing.T) {
	t.Parallel()
	if got := ResourceName("Sunflower Cake"); got != "ic_sunflower_cake" {
		t.Fatalf("ResourceName = %q", got)
	}
}

func TestLoadIconDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"ic_gem.png", "ic_kale.webp", "readme.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "ic_dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := LoadIconDir(dir)
	if err != nil {
		t.Fatalf("LoadIconDir: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "ic_gem" || got[1] != "ic_kale" {
		t.Fatalf("LoadIconDir = %v", got)
	}
	if set := NewIconSet(got, logx.Nop()); set.Len() != 2 || !set.Has("ic_kale") {
		t.Fatalf("icon set not indexed: len=%d", set.Len())
	}
}
