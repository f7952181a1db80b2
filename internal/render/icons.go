package render

import (
	"os"
	"path/filepath"
	"strings"

	logx "sflnotify/pkg/logx"
)

// DefaultIcon is the generic info icon used whenever no item icon exists.
const DefaultIcon = "ic_dialog_info"

// Semantic icon keys with fixed meaning in the dispatch rules.
const (
	IconMarketplace = "Marketplace"
	IconFlowerToken = "Flower Token"
	IconGem         = "Gem"
	IconPetCookie   = "Pet Cookie"
	IconSickAnimals = "Sick Animals"
)

// specialIcons maps exact item names to resources whose names don't follow
// the ic_<snake_case> convention (composter tiers show their product).
var specialIcons = map[string]string{
	"Compost Bin":       "ic_sprout_mix",
	"Composter":         "ic_sprout_mix",
	"Turbo Composter":   "ic_fruitful_blend",
	"Premium Composter": "ic_rapid_root",
	IconMarketplace:     "ic_marketplace",
	"Floating Island":   "ic_marketplace",
	itemLoveIslandShop:  "ic_marketplace",
	IconFlowerToken:     "ic_flower_token",
	IconGem:             "ic_gem",
	IconPetCookie:       "ic_pet_cookie",
	IconSickAnimals:     "ic_chicken",
	"Beehive Swarm":     "ic_beehive",
	"Beehive Full":      "ic_beehive",
	// skill cooldowns
	"Instant Growth":        "ic_instant_growth",
	"Tree Blitz":            "ic_tree_blitz",
	"Instant Gratification": "ic_instant_gratification",
	"Barnyard Rouse":        "ic_barnyard_rouse",
	"Petal Blessed":         "ic_petal_blessed",
	"Greenhouse Guru":       "ic_greenhouse_guru",
	"Grease Lightning":      "ic_grease_lightning",
}

const beehivePrefix = "Beehive"

// IconSet resolves icon keys to resource names.
//
// It is built once at startup from the resources that actually ship and is
// read-only afterwards. A nil *IconSet resolves only the special table.
type IconSet struct {
	available map[string]struct{}
	log       logx.Logger
}

// NewIconSet indexes the given resource names (e.g. "ic_sunflower").
func NewIconSet(resources []string, log logx.Logger) *IconSet {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &IconSet{available: make(map[string]struct{}, len(resources)), log: log}
	for _, r := range resources {
		r = strings.TrimSpace(r)
		if r != "" {
			s.available[r] = struct{}{}
		}
	}
	return s
}

// LoadIconDir lists icon resources in dir: every regular file named ic_*,
// with its extension stripped.
func LoadIconDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if strings.HasPrefix(name, "ic_") {
			out = append(out, name)
		}
	}
	return out, nil
}

// Len reports how many resources were indexed.
func (s *IconSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.available)
}

// Has reports whether resource ships with the app.
func (s *IconSet) Has(resource string) bool {
	if s == nil {
		return false
	}
	_, ok := s.available[resource]
	return ok
}

// Lookup resolves an icon key to a resource name. It never fails: unknown
// names resolve to DefaultIcon.
func (s *IconSet) Lookup(key string) string {
	if key == "" {
		return DefaultIcon
	}
	if res, ok := specialIcons[key]; ok {
		return res
	}
	if strings.HasPrefix(key, beehivePrefix) {
		return specialIcons["Beehive Full"]
	}
	res := ResourceName(key)
	if s.Has(res) {
		return res
	}
	if s != nil {
		s.log.Debug("no icon for item; using default", logx.String("item", key), logx.String("resource", res))
	}
	return DefaultIcon
}

// ResourceName derives the conventional resource name for an item:
// "Sunflower Cake" -> "ic_sunflower_cake".
func ResourceName(item string) string {
	return "ic_" + strings.ReplaceAll(strings.ToLower(item), " ", "_")
}
