package render

import "strings"

// Category is the tag identifying which game subsystem produced a payload.
type Category string

const (
	CategorySystem         Category = "system"
	CategoryMarketplace    Category = "marketplace"
	CategoryFloatingIsland Category = "floating_island"
	CategoryAuction        Category = "auction"
	CategoryComposters     Category = "composters"
	CategoryCooking        Category = "cooking"
	CategoryCrafting       Category = "crafting"
	CategoryAnimalSick     Category = "animal_sick"
	CategorySunstones      Category = "Sunstones"
	CategoryDailyReset     Category = "Daily Reset"
	// CategoryProduction is the default: crops, fruits, animals, buildings...
	CategoryProduction Category = "production"
)

var knownCategories = map[Category]struct{}{
	CategorySystem:         {},
	CategoryMarketplace:    {},
	CategoryFloatingIsland: {},
	CategoryAuction:        {},
	CategoryComposters:     {},
	CategoryCooking:        {},
	CategoryCrafting:       {},
	CategoryAnimalSick:     {},
	CategorySunstones:      {},
	CategoryDailyReset:     {},
	CategoryProduction:     {},
}

// Kind folds unknown tags into CategoryProduction. The raw tag is still used
// for preference lookups.
func (c Category) Kind() Category {
	if _, ok := knownCategories[c]; ok {
		return c
	}
	return CategoryProduction
}

// Categories lists the closed tag set in a stable order.
func Categories() []Category {
	return []Category{
		CategorySystem, CategoryMarketplace, CategoryFloatingIsland, CategoryAuction,
		CategoryComposters, CategoryCooking, CategoryCrafting, CategoryAnimalSick,
		CategorySunstones, CategoryDailyReset, CategoryProduction,
	}
}

const (
	itemAPIResponse       = "API Response"
	itemLoveIslandShop    = "Love Island Shop"
	groupAnimalLoveMarker = "animal love at"
	detailsSeparator      = "|"
)

// Payload is one notification event. Empty strings mean "absent".
//
// JSON keys match the extras the game client attaches to a scheduled alarm.
type Payload struct {
	ID       int      `json:"notificationId"`
	Title    string   `json:"title,omitempty"`
	Body     string   `json:"body,omitempty"`
	ItemName string   `json:"itemName"`
	Category Category `json:"category"`
	GroupID  string   `json:"groupId,omitempty"`
	Details  string   `json:"details,omitempty"`
	Count    int      `json:"count,omitempty"`
}

// Normalized returns a copy with defaults applied (count >= 1, trimmed tag).
func (p Payload) Normalized() Payload {
	if p.Count < 1 {
		p.Count = 1
	}
	p.Category = Category(strings.TrimSpace(string(p.Category)))
	return p
}

// IsAPIResponse reports whether the payload is a raw API response echo, which
// bypasses the custom layout.
func (p Payload) IsAPIResponse() bool {
	return p.Category == CategorySystem && p.ItemName == itemAPIResponse
}
