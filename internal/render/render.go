package render

import (
	"errors"
	"strconv"
	"strings"
	"time"

	logx "sflnotify/pkg/logx"
)

// ErrSuppressed is returned by Render when the user disabled the payload's
// category or item.
var ErrSuppressed = errors.New("notification suppressed by preferences")

const (
	apiResponseTitle    = "Got Api"
	apiResponseBody     = "No response body"
	listingSold         = "Listing sold"
	islandAvailable     = "Island is available!"
	shopItemsUpdated    = "Shop items updated"
	auctionLive         = "Auction is live!"
	endsAtUnknown       = "Ends at unknown time"
	dailyResetBody      = "Your farm has been reset. Time to start a new day!"
	craftingCompleteMsg = "Crafting complete"
	sickAnimalsFallback = "Check on your animals"
)

// Rendered is a notification ready for a presenter.
//
// IconKey is the semantic icon name ("Gem", "Composter"); Icon is the
// resource it resolved to. Plain marks the standard (non-custom) layout used
// for raw API responses.
type Rendered struct {
	ID      int         `json:"id"`
	Title   string      `json:"title"`
	Body    string      `json:"body"`
	IconKey string      `json:"icon_key,omitempty"`
	Icon    string      `json:"icon"`
	Click   ClickAction `json:"click"`
	Plain   bool        `json:"plain,omitempty"`
}

// Renderer turns payloads into Rendered notifications.
// It holds only read-only state and is safe for concurrent use.
type Renderer struct {
	icons    *IconSet
	launcher Launcher
	loc      *time.Location
	log      logx.Logger
}

type Option func(*Renderer)

// WithLocation sets the time zone used for "Ends at" clock times.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithLauncher sets how predefined companion packages are resolved.
func WithLauncher(l Launcher) Option {
	return func(r *Renderer) { r.launcher = l }
}

func WithLogger(log logx.Logger) Option {
	return func(r *Renderer) { r.log = log }
}

func NewRenderer(icons *IconSet, opts ...Option) *Renderer {
	r := &Renderer{icons: icons, loc: time.Local, log: logx.Nop()}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Launcher exposes the configured launcher (used for tap handling).
func (r *Renderer) Launcher() Launcher { return r.launcher }

// Render classifies p and renders it under prefs. It returns ErrSuppressed
// when prefs disable the payload; no other error is possible.
func (r *Renderer) Render(p Payload, prefs Preferences) (Rendered, error) {
	p = p.Normalized()
	if !prefs.Allows(p.Category, p.ItemName) {
		r.log.Debug("notification disabled by preferences",
			logx.String("category", string(p.Category)), logx.String("item", p.ItemName))
		return Rendered{}, ErrSuppressed
	}

	out := Rendered{ID: p.ID, Click: ResolveClick(p, prefs, r.launcher)}
	if p.IsAPIResponse() {
		out.Plain = true
		out.Title = firstNonEmpty(p.Title, apiResponseTitle)
		out.Body = firstNonEmpty(p.Body, apiResponseBody)
		out.Icon = DefaultIcon
		return out, nil
	}

	out.Title, out.Body = r.text(p)
	out.IconKey = iconKey(p)
	out.Icon = r.icons.Lookup(out.IconKey)
	return out, nil
}

// iconKey picks the icon name: most categories use the item itself.
func iconKey(p Payload) string {
	switch p.Category.Kind() {
	case CategoryMarketplace:
		return IconMarketplace
	case CategoryAuction:
		return auctionIcon(p.Details)
	case CategoryAnimalSick:
		return IconSickAnimals
	default:
		return p.ItemName
	}
}

// text resolves title and body. Order matters: the island and marketplace
// layouts win over the animal-love group, which wins over the rest.
func (r *Renderer) text(p Payload) (title, body string) {
	item := p.ItemName
	kind := p.Category.Kind()

	switch kind {
	case CategoryMarketplace:
		return strconv.Itoa(p.Count) + " " + item + " Sold!",
			flowerAmount(firstNonEmpty(p.Details, p.Body, listingSold))
	case CategoryFloatingIsland:
		return r.floatingIsland(p)
	}

	if strings.Contains(p.GroupID, groupAnimalLoveMarker) {
		return "Your " + item + " need love!", FormatCountAndName(p.Count, item)
	}

	switch kind {
	case CategorySunstones:
		return "Sunstone is ready!", strconv.Itoa(p.Count) + " mines left"
	case CategoryDailyReset:
		return "Daily Reset!", dailyResetBody
	case CategoryComposters:
		if p.Details != "" {
			return item + " is ready!", p.Details
		}
	case CategoryCooking:
		if p.Details != "" {
			return item + " is done cooking!", p.Details
		}
	case CategoryCrafting:
		return item + " is ready!", craftingCompleteMsg
	case CategoryAuction:
		return item + " " + auctionCurrency(p.Details) + " Auction is live!", r.auctionBody(p.Details)
	case CategoryAnimalSick:
		// itemName arrives pre-formatted, e.g. "2 Chickens, 1 Cow".
		return "Animals just got sick!", firstNonEmpty(item, sickAnimalsFallback)
	}
	return item + " is ready!", FormatCountAndName(p.Count, item)
}

func (r *Renderer) floatingIsland(p Payload) (title, body string) {
	if parts := splitDetails(p.Details, -1); parts != nil {
		if len(parts) > 1 {
			if endAt, ok := parseMillis(parts[1]); ok {
				return "Floating Island is Live!", "Ends at " + FormatEndTime(endAt, r.loc)
			}
			r.log.Debug("floating island end time unparsable", logx.String("details", p.Details))
		}
		return "Floating Island is Live!", islandAvailable
	}
	if p.ItemName == itemLoveIslandShop {
		return "New Love Island Items!", firstNonEmpty(p.Details, shopItemsUpdated)
	}
	return "Floating Island is Live!", islandAvailable
}

func (r *Renderer) auctionBody(details string) string {
	if !strings.Contains(details, detailsSeparator) {
		return auctionLive
	}
	d := parseAuctionDetails(details)
	if !d.endAtOK {
		r.log.Debug("auction end time unparsable", logx.String("details", details))
		return endsAtUnknown
	}
	return "Ends at " + FormatEndTime(d.endAt, r.loc)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
