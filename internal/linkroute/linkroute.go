// Package linkroute decides where a tapped link opens.
package linkroute

import (
	"fmt"
	"strings"
)

// GameHost marks links that belong to the game.
const GameHost = "sunflower-land.com"

// DefaultNotificationsOnly is the link mode used when the preference was
// never set: game links open externally.
const DefaultNotificationsOnly = true

// Destination is where a link opens.
type Destination int

const (
	// External hands the link to the system default handler.
	External Destination = iota
	// InApp loads the link in the embedded game tab.
	InApp
)

func (d Destination) String() string {
	switch d {
	case External:
		return "external"
	case InApp:
		return "in_app"
	default:
		return fmt.Sprintf("Destination(%d)", int(d))
	}
}

func (d Destination) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Resolve routes url. Game links open in-app unless notifications-only mode
// is on; everything else opens externally.
func Resolve(url string, notificationsOnly bool) Destination {
	if strings.Contains(url, GameHost) && !notificationsOnly {
		return InApp
	}
	return External
}
