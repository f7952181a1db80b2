package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files under Path's directory
//   - "sqlite": SQLite database at Path
//
// Empty, "none", "off" or "disabled" turns storage off.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery statuses.
const (
	StatusDelivered  = "delivered"
	StatusSuppressed = "suppressed"
	StatusDeduped    = "deduped"
	StatusFailed     = "failed"
)

// Delivery is one processed notification.
type Delivery struct {
	ID             string    `json:"id"`
	NotificationID int       `json:"notification_id"`
	Category       string    `json:"category"`
	Item           string    `json:"item"`
	Title          string    `json:"title,omitempty"`
	Body           string    `json:"body,omitempty"`
	Icon           string    `json:"icon,omitempty"`
	Click          string    `json:"click,omitempty"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}
