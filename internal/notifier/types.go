package notifier

import (
	"time"

	"sflnotify/internal/render"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
	HistorySize     int
}

// Outcome of a Notify call.
const (
	StatusQueued     = "queued"
	StatusSuppressed = "suppressed"
	StatusDeduped    = "deduped"
)

// Result describes what Notify did with a payload.
type Result struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Rendered render.Rendered `json:"rendered"`
}

// DeliveryEvent is the event bus payload for notifier lifecycle events.
// Keep it small; subscribers may log or serialize it.
type DeliveryEvent struct {
	ID             string    `json:"id"`
	NotificationID int       `json:"notification_id"`
	Category       string    `json:"category"`
	Item           string    `json:"item,omitempty"`
	Title          string    `json:"title,omitempty"`
	Key            string    `json:"key,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// ClickEvent is published when a tap is resolved.
type ClickEvent struct {
	NotificationID int                `json:"notification_id"`
	Action         render.ClickAction `json:"action"`
	Unresolved     bool               `json:"unresolved,omitempty"`
	At             time.Time          `json:"at"`
}

// Stats is a point-in-time view for health endpoints.
type Stats struct {
	Enabled  bool `json:"enabled"`
	Running  bool `json:"running"`
	Queued   int  `json:"queued"`
	QueueCap int  `json:"queue_cap"`
}
