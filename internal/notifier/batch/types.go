// Package batch feeds lists of payloads into the notifier as background jobs
// with pollable status.
package batch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sflnotify/internal/notifier"
	"sflnotify/internal/render"
	logx "sflnotify/pkg/logx"
)

// Sink accepts one payload; *notifier.Service implements it.
type Sink interface {
	Notify(ctx context.Context, p render.Payload) (notifier.Result, error)
}

type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
}

type job struct {
	id       string
	payloads []render.Payload
}

// Failure is one payload the sink rejected.
type Failure struct {
	Index          int    `json:"index"`
	NotificationID int    `json:"notification_id"`
	Error          string `json:"error"`
}

// JobStatus tracks one batch. Done counts processed payloads; the other
// counters split them by outcome.
type JobStatus struct {
	ID         string    `json:"id"`
	Total      int       `json:"total"`
	Done       int       `json:"done"`
	Queued     int       `json:"queued"`
	Suppressed int       `json:"suppressed"`
	Deduped    int       `json:"deduped"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	DoneAt     time.Time `json:"done_at,omitempty"`
	Running    bool      `json:"running"`
}

// Finished reports whether the job has stopped processing.
func (s JobStatus) Finished() bool { return !s.DoneAt.IsZero() }

type Service struct {
	mu sync.Mutex

	cfg  Config
	sink Sink
	log  logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// non-nil while Stop is in progress; closed when workers exit.
	stopDone chan struct{}

	statusMu sync.RWMutex
	status   map[string]*JobStatus
	// bounds in-memory status retention
	statusMax int
	statusTTL time.Duration
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
