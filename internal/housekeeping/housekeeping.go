// Package housekeeping prunes old delivery history on a cron schedule.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sflnotify/internal/eventbus"
	logx "sflnotify/pkg/logx"
)

const (
	DefaultSchedule  = "@hourly"
	DefaultRetention = 7 * 24 * time.Hour
	pruneTimeout     = 30 * time.Second
)

// TypePruned is published after each prune run.
const TypePruned = "housekeeping.pruned"

// Pruner deletes deliveries older than before; storage.Store implements it.
type Pruner interface {
	PruneDeliveries(ctx context.Context, before time.Time) (int, error)
}

type Config struct {
	Enabled   bool
	Schedule  string
	Retention time.Duration
	Location  *time.Location
}

// RunReport describes the last prune run.
type RunReport struct {
	At      time.Time     `json:"at"`
	Before  time.Time     `json:"before"`
	Removed int           `json:"removed"`
	Took    time.Duration `json:"took"`
	Error   string        `json:"error,omitempty"`
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	pruner Pruner
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser

	c       *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context

	rmu  sync.Mutex
	last RunReport
	runs int
}

func New(cfg Config, pruner Pruner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		pruner: pruner,
		log:    log,
		bus:    bus,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// NormalizeSchedule turns a schedule string into a cron spec. A bare Go
// duration ("6h") means "@every 6h"; empty means DefaultSchedule.
func NormalizeSchedule(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultSchedule
	}
	if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return "@every " + d.String()
		}
	}
	return s
}

// ValidateSchedule reports whether raw parses as a schedule.
func ValidateSchedule(raw string) error {
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(NormalizeSchedule(raw)); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the config; a running cron is rebuilt when the schedule,
// location or enabled flag changed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	ctx := s.baseCtx
	s.mu.Unlock()

	changed := old.Enabled != cfg.Enabled ||
		NormalizeSchedule(old.Schedule) != NormalizeSchedule(cfg.Schedule) ||
		old.Location.String() != cfg.Location.String()
	if !changed {
		return
	}
	if running {
		stopCtx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		s.Stop(stopCtx)
		cancel()
	}
	if ctx != nil {
		if err := s.Start(ctx); err != nil {
			s.log.Warn("housekeeping restart failed", logx.Err(err))
		}
	}
}

// Start registers the prune job. It is idempotent and a no-op when disabled
// or without a pruner.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCtx = ctx
	if s.c != nil || !s.cfg.Enabled || s.pruner == nil {
		return nil
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	spec := NormalizeSchedule(s.cfg.Schedule)
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("housekeeping prune failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("housekeeping schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.entry = id
	s.log.Info("housekeeping started", logx.String("schedule", spec), logx.String("tz", loc.String()),
		logx.Duration("retention", s.retentionLocked()))
	return nil
}

// Stop halts the schedule and waits for a running prune until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Next returns the next scheduled run (zero if not running).
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

func (s *Service) retentionLocked() time.Duration {
	if s.cfg.Retention <= 0 {
		return DefaultRetention
	}
	return s.cfg.Retention
}

// RunOnce prunes deliveries older than the retention window now.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	pruner := s.pruner
	retention := s.retentionLocked()
	s.mu.Unlock()
	if pruner == nil {
		return 0, errors.New("housekeeping: no store configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	before := start.Add(-retention)
	cctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	n, err := pruner.PruneDeliveries(cctx, before)
	cancel()

	rep := RunReport{At: start, Before: before, Removed: n, Took: time.Since(start)}
	if err != nil {
		rep.Error = err.Error()
	}
	s.rmu.Lock()
	s.last = rep
	s.runs++
	s.rmu.Unlock()

	if err == nil {
		s.log.Debug("housekeeping pruned deliveries", logx.Int("removed", n), logx.Time("before", before))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: TypePruned, Time: time.Now(), Data: rep})
	}
	return n, err
}

// Last returns the latest run report and how many runs happened.
func (s *Service) Last() (RunReport, int) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return s.last, s.runs
}
