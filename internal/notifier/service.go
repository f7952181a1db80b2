package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sflnotify/internal/eventbus"
	"sflnotify/internal/render"
	rtsup "sflnotify/internal/runtime/supervisor"
	"sflnotify/internal/storage"
	"sflnotify/internal/transport"
	logx "sflnotify/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	sendTimeout    = 10 * time.Second
	recordTimeout  = 250 * time.Millisecond
	dedupGetBudget = 25 * time.Millisecond
)

// PreferencesFunc returns the current preferences snapshot.
type PreferencesFunc func() render.Preferences

// Deps are the collaborators of a Service. Renderer, Prefs and Presenter are
// required; the rest are optional.
type Deps struct {
	Renderer  *render.Renderer
	Prefs     PreferencesFunc
	Presenter transport.Presenter
	Log       logx.Logger
	Bus       eventbus.Bus
	Store     storage.Store
}

type job struct {
	id       string
	payload  render.Payload
	rendered render.Rendered
	at       time.Time
	// dedupKey is computed at enqueue time.
	dedupKey string
}

// Service implements the async delivery pipeline:
// render + dedup + queue + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log       logx.Logger
	renderer  *render.Renderer
	prefs     PreferencesFunc
	presenter transport.Presenter
	bus       eventbus.Bus
	store     storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	persistCh chan dedupWrite

	hmu     sync.Mutex
	history []storage.Delivery // oldest first
}

type dedupWrite struct {
	key   string
	until time.Time
}

func New(cfg Config, d Deps) *Service {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	prefs := d.Prefs
	if prefs == nil {
		prefs = func() render.Preferences { return render.Preferences{} }
	}
	renderer := d.Renderer
	if renderer == nil {
		renderer = render.NewRenderer(render.NewIconSet(nil, log), render.WithLogger(log))
	}
	s := &Service{
		log:       log,
		renderer:  renderer,
		prefs:     prefs,
		presenter: d.Presenter,
		bus:       d.Bus,
		store:     d.Store,
		dedup:     map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the worker supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetRenderer swaps the renderer used for new notifications.
func (s *Service) SetRenderer(r *render.Renderer) {
	if r == nil {
		return
	}
	s.mu.Lock()
	s.renderer = r
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}

	s.cfg = cfg
	// Burst = rate per sec so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// Delivery failures must not take down the daemon.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	pch := s.persistCh
	st := s.store
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return nil
		})
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("queue", cap(q)))
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	pch := s.persistCh
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight enqueues finish before the queue closes.
		s.sendWG.Wait()
		if pch != nil {
			close(pch)
		}
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.persistCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
		<-done
	}
}

// Render is a dry run: it renders p under the current preferences without
// queueing anything.
func (s *Service) Render(p render.Payload) (render.Rendered, error) {
	s.mu.Lock()
	r := s.renderer
	s.mu.Unlock()
	return r.Render(p, s.prefs())
}

// Notify renders p and queues it for delivery.
//
// Suppressed and deduped payloads are not errors: they are recorded and
// reported through Result.Status.
func (s *Service) Notify(ctx context.Context, p render.Payload) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return Result{}, ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return Result{}, ErrStopped
	}
	q := s.queue
	renderer := s.renderer
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	persistDedup := s.cfg.PersistDedup
	st := s.store
	pch := s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	now := time.Now()
	p = p.Normalized()
	res := Result{ID: uuid.NewString()}

	rendered, err := renderer.Render(p, s.prefs())
	if errors.Is(err, render.ErrSuppressed) {
		res.Status = StatusSuppressed
		s.record(ctx, delivery(res.ID, p, render.Rendered{ID: p.ID}, storage.StatusSuppressed, 0, nil, now))
		s.publish(eventbus.TypeSuppressed, event(res.ID, p, render.Rendered{}, "", 0, nil, now))
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	res.Rendered = rendered

	key := dedupKey(p, rendered)
	if dedupWindow > 0 && !s.dedupAllow(ctx, key, dedupWindow, dedupMax, persistDedup, st, pch) {
		res.Status = StatusDeduped
		s.record(ctx, delivery(res.ID, p, rendered, storage.StatusDeduped, 0, nil, now))
		s.publish(eventbus.TypeDeduped, event(res.ID, p, rendered, key, 0, nil, now))
		return res, nil
	}

	s.publish(eventbus.TypeQueued, event(res.ID, p, rendered, key, 0, nil, now))
	select {
	case q <- job{id: res.ID, payload: p, rendered: rendered, at: now, dedupKey: key}:
		res.Status = StatusQueued
		return res, nil
	default:
		s.forgetDedup(key)
		s.publish(eventbus.TypeFailed, event(res.ID, p, rendered, key, 0, ErrQueueFull, now))
		return Result{}, ErrQueueFull
	}
}

// Click resolves a tap on a notification whose click action re-delivers its
// payload. Taps on a category or item the user has since disabled return
// render.ErrSuppressed. When the configured companion app can't be resolved
// the primary app opens instead.
func (s *Service) Click(ctx context.Context, p render.Payload) (render.ClickAction, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return render.ClickAction{}, err
		}
	}
	s.mu.Lock()
	r := s.renderer
	s.mu.Unlock()

	prefs := s.prefs()
	p = p.Normalized()
	if !prefs.Allows(p.Category, p.ItemName) {
		s.log.Debug("tap ignored; notification disabled by preferences",
			logx.String("category", string(p.Category)), logx.String("item", p.ItemName))
		return render.ClickAction{}, render.ErrSuppressed
	}

	action, unresolved := render.ResolveTap(prefs, r.Launcher())
	if unresolved {
		s.log.Warn("could not open configured app; opening game", logx.Int("id", p.ID))
	}
	now := time.Now()
	s.publish(eventbus.TypeClicked, ClickEvent{NotificationID: p.ID, Action: action, Unresolved: unresolved, At: now})
	return action, nil
}

// Recent returns up to limit deliveries, newest first. It reads the store
// when one is configured and the in-memory history otherwise.
func (s *Service) Recent(ctx context.Context, limit int) ([]storage.Delivery, error) {
	if s.store != nil {
		return s.store.RecentDeliveries(ctx, limit)
	}
	s.hmu.Lock()
	defer s.hmu.Unlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]storage.Delivery, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Enabled: s.cfg.Enabled, Running: s.queue != nil && s.accepting}
	if s.queue != nil {
		st.Queued = len(s.queue)
		st.QueueCap = cap(s.queue)
	}
	return st
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// record appends d to the history ring and, best-effort, to the store.
func (s *Service) record(ctx context.Context, d storage.Delivery) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	st := s.store
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, d)
	if len(s.history) > max {
		s.history = append([]storage.Delivery(nil), s.history[len(s.history)-max:]...)
	}
	s.hmu.Unlock()

	if st == nil {
		return
	}
	// Record even when the caller's context is already done.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := st.AppendDelivery(cctx, d); err != nil {
		s.log.Debug("delivery not persisted", logx.String("id", d.ID), logx.Err(err))
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, recordTimeout)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup not persisted", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	pr := s.presenter
	log := s.log
	s.mu.Unlock()

	n := transport.Notification{DeliveryID: j.id, Payload: j.payload, Rendered: j.rendered, At: j.at}
	if pr == nil {
		s.finish(runCtx, j, 0, errors.New("no presenter configured"))
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(runCtx); err != nil {
				lastErr = err
				break
			}
		}

		attempts = attempt
		callCtx, cancel := context.WithTimeout(runCtx, sendTimeout)
		err := pr.Present(callCtx, n)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		log.Debug("present failed", logx.String("id", j.id), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if transport.IsPermanent(err) || attempt >= maxAttempts {
			break
		}
		if !sleepCtx(runCtx, retryDelay(cfg, attempt)) {
			lastErr = runCtx.Err()
			break
		}
	}
	if lastErr != nil {
		if f, ok := pr.(interface{ Forget(string) }); ok {
			f.Forget(j.id)
		}
	}
	s.finish(runCtx, j, attempts, lastErr)
}

// finish records the final outcome of a queued job.
func (s *Service) finish(ctx context.Context, j job, attempts int, err error) {
	now := time.Now()
	if err != nil {
		s.log.Warn("notification delivery failed", logx.String("id", j.id), logx.Int("attempts", attempts), logx.Err(err))
		s.record(ctx, delivery(j.id, j.payload, j.rendered, storage.StatusFailed, attempts, err, now))
		s.publish(eventbus.TypeFailed, event(j.id, j.payload, j.rendered, j.dedupKey, attempts, err, now))
		return
	}
	s.record(ctx, delivery(j.id, j.payload, j.rendered, storage.StatusDelivered, attempts, nil, now))
	s.publish(eventbus.TypeDelivered, event(j.id, j.payload, j.rendered, j.dedupKey, attempts, nil, now))
}

func delivery(id string, p render.Payload, r render.Rendered, status string, attempts int, err error, at time.Time) storage.Delivery {
	d := storage.Delivery{
		ID:             id,
		NotificationID: p.ID,
		Category:       string(p.Category),
		Item:           p.ItemName,
		Title:          r.Title,
		Body:           r.Body,
		Icon:           r.Icon,
		Status:         status,
		Attempts:       attempts,
		At:             at,
	}
	if r.Title != "" {
		d.Click = clickString(r.Click)
	}
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

func event(id string, p render.Payload, r render.Rendered, key string, attempts int, err error, at time.Time) DeliveryEvent {
	e := DeliveryEvent{
		ID:             id,
		NotificationID: p.ID,
		Category:       string(p.Category),
		Item:           p.ItemName,
		Title:          r.Title,
		Key:            key,
		Attempts:       attempts,
		At:             at,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func clickString(a render.ClickAction) string {
	if a.Target != nil {
		return a.Kind.String() + ":" + a.Target.String()
	}
	return a.Kind.String()
}

// dedupKey identifies "the same notification": same id, category and text.
func dedupKey(p render.Payload, r render.Rendered) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.Itoa(p.ID)))
	for _, part := range []string{string(p.Category), p.ItemName, r.Title, r.Body} {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(part))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) forgetDedup(key string) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, max int, persist bool, st storage.Store, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// Cross-restart dedup; a slow store just lets the notification through.
	if persist && st != nil {
		cctx, cancel := context.WithTimeout(ctx, dedupGetBudget)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, t := range s.dedup {
		if !now.Before(t) {
			delete(s.dedup, k)
		}
	}
	// Over the cap, evict the earliest expiries first.
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if persist && pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
