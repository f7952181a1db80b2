// Package transport defines where rendered notifications are presented.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sflnotify/internal/render"
	logx "sflnotify/pkg/logx"
)

// Notification is one rendered delivery handed to presenters.
type Notification struct {
	DeliveryID string          `json:"delivery_id"`
	Payload    render.Payload  `json:"payload"`
	Rendered   render.Rendered `json:"rendered"`
	At         time.Time       `json:"at"`
}

// Presenter shows a notification somewhere (a chat, a socket, a log).
//
// Present must be safe for concurrent use. Errors wrapped with Permanent are
// not retried.
type Presenter interface {
	Name() string
	Present(ctx context.Context, n Notification) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// maxPending bounds how many partially delivered notifications Fanout tracks.
const maxPending = 1024

// Fanout presents to several presenters. Retries of the same delivery skip
// presenters that already succeeded.
type Fanout struct {
	presenters []Presenter

	mu      sync.Mutex
	pending map[string]map[string]struct{} // delivery id -> presenters done
	order   []string
}

func NewFanout(ps ...Presenter) *Fanout {
	out := make([]Presenter, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Fanout{presenters: out, pending: map[string]map[string]struct{}{}}
}

func (f *Fanout) Name() string { return "fanout" }

// Presenters returns the wrapped presenters.
func (f *Fanout) Presenters() []Presenter {
	return append([]Presenter(nil), f.presenters...)
}

// Present calls every presenter that hasn't handled n yet. The error joins
// each failure, and is Permanent only when every failure is.
func (f *Fanout) Present(ctx context.Context, n Notification) error {
	done := f.done(n.DeliveryID)

	var (
		failed    []presentFailure
		permanent = true
		succeeded []string
	)
	for _, p := range f.presenters {
		name := p.Name()
		if _, ok := done[name]; ok {
			continue
		}
		if err := p.Present(ctx, n); err != nil {
			failed = append(failed, presentFailure{name: name, err: err})
			if !IsPermanent(err) {
				permanent = false
			}
			continue
		}
		succeeded = append(succeeded, name)
	}

	if len(failed) == 0 {
		f.Forget(n.DeliveryID)
		return nil
	}
	f.markDone(n.DeliveryID, succeeded)
	errs := make([]error, 0, len(failed))
	for _, pf := range failed {
		if permanent {
			errs = append(errs, fmt.Errorf("%s: %w", pf.name, pf.err))
			continue
		}
		// A mixed failure must not expose a permanent cause to IsPermanent.
		errs = append(errs, fmt.Errorf("%s: %v", pf.name, pf.err))
	}
	err := errors.Join(errs...)
	if permanent {
		return Permanent(err)
	}
	return err
}

type presentFailure struct {
	name string
	err  error
}

// Forget drops retry bookkeeping for a delivery.
func (f *Fanout) Forget(id string) {
	if id == "" {
		return
	}
	f.mu.Lock()
	delete(f.pending, id)
	f.mu.Unlock()
}

func (f *Fanout) done(id string) map[string]struct{} {
	if id == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.pending[id]
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

func (f *Fanout) markDone(id string, names []string) {
	if id == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.pending[id]
	if !ok {
		set = map[string]struct{}{}
		f.pending[id] = set
		f.order = append(f.order, id)
	}
	for _, n := range names {
		set[n] = struct{}{}
	}
	for len(f.pending) > maxPending && len(f.order) > 0 {
		delete(f.pending, f.order[0])
		f.order = f.order[1:]
	}
	if len(f.order) > 2*maxPending {
		kept := make([]string, 0, len(f.pending))
		for _, k := range f.order {
			if _, ok := f.pending[k]; ok {
				kept = append(kept, k)
			}
		}
		f.order = kept
	}
}

// LogPresenter writes each notification to the log. It never fails.
type LogPresenter struct {
	log logx.Logger
}

func NewLogPresenter(log logx.Logger) *LogPresenter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogPresenter{log: log}
}

func (p *LogPresenter) Name() string { return "log" }

func (p *LogPresenter) Present(_ context.Context, n Notification) error {
	r := n.Rendered
	p.log.Info("notification",
		logx.String("delivery_id", n.DeliveryID),
		logx.Int("id", r.ID),
		logx.String("category", string(n.Payload.Category)),
		logx.String("title", r.Title),
		logx.String("body", r.Body),
		logx.String("icon", r.Icon),
		logx.String("click", r.Click.Kind.String()),
	)
	return nil
}
