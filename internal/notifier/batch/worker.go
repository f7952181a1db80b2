package batch

import (
	"context"
	"errors"
	"time"

	"sflnotify/internal/notifier"
	"sflnotify/internal/render"
	logx "sflnotify/pkg/logx"
)

const maxFailures = 200

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// Stop wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.setRunning(j.id)
	s.log.Info("batch job started", logx.String("job", j.id), logx.Int("total", len(j.payloads)))

	for i, p := range j.payloads {
		if ctx.Err() != nil {
			s.abort(j.id, ctx.Err())
			return
		}
		res, err := s.submitOne(ctx, j.id, p)
		s.markDone(j.id, i, p, res, err)
	}
	s.finish(j.id)

	st, ok := s.Status(j.id)
	if !ok {
		return
	}
	fields := []logx.Field{
		logx.String("job", j.id),
		logx.Int("total", st.Total),
		logx.Int("queued", st.Queued),
		logx.Int("suppressed", st.Suppressed),
		logx.Int("deduped", st.Deduped),
		logx.Int("failed", st.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if st.Failed > 0 {
		s.log.Warn("batch job finished with failures", fields...)
	} else {
		s.log.Info("batch job finished", fields...)
	}
}

// submitOne hands p to the sink, retrying while the notifier queue is full.
func (s *Service) submitOne(ctx context.Context, jobID string, p render.Payload) (notifier.Result, error) {
	s.mu.Lock()
	lim := s.limiter
	retry := s.cfg.RetryMax
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		return notifier.Result{}, errors.New("no sink configured")
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return notifier.Result{}, err
		}
	}
	var last error
	for i := 0; i <= retry; i++ {
		res, err := sink.Notify(ctx, p)
		if err == nil {
			return res, nil
		}
		last = err
		if !errors.Is(err, notifier.ErrQueueFull) || i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		s.log.Debug("batch payload retry scheduled", logx.String("job", jobID), logx.Int("id", p.ID), logx.Int("attempt", i+2), logx.Duration("delay", delay))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return notifier.Result{}, ctx.Err()
		case <-tmr.C:
		}
	}
	s.log.Warn("batch payload rejected", logx.String("job", jobID), logx.Int("id", p.ID), logx.Err(last))
	return notifier.Result{}, last
}

func (s *Service) setRunning(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.StartedAt = time.Now()
		st.Running = true
	}
}

func (s *Service) markDone(id string, idx int, p render.Payload, res notifier.Result, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status[id]
	if st == nil {
		return
	}
	st.Done++
	if err != nil {
		st.Failed++
		if len(st.Failures) < maxFailures {
			st.Failures = append(st.Failures, Failure{Index: idx, NotificationID: p.ID, Error: err.Error()})
		}
		return
	}
	switch res.Status {
	case notifier.StatusSuppressed:
		st.Suppressed++
	case notifier.StatusDeduped:
		st.Deduped++
	default:
		st.Queued++
	}
}

func (s *Service) finish(id string) {
	now := time.Now()
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.DoneAt = now
		st.Running = false
	}
	s.statusMu.Unlock()
	s.pruneStatus(now)
}
