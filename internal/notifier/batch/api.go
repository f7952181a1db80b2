package batch

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"sflnotify/internal/render"
	logx "sflnotify/pkg/logx"
)

var (
	ErrEmpty    = errors.New("batch is empty")
	ErrNotReady = errors.New("batch service not running")
	ErrBusy     = errors.New("batch queue full")
)

// Submit queues payloads as one job and returns its id. The job's status is
// tracked even when it can't be queued.
func (s *Service) Submit(payloads []render.Payload) (string, error) {
	if len(payloads) == 0 {
		return "", ErrEmpty
	}
	now := time.Now()
	id := uuid.NewString()
	s.pruneStatus(now)
	s.statusMu.Lock()
	s.status[id] = &JobStatus{ID: id, Total: len(payloads), CreatedAt: now}
	s.statusMu.Unlock()

	s.mu.Lock()
	q := s.queue
	running := s.stopCh != nil
	s.mu.Unlock()

	if !running {
		s.log.Debug("batch service not running; dropping job", logx.String("job", id))
		s.abort(id, ErrNotReady)
		return id, ErrNotReady
	}
	cp := append([]render.Payload(nil), payloads...)
	select {
	case q <- job{id: id, payloads: cp}:
		s.log.Debug("batch job enqueued", logx.String("job", id), logx.Int("total", len(cp)), logx.Int("queue_len", len(q)))
		return id, nil
	default:
		s.log.Warn("batch queue full; dropping job", logx.String("job", id), logx.Int("queue_cap", cap(q)))
		s.abort(id, ErrBusy)
		return id, ErrBusy
	}
}

// Status returns a copy of the job's status.
func (s *Service) Status(id string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	cp := *st
	cp.Failures = append([]Failure(nil), st.Failures...)
	return cp, true
}

// List returns every tracked job, newest first.
func (s *Service) List() []JobStatus {
	s.statusMu.RLock()
	out := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		cp := *st
		cp.Failures = append([]Failure(nil), st.Failures...)
		out = append(out, cp)
	}
	s.statusMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Service) abort(id string, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.DoneAt = time.Now()
		st.Running = false
		st.Failed = st.Total - st.Done
		if len(st.Failures) < maxFailures {
			st.Failures = append(st.Failures, Failure{Index: -1, Error: err.Error()})
		}
	}
}

// pruneStatus drops finished jobs older than the TTL, then the oldest
// finished jobs while over the cap.
func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for id, st := range s.status {
		if st.Finished() && now.Sub(st.DoneAt) > s.statusTTL {
			delete(s.status, id)
		}
	}
	if len(s.status) <= s.statusMax {
		return
	}
	finished := make([]*JobStatus, 0, len(s.status))
	for _, st := range s.status {
		if st.Finished() {
			finished = append(finished, st)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].DoneAt.Before(finished[j].DoneAt) })
	for _, st := range finished {
		if len(s.status) <= s.statusMax {
			break
		}
		delete(s.status, st.ID)
	}
}
