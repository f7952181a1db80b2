package batch

import (
	"context"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	logx "sflnotify/pkg/logx"
)

const (
	defaultRate      = 20
	defaultWorkers   = 1
	defaultQueueSize = 64
)

func New(cfg Config, sink Sink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	return &Service{
		cfg:       cfg,
		sink:      sink,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(rateOrDefault(cfg.RatePerSec)), rateOrDefault(cfg.RatePerSec)),
		queue:     make(chan job, qs),
		status:    map[string]*JobStatus{},
		statusMax: 200,
		statusTTL: 24 * time.Hour,
	}
}

func rateOrDefault(r int) int {
	if r <= 0 {
		return defaultRate
	}
	return r
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates rate and retry settings. Worker count changes need a restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	r := rateOrDefault(cfg.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(r), r)
}

func (s *Service) Start(ctx context.Context) {
	// Wait out a Stop in progress so two worker pools never overlap.
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	// The queue survives restarts so pending jobs still run.
	queue := s.queue
	stopCh := s.stopCh
	runCtx := s.runCtx

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in batch worker", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.log.Info("batch service started", logx.Int("workers", workers), logx.Int("rps", rateOrDefault(s.cfg.RatePerSec)))
}

// Stop cancels running jobs and waits for workers until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
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
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("batch service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
