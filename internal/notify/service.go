// Package notify routes run reports to notification targets and fans them
// out to the external push collaborator.
package notify

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rewardbot/internal/account"
	"rewardbot/internal/runner"
	logx "rewardbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
)

// Service is the notification router: target resolution, report formatting,
// and an async fan-out pipeline (queue + workers + rate limit).
type Service struct {
	log    logx.Logger
	pusher Pusher
	store  *account.Store

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	queue chan job
	// stopCh signals workers to drain and exit. The job channel itself is
	// never closed: a completing run may still be enqueueing while Stop
	// runs, and sending on a closed channel would panic the caller.
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, pusher Pusher, store *account.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, pusher: pusher, store: store}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	queue := s.queue
	stopCh := s.stopCh
	runCtx := s.runCtx
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notifier worker",
						logx.Int("worker", i), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop(runCtx, queue, stopCh)
		}()
	}
}

// Stop stops intake and drains best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	stopCh := s.stopCh
	cancel := s.runCancel
	s.queue = nil
	s.stopCh = nil
	s.mu.Unlock()
	if q == nil {
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, queue <-chan job, stopCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-queue:
			s.deliver(ctx, j)
		case <-stopCh:
			// Intake is off (queue nilled before stopCh closed); drain
			// what's already buffered, then exit.
			for {
				select {
				case j := <-queue:
					s.deliver(ctx, j)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	limiter := s.limiter
	s.mu.Unlock()
	if err := limiter.Wait(ctx); err != nil {
		return
	}
	if s.pusher == nil {
		return
	}
	start := time.Now()
	err := s.pusher.Push(ctx, j.recipients, j.content, j.contentType)
	if err != nil {
		// Push delivery is best-effort; the next run produces a fresh
		// report anyway.
		s.log.Warn("push failed",
			logx.Int("recipients", len(j.recipients)),
			logx.Duration("queued", start.Sub(j.enqueued)),
			logx.Err(err))
		return
	}
	s.log.Debug("push delivered",
		logx.Int("recipients", len(j.recipients)),
		logx.Duration("dur", time.Since(start)))
}

func (s *Service) enqueue(j job) error {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return ErrDisabled
	}
	j.enqueued = time.Now()
	select {
	case q <- j:
		return nil
	default:
		s.log.Warn("notifier queue full; dropping report")
		return ErrQueueFull
	}
}

// NotifyRun fans out a single-account completion to every enabled target
// subscribed to the account. Gated by the allow-single-push policy.
func (s *Service) NotifyRun(res runner.Result) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled || !cfg.AllowSinglePush {
		return
	}

	content := s.renderRun(res)
	for _, t := range cfg.Targets {
		if !t.Enabled || len(t.UIDs) == 0 || !t.Subscribes(res.AccountID) {
			continue
		}
		_ = s.enqueue(job{recipients: t.UIDs, content: content, contentType: ContentMarkdown})
	}
}

// NotifyBatch pushes one merged report per eligible target, filtered to the
// accounts that target subscribes to. Batch completions push regardless of
// the single-push policy.
func (s *Service) NotifyBatch(br runner.BatchResult) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled || len(br.Results) == 0 {
		return
	}

	for _, t := range cfg.Targets {
		if !t.Enabled || len(t.UIDs) == 0 {
			continue
		}
		var mine []runner.Result
		for _, res := range br.Results {
			if t.Subscribes(res.AccountID) {
				mine = append(mine, res)
			}
		}
		if len(mine) == 0 {
			continue
		}
		content := s.renderBatch(mine, br.Skipped, br.Stopped)
		_ = s.enqueue(job{recipients: t.UIDs, content: content, contentType: ContentMarkdown})
	}
}
