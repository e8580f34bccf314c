// Package runner executes the per-account operation sequence: token
// resolution, baseline snapshot, sign sequence, read loop, final snapshot,
// and the status transitions around them.
package runner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"rewardbot/internal/account"
	"rewardbot/internal/credentials"
	"rewardbot/internal/rewards"
	logx "rewardbot/pkg/logx"
)

const (
	// maxReadIterations caps the read loop regardless of the remaining gap
	// (runaway loops, maxima misreporting).
	maxReadIterations = 35
	// readPointsStep is the optimistic local progress increment when the
	// remote reports no points for a successful read call.
	readPointsStep = 10
)

type Runner struct {
	api   rewards.API
	creds *credentials.Manager
	store *account.Store
	log   logx.Logger

	mu  sync.Mutex
	cfg Config

	// idle-reset timers keyed by account id; a newer run stops the stale one.
	tmu    sync.Mutex
	timers map[string]*time.Timer

	rngMu sync.Mutex
	rng   *rand.Rand

	// batch coordination; see batch.go.
	batchRunning atomic.Bool
	stopFlag     atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, api rewards.API, creds *credentials.Manager, store *account.Store, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		api:    api,
		creds:  creds,
		store:  store,
		log:    log,
		cfg:    cfg.withDefaults(),
		timers: map[string]*time.Timer{},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Apply replaces runner knobs at runtime (config hot reload).
func (r *Runner) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

func (r *Runner) config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Close stops pending idle-reset timers.
func (r *Runner) Close() {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	for id, t := range r.timers {
		_ = t.Stop()
		delete(r.timers, id)
	}
}

// Run executes one account run. The returned error is non-nil only for
// rejections (unknown account, already running, bad mode); every failure
// inside the sequence is converted to a status on the Result so nothing
// escapes to the scheduler.
func (r *Runner) Run(ctx context.Context, id string, mode Mode, source string) (Result, error) {
	if !mode.Valid() {
		return Result{}, fmt.Errorf("invalid mode %q", mode)
	}
	start := r.now()
	seq, err := r.store.TryBeginRun(id, start)
	if err != nil {
		return Result{}, err
	}
	r.store.AppendLog(id, source, "info", fmt.Sprintf("run started (%s)", mode))

	res := r.execute(ctx, id, mode, source)
	res.Duration = r.now().Sub(start)

	r.finish(id, seq, source, &res)
	return res, nil
}

// execute walks the step sequence. It returns a Result whose Status is the
// terminal account status; panics are converted to error status.
func (r *Runner) execute(ctx context.Context, id string, mode Mode, source string) (res Result) {
	res = Result{AccountID: id, Mode: mode, Status: account.StatusError}
	defer func() {
		if rec := recover(); rec != nil {
			res.Status = account.StatusError
			res.Message = fmt.Sprintf("panic: %v", rec)
			r.log.Error("run panicked", logx.String("account", id), logx.Any("panic", rec))
		}
	}()

	acc, ok := r.store.Get(id)
	if !ok {
		res.Message = "account missing"
		return res
	}
	res.AccountName = acc.Name

	token, err := r.creds.EnsureValidToken(ctx, id)
	if err != nil {
		res.Status = statusFor(err)
		res.Message = "token: " + err.Error()
		return res
	}

	// Baseline snapshot.
	baseline, err := r.api.Dashboard(ctx, token)
	baselineOK := err == nil
	if err != nil {
		if abort, st := r.riskGate(acc.IgnoreRisk, err); abort {
			res.Status = st
			res.Message = "dashboard: " + err.Error()
			return res
		}
		// Soft risk under ignoreRisk: continue with an empty baseline.
		r.store.AppendLog(id, source, "warn", "baseline dashboard skipped: "+err.Error())
	}
	if baselineOK {
		r.recordSnapshot(id, baseline)
	}

	// Sign sequence.
	if mode.wantsSign() {
		outcome, abortErr := r.signSequence(ctx, id, token, acc.IgnoreRisk, source)
		res.Sign = &outcome
		if abortErr != nil {
			res.Status = statusFor(abortErr)
			res.Message = "sign: " + abortErr.Error()
			return res
		}
		if err := r.humanDelay(ctx); err != nil {
			res.Message = "canceled"
			return res
		}
	}

	// Read loop.
	if mode.wantsRead() {
		progress, maxPts := baseline.ReadProgress, baseline.ReadMax
		for i := 0; i < maxReadIterations && progress < maxPts; i++ {
			pts, err := r.api.SubmitActivity(ctx, token, rewards.ReadActivity())
			if err != nil {
				if abort, st := r.riskGate(acc.IgnoreRisk, err); abort {
					res.Status = st
					res.Message = "read: " + err.Error()
					return res
				}
				r.store.AppendLog(id, source, "warn", "read call skipped: "+err.Error())
				continue
			}
			res.ReadCalls++
			// Optimistic local progress; the remote often lags a few calls.
			if pts > 0 {
				progress += pts
			} else {
				progress += readPointsStep
			}
			if progress >= maxPts {
				break
			}
			if err := r.humanDelay(ctx); err != nil {
				res.Message = "canceled"
				return res
			}
		}
	}

	// Final snapshot.
	final, err := r.api.Dashboard(ctx, token)
	if err != nil {
		if abort, st := r.riskGate(acc.IgnoreRisk, err); abort {
			res.Status = st
			res.Message = "final dashboard: " + err.Error()
			return res
		}
		// Keep the run successful on a soft signal; earned falls back to
		// what the sub-calls reported.
		r.store.AppendLog(id, source, "warn", "final dashboard skipped: "+err.Error())
		res.Status = account.StatusSuccess
		if res.Sign != nil {
			res.Earned = res.Sign.Points()
		}
		res.TotalPoints = baseline.TotalPoints + res.Earned
		return res
	}

	r.recordSnapshot(id, final)
	res.Status = account.StatusSuccess
	res.TotalPoints = final.TotalPoints
	res.Stats = statsFrom(final)
	if baselineOK {
		res.Earned = final.TotalPoints - baseline.TotalPoints
	} else if res.Sign != nil {
		res.Earned = res.Sign.Points()
	}
	return res
}

// finish applies the terminal status, stamps lastDailySuccess, mirrors logs,
// and arms the idle-reset timer.
func (r *Runner) finish(id string, seq uint64, source string, res *Result) {
	now := r.now()
	r.store.Update(id, func(a *account.Account) {
		a.Status = res.Status
		if res.Status == account.StatusSuccess {
			a.LastDailySuccess = now
		}
	})

	switch res.Status {
	case account.StatusSuccess:
		r.store.AppendLog(id, source, "info", fmt.Sprintf("run finished: +%d points (total %d)", res.Earned, res.TotalPoints))
	case account.StatusRisk:
		r.store.AppendLog(id, source, "error", "run aborted on risk signal: "+res.Message)
	default:
		r.store.AppendLog(id, source, "error", "run failed: "+res.Message)
	}
	r.log.Info("run finished",
		logx.String("account", id),
		logx.String("mode", string(res.Mode)),
		logx.String("status", string(res.Status)),
		logx.Int("earned", res.Earned),
		logx.Duration("dur", res.Duration))

	if d := r.config().IdleResetAfter; d > 0 &&
		(res.Status == account.StatusSuccess || res.Status == account.StatusError) {
		r.armIdleReset(id, seq, d)
	}
}

// armIdleReset schedules the one-shot return to idle. The store's run
// sequence check makes a stale timer a no-op when a newer run started first.
func (r *Runner) armIdleReset(id string, seq uint64, after time.Duration) {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	if t, ok := r.timers[id]; ok {
		_ = t.Stop()
	}
	r.timers[id] = time.AfterFunc(after, func() {
		if r.store.ResetToIdle(id, seq) {
			r.log.Debug("idle reset", logx.String("account", id))
		}
		r.tmu.Lock()
		delete(r.timers, id)
		r.tmu.Unlock()
	})
}

// riskGate decides whether err aborts the run and with which status.
// Risk signals abort unless the account ignores risk and the signal is soft;
// non-risk errors always abort with error status.
func (r *Runner) riskGate(ignoreRisk bool, err error) (abort bool, st account.Status) {
	if rewards.IsRisk(err) {
		if !ignoreRisk || rewards.IsFatalRisk(err) {
			return true, account.StatusRisk
		}
		return false, ""
	}
	return true, account.StatusError
}

func (r *Runner) recordSnapshot(id string, d rewards.Dashboard) {
	now := r.now()
	r.store.Update(id, func(a *account.Account) {
		a.TotalPoints = d.TotalPoints
		a.Stats = statsFrom(d)
		a.RecordPoints(now, d.TotalPoints)
	})
}

func statsFrom(d rewards.Dashboard) account.TaskStats {
	return account.TaskStats{
		SignedToday:  d.SignedToday,
		ReadProgress: d.ReadProgress,
		ReadMax:      d.ReadMax,
	}
}

// statusFor maps an error to the account status taxonomy.
func statusFor(err error) account.Status {
	if rewards.IsRisk(err) {
		return account.StatusRisk
	}
	return account.StatusError
}

// humanDelay pauses for a uniform whole-second delay between the configured
// min and max before the next network call.
func (r *Runner) humanDelay(ctx context.Context) error {
	cfg := r.config()
	secs := cfg.DelayMinSec
	if span := cfg.DelayMaxSec - cfg.DelayMinSec; span > 0 {
		r.rngMu.Lock()
		secs += r.rng.Intn(span + 1)
		r.rngMu.Unlock()
	}
	return r.sleep(ctx, time.Duration(secs)*time.Second)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
