package runner

import (
	"context"
	"errors"

	"rewardbot/internal/account"
	logx "rewardbot/pkg/logx"
)

var ErrBatchRunning = errors.New("batch already running")

// RequestStop asks an in-flight batch to stop cooperatively. The flag is
// polled between accounts only; it never interrupts an in-flight call.
func (r *Runner) RequestStop() { r.stopFlag.Store(true) }

// RunBatch processes all enabled accounts strictly sequentially with the
// configured inter-account delay. Accounts already running are skipped, as
// are (optionally) accounts that completed today.
func (r *Runner) RunBatch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	if !opts.Mode.Valid() {
		opts.Mode = ModeAll
	}
	if opts.Source == "" {
		opts.Source = "scheduler"
	}
	// Only one batch at a time; a second trigger is rejected, not queued,
	// matching the per-account running gate.
	if !r.batchRunning.CompareAndSwap(false, true) {
		return BatchResult{}, ErrBatchRunning
	}
	defer r.batchRunning.Store(false)
	r.stopFlag.Store(false)

	var out BatchResult
	now := r.now()
	list := r.store.List()
	r.log.Info("batch run started",
		logx.String("mode", string(opts.Mode)),
		logx.Int("accounts", len(list)),
		logx.Duration("delay", opts.Delay))

	first := true
	for _, acc := range list {
		if ctx.Err() != nil || r.stopFlag.Load() {
			out.Stopped = true
			break
		}
		if !acc.Enabled {
			out.Skipped++
			continue
		}
		if acc.Status == account.StatusRunning {
			out.Skipped++
			r.log.Debug("batch skip: already running", logx.String("account", acc.ID))
			continue
		}
		if opts.SkipCompletedToday && acc.CompletedToday(now) {
			out.Skipped++
			r.log.Debug("batch skip: completed today", logx.String("account", acc.ID))
			continue
		}

		if !first {
			if err := r.sleep(ctx, opts.Delay); err != nil {
				out.Stopped = true
				break
			}
			// Re-check the stop flag after the delay, still at an account
			// boundary.
			if r.stopFlag.Load() {
				out.Stopped = true
				break
			}
		}
		first = false

		res, err := r.Run(ctx, acc.ID, opts.Mode, opts.Source)
		if err != nil {
			// Rejection (raced into running elsewhere): count as skipped.
			out.Skipped++
			r.log.Debug("batch skip", logx.String("account", acc.ID), logx.Err(err))
			continue
		}
		out.Results = append(out.Results, res)
	}

	r.log.Info("batch run finished",
		logx.Int("ran", len(out.Results)),
		logx.Int("skipped", out.Skipped),
		logx.Bool("stopped", out.Stopped))
	return out, nil
}
