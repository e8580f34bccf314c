package runner

import (
	"context"
	"time"

	"rewardbot/internal/account"
	"rewardbot/internal/rewards"
)

// signStepPause is the small fixed pause between the three sign sub-calls.
const signStepPause = 2 * time.Second

type signStep struct {
	name string
	act  rewards.Activity
	out  *CallOutcome
}

// signSequence runs the three quasi-independent remote calls in order:
// app-activity heartbeat, mobile-bonus claim, daily check-in claim.
//
// Each call classifies its own response and contributes any points earned;
// the sequence is not retried as a unit. A returned error means the run must
// abort (hard risk, or risk with ignoreRisk off); otherwise the per-call
// outcomes carry the full three-way picture, so "already claimed" remains
// distinguishable from genuine failure.
func (r *Runner) signSequence(ctx context.Context, id, token string, ignoreRisk bool, source string) (SignOutcome, error) {
	var outcome SignOutcome
	steps := []signStep{
		{"heartbeat", rewards.HeartbeatActivity(), &outcome.Heartbeat},
		{"mobile_bonus", rewards.MobileBonusActivity(), &outcome.MobileBonus},
		{"checkin", rewards.CheckInActivity(), &outcome.CheckIn},
	}

	for i, step := range steps {
		step.out.Name = step.name
		if i > 0 {
			if err := r.sleep(ctx, signStepPause); err != nil {
				step.out.Status = account.StatusError
				step.out.Message = "canceled"
				return outcome, err
			}
		}

		pts, err := r.api.SubmitActivity(ctx, token, step.act)
		if err == nil {
			step.out.Status = account.StatusSuccess
			step.out.Points = pts
			r.store.AppendLog(id, source, "info", "sign "+step.name+": ok")
			continue
		}

		step.out.Message = err.Error()
		if rewards.IsRisk(err) {
			step.out.Status = account.StatusRisk
			if !ignoreRisk || rewards.IsFatalRisk(err) {
				r.store.AppendLog(id, source, "error", "sign "+step.name+": risk signal: "+err.Error())
				return outcome, err
			}
			// Soft risk under ignoreRisk: log and keep going.
			r.store.AppendLog(id, source, "warn", "sign "+step.name+": soft risk ignored: "+err.Error())
			continue
		}
		// Partial failure is expected steady state ("already claimed today").
		step.out.Status = account.StatusError
		r.store.AppendLog(id, source, "warn", "sign "+step.name+": "+err.Error())
	}
	return outcome, nil
}
