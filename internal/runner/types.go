package runner

import (
	"time"

	"rewardbot/internal/account"
)

// Mode selects which task groups a run executes.
type Mode string

const (
	ModeAll      Mode = "all"
	ModeSignOnly Mode = "sign_only"
	ModeReadOnly Mode = "read_only"
)

func (m Mode) wantsSign() bool { return m == ModeAll || m == ModeSignOnly }
func (m Mode) wantsRead() bool { return m == ModeAll || m == ModeReadOnly }

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAll, ModeSignOnly, ModeReadOnly:
		return true
	}
	return false
}

// CallOutcome is one sub-call's classified result. The sign sequence keeps
// all three outcomes so "already claimed" stays distinguishable from a
// genuine partial failure.
type CallOutcome struct {
	Name    string         `json:"name"`
	Status  account.Status `json:"status"` // success, error, or risk
	Points  int            `json:"points"`
	Message string         `json:"message,omitempty"`
}

// SignOutcome holds the three quasi-independent sign sub-calls, in execution
// order. Succeeded is true iff any of the three succeeded: the calls exercise
// different award rules and partial failure is steady-state behavior.
type SignOutcome struct {
	Heartbeat   CallOutcome `json:"heartbeat"`
	MobileBonus CallOutcome `json:"mobileBonus"`
	CheckIn     CallOutcome `json:"checkIn"`
}

func (s SignOutcome) Succeeded() bool {
	return s.Heartbeat.Status == account.StatusSuccess ||
		s.MobileBonus.Status == account.StatusSuccess ||
		s.CheckIn.Status == account.StatusSuccess
}

func (s SignOutcome) Points() int {
	return s.Heartbeat.Points + s.MobileBonus.Points + s.CheckIn.Points
}

// Result is what a single-account run reports upward.
type Result struct {
	AccountID   string            `json:"accountId"`
	AccountName string            `json:"accountName"`
	Mode        Mode              `json:"mode"`
	Status      account.Status    `json:"status"`
	Earned      int               `json:"earned"`
	TotalPoints int               `json:"totalPoints"`
	Stats       account.TaskStats `json:"stats"`
	Sign        *SignOutcome      `json:"sign,omitempty"`
	ReadCalls   int               `json:"readCalls"`
	Duration    time.Duration     `json:"duration"`
	Message     string            `json:"message,omitempty"`
}

// BatchOptions configures a batch run over all enabled accounts.
type BatchOptions struct {
	Mode Mode
	// Delay between accounts (bursty traffic avoidance).
	Delay time.Duration
	// SkipCompletedToday skips accounts whose lastDailySuccess falls on the
	// current calendar day.
	SkipCompletedToday bool
	// Source tags system-log entries (scheduler/manual).
	Source string
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Results []Result `json:"results"`
	Skipped int      `json:"skipped"`
	Stopped bool     `json:"stopped"`
}

// Config holds runner knobs; Apply replaces it atomically on hot reload.
type Config struct {
	// DelayMin/DelayMax bound the randomized human-like delay between
	// network calls, in whole seconds.
	DelayMinSec int
	DelayMaxSec int
	// IdleResetAfter > 0 arms a one-shot timer returning success/error
	// accounts to idle.
	IdleResetAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.DelayMinSec <= 0 {
		c.DelayMinSec = 3
	}
	if c.DelayMaxSec < c.DelayMinSec {
		c.DelayMaxSec = c.DelayMinSec
	}
	return c
}
