package account

import (
	"time"
)

// Status is the per-account run state.
//
// Transitions: idle -> running -> {success, error, risk}. success/error may
// auto-return to idle after the configured idle-reset delay. risk is sticky
// until the next explicit run attempt.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusRisk    Status = "risk"
	StatusWaiting Status = "waiting"
)

const (
	// maxLogEntries bounds the per-account log ring.
	maxLogEntries = 50
	// maxHistoryEntries bounds the per-account point history; oldest dropped.
	maxHistoryEntries = 200
	// historyOverwriteWindow: revisions this close to the previous entry
	// overwrite it in place instead of appending.
	historyOverwriteWindow = 60 * time.Second
)

type LogEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

type PointHistoryItem struct {
	Date   time.Time `json:"date"`
	Points int       `json:"points"`
}

// TaskStats tracks per-task progress against the maxima reported by the
// dashboard. Read progress/max are in dashboard points, not iterations.
type TaskStats struct {
	SignedToday  bool `json:"signedToday"`
	ReadProgress int  `json:"readProgress"`
	ReadMax      int  `json:"readMax"`
}

// Account is one credentialed identity being automated.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// RefreshToken is the long-lived secret; rotated on every refresh exchange.
	RefreshToken   string    `json:"refreshToken"`
	AccessToken    string    `json:"accessToken,omitempty"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt,omitempty"`

	Status           Status    `json:"status"`
	LastRunTime      time.Time `json:"lastRunTime,omitempty"`
	LastDailySuccess time.Time `json:"lastDailySuccess,omitempty"`

	TotalPoints  int                `json:"totalPoints"`
	Stats        TaskStats          `json:"stats"`
	PointHistory []PointHistoryItem `json:"pointHistory,omitempty"`
	Logs         []LogEntry         `json:"logs,omitempty"`

	Enabled bool `json:"enabled"`
	// CronEnabled toggles the account's own schedule without disabling the
	// account for batch runs.
	CronEnabled bool `json:"cronEnabled"`
	// CronExpression overrides the global cadence when non-empty.
	CronExpression string `json:"cronExpression,omitempty"`
	// IgnoreRisk forces continuation past soft risk signals.
	IgnoreRisk bool `json:"ignoreRisk"`
}

// AppendLog appends to the account's bounded log ring.
func (a *Account) AppendLog(level, msg string) {
	a.Logs = append(a.Logs, LogEntry{At: time.Now(), Level: level, Message: msg})
	if len(a.Logs) > maxLogEntries {
		a.Logs = a.Logs[len(a.Logs)-maxLogEntries:]
	}
}

// RecordPoints records a point observation into the history.
//
// Rules:
//   - Same calendar day with an unchanged value: coalesced, no new entry.
//   - Within historyOverwriteWindow of the previous entry: overwrite in place
//     (rapid consecutive calls must not produce noisy history).
//   - Otherwise append; oldest entries drop past maxHistoryEntries.
func (a *Account) RecordPoints(now time.Time, points int) {
	if n := len(a.PointHistory); n > 0 {
		last := &a.PointHistory[n-1]
		if sameDay(last.Date, now) && last.Points == points {
			return
		}
		if now.Sub(last.Date) >= 0 && now.Sub(last.Date) <= historyOverwriteWindow {
			last.Date = now
			last.Points = points
			return
		}
	}
	a.PointHistory = append(a.PointHistory, PointHistoryItem{Date: now, Points: points})
	if len(a.PointHistory) > maxHistoryEntries {
		a.PointHistory = a.PointHistory[len(a.PointHistory)-maxHistoryEntries:]
	}
}

// CompletedToday reports whether the last daily success falls on the same
// calendar day as now (skip-completed policy).
func (a *Account) CompletedToday(now time.Time) bool {
	return !a.LastDailySuccess.IsZero() && sameDay(a.LastDailySuccess, now)
}

// Clone returns a deep copy safe to hand outside the store lock.
func (a *Account) Clone() Account {
	cp := *a
	cp.PointHistory = append([]PointHistoryItem(nil), a.PointHistory...)
	cp.Logs = append([]LogEntry(nil), a.Logs...)
	return cp
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
