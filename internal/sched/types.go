package sched

import (
	"context"
	"time"
)

// Well-known entry names. Per-account entries use "account:<id>" and
// cloud-sync entries "sync:<name>".
const (
	EntryGlobal = "global"
	EntryBackup = "backup"

	accountPrefix = "account:"
	syncPrefix    = "sync:"
)

// Config describes every schedule entry the heartbeat evaluates. All cron
// expressions use standard five-field syntax.
type Config struct {
	Enabled bool
	// Heartbeat is the evaluation interval; the due window is always the
	// current minute regardless of this value.
	Heartbeat time.Duration
	Timezone  string

	// Global task schedule: full batch run over all enabled accounts.
	GlobalCron    string
	GlobalEnabled bool

	// Local backup schedule: snapshot export.
	BackupCron    string
	BackupEnabled bool

	// Cloud-sync schedules, zero or more.
	Syncs []SyncSchedule

	// StatePath persists entry lastRun times across restarts, so a restart
	// inside an already-fired minute window doesn't re-fire entries. Empty
	// keeps the state in memory only.
	StatePath string
}

type SyncSchedule struct {
	Name    string
	Cron    string
	Enabled bool
}

func (c Config) withDefaults() Config {
	if c.Heartbeat <= 0 {
		c.Heartbeat = time.Minute
	}
	return c
}

// Dispatch binds due entries to their actions. Actions run on their own
// goroutine; overlap prevention is the callee's job (running gate, batch
// gate), never the heartbeat's.
type Dispatch struct {
	RunBatch   func(ctx context.Context)
	RunAccount func(ctx context.Context, id string)
	Backup     func(ctx context.Context) error
	CloudSync  func(ctx context.Context, name string) error
}

// EntryInfo is a read-only view of one schedule entry for status surfaces.
type EntryInfo struct {
	Name    string    `json:"name"`
	Cron    string    `json:"cron"`
	Enabled bool      `json:"enabled"`
	Valid   bool      `json:"valid"`
	LastRun time.Time `json:"lastRun,omitempty"`
	NextRun time.Time `json:"nextRun,omitempty"`
}
