// Package sched implements the dual-level scheduler: a one-minute heartbeat
// evaluates the global task schedule, per-account schedules, the local-backup
// schedule, and cloud-sync schedules, firing each at most once per minute
// window.
package sched

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rewardbot/internal/account"
	"rewardbot/internal/syslog"
	logx "rewardbot/pkg/logx"
)

type Service struct {
	log   logx.Logger
	sys   *syslog.Log
	store *account.Store

	parser   cron.Parser
	dispatch Dispatch

	mu  sync.Mutex
	cfg Config
	loc *time.Location
	// lastRun is evaluation state for global/backup/sync entries, written
	// through to cfg.StatePath when set. Per-account entries use the
	// account's own lastRunTime (the store owns that persistence).
	lastRun map[string]time.Time
	// badCron marks entries whose expression failed to parse; they are
	// perpetually not-due until a config reload corrects them.
	badCron map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

func New(cfg Config, store *account.Store, dispatch Dispatch, sys *syslog.Log, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		sys:      sys,
		store:    store,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		dispatch: dispatch,
		lastRun:  map[string]time.Time{},
		badCron:  map[string]bool{},
		now:      time.Now,
	}
	s.applyLocked(cfg)
	s.loadState()
	return s
}

// loadState restores persisted entry state. A missing file is the normal
// first start; a corrupt one is logged and discarded.
func (s *Service) loadState() {
	s.mu.Lock()
	path := s.cfg.StatePath
	s.mu.Unlock()
	if path == "" {
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("scheduler state unreadable; starting fresh", logx.String("path", path), logx.Err(err))
		}
		return
	}
	state := map[string]time.Time{}
	if err := json.Unmarshal(b, &state); err != nil {
		s.log.Warn("scheduler state corrupt; starting fresh", logx.String("path", path), logx.Err(err))
		return
	}
	s.mu.Lock()
	for name, at := range state {
		s.lastRun[name] = at
	}
	s.mu.Unlock()
	s.log.Debug("scheduler state restored", logx.Int("entries", len(state)))
}

func (s *Service) saveStateLocked() {
	path := s.cfg.StatePath
	if path == "" {
		return
	}
	b, err := json.Marshal(s.lastRun)
	if err != nil {
		return
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.log.Warn("scheduler state save failed", logx.String("path", path), logx.Err(err))
			return
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		s.log.Warn("scheduler state save failed", logx.String("path", path), logx.Err(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.log.Warn("scheduler state save failed", logx.String("path", path), logx.Err(err))
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps scheduler config at runtime. Invalid cron expressions are
// logged as configuration errors and their entries stay not-due.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg.withDefaults()
	s.loc = s.loadLocationLocked()
	s.badCron = map[string]bool{}
	s.checkExprLocked(EntryGlobal, cfg.GlobalCron, cfg.GlobalEnabled)
	s.checkExprLocked(EntryBackup, cfg.BackupCron, cfg.BackupEnabled)
	for _, sy := range cfg.Syncs {
		s.checkExprLocked(syncPrefix+sy.Name, sy.Cron, sy.Enabled)
	}
}

func (s *Service) checkExprLocked(name, expr string, enabled bool) {
	if !enabled || strings.TrimSpace(expr) == "" {
		return
	}
	if _, err := s.parser.Parse(expr); err != nil {
		s.badCron[name] = true
		s.log.Error("invalid cron expression; entry will not fire",
			logx.String("entry", name), logx.String("cron", expr), logx.Err(err))
		if s.sys != nil {
			s.sys.Append(syslog.Entry{Source: syslog.SourceScheduler, Level: "error",
				Message: "invalid cron for " + name + ": " + expr})
		}
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start launches the heartbeat loop. Safe to call once per Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	hb := s.cfg.Heartbeat
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(hb)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-t.C:
				s.Heartbeat(ctx)
			}
		}
	}()
	s.log.Info("scheduler started", logx.Duration("heartbeat", hb))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

// Heartbeat evaluates every entry against the current minute window and
// dispatches each due action exactly once for that window. Exported so a
// manual trigger and tests can drive it directly.
func (s *Service) Heartbeat(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	cfg := s.cfg
	loc := s.loc
	bad := s.badCron
	s.mu.Unlock()
	if !cfg.Enabled {
		return
	}
	now = now.In(loc)

	// Global batch.
	if cfg.GlobalEnabled && !bad[EntryGlobal] && s.entryDue(EntryGlobal, cfg.GlobalCron, now) {
		s.markRun(EntryGlobal, now)
		s.log.Info("global schedule due; starting batch run")
		if s.dispatch.RunBatch != nil {
			go s.dispatch.RunBatch(ctx)
		}
	}

	// Per-account schedules: both the account and its own cron toggle must
	// be enabled; the account's stored lastRunTime advances the window.
	for _, acc := range s.store.List() {
		if !acc.Enabled || !acc.CronEnabled {
			continue
		}
		expr := strings.TrimSpace(acc.CronExpression)
		if expr == "" {
			expr = cfg.GlobalCron
		}
		if expr == "" {
			continue
		}
		if acc.Status == account.StatusRunning {
			// Running gate: skip, never block or queue.
			continue
		}
		name := accountPrefix + acc.ID
		// The account's persisted lastRunTime is stamped when the run
		// actually begins; the in-memory mark closes the window between
		// dispatch and start.
		s.mu.Lock()
		last := s.lastRun[name]
		s.mu.Unlock()
		if acc.LastRunTime.After(last) {
			last = acc.LastRunTime
		}
		if !s.due(expr, now, last) {
			continue
		}
		s.markRun(name, now)
		s.log.Info("account schedule due", logx.String("account", acc.ID), logx.String("cron", expr))
		if s.dispatch.RunAccount != nil {
			go s.dispatch.RunAccount(ctx, acc.ID)
		}
	}

	// Backup.
	if cfg.BackupEnabled && !bad[EntryBackup] && s.entryDue(EntryBackup, cfg.BackupCron, now) {
		s.markRun(EntryBackup, now)
		s.log.Info("backup schedule due")
		if s.dispatch.Backup != nil {
			go func() {
				if err := s.dispatch.Backup(ctx); err != nil {
					s.log.Error("scheduled backup failed", logx.Err(err))
				}
			}()
		}
	}

	// Cloud sync.
	for _, sy := range cfg.Syncs {
		name := syncPrefix + sy.Name
		if !sy.Enabled || bad[name] {
			continue
		}
		if !s.entryDue(name, sy.Cron, now) {
			continue
		}
		s.markRun(name, now)
		s.log.Info("cloud-sync schedule due", logx.String("sync", sy.Name))
		if s.dispatch.CloudSync != nil {
			syName := sy.Name
			go func() {
				if err := s.dispatch.CloudSync(ctx, syName); err != nil {
					s.log.Error("scheduled cloud sync failed", logx.String("sync", syName), logx.Err(err))
				}
			}()
		}
	}
}

func (s *Service) entryDue(name, expr string, now time.Time) bool {
	s.mu.Lock()
	last := s.lastRun[name]
	s.mu.Unlock()
	return s.due(expr, now, last)
}

func (s *Service) markRun(name string, now time.Time) {
	s.mu.Lock()
	s.lastRun[name] = now
	s.saveStateLocked()
	s.mu.Unlock()
}

// due reports whether an entry fires in the current minute window.
//
// The next run is computed from the window start (never a stale base time,
// so no drift) and the entry is due only when that next run lands inside the
// window. A lastRun already inside the window suppresses re-firing on
// subsequent heartbeats within the same minute.
func (s *Service) due(expr string, now time.Time, lastRun time.Time) bool {
	window := now.Truncate(time.Minute)
	if !lastRun.Before(window) {
		return false
	}
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return false
	}
	next := sched.Next(window.Add(-time.Second))
	return !next.Before(window) && next.Before(window.Add(time.Minute))
}

// Reset zeroes an entry's lastRunTime. The entry may fire on the very next
// heartbeat if the current minute still matches its pattern; that is the
// intended escape hatch.
func (s *Service) Reset(name string) bool {
	if id, ok := strings.CutPrefix(name, accountPrefix); ok {
		s.mu.Lock()
		delete(s.lastRun, name)
		s.saveStateLocked()
		s.mu.Unlock()
		_, found := s.store.Update(id, func(a *account.Account) { a.LastRunTime = time.Time{} })
		return found
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lastRun[name]; !ok {
		return false
	}
	delete(s.lastRun, name)
	s.saveStateLocked()
	return true
}

// Entries returns a read-only view of all schedule entries with their next
// run times.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	cfg := s.cfg
	loc := s.loc
	s.mu.Unlock()

	now := s.now().In(loc)
	out := []EntryInfo{
		s.entryInfo(EntryGlobal, cfg.GlobalCron, cfg.GlobalEnabled, now),
		s.entryInfo(EntryBackup, cfg.BackupCron, cfg.BackupEnabled, now),
	}
	for _, sy := range cfg.Syncs {
		out = append(out, s.entryInfo(syncPrefix+sy.Name, sy.Cron, sy.Enabled, now))
	}
	for _, acc := range s.store.List() {
		expr := strings.TrimSpace(acc.CronExpression)
		if expr == "" {
			expr = cfg.GlobalCron
		}
		info := s.entryInfo(accountPrefix+acc.ID, expr, acc.Enabled && acc.CronEnabled, now)
		info.LastRun = acc.LastRunTime
		out = append(out, info)
	}
	return out
}

func (s *Service) entryInfo(name, expr string, enabled bool, now time.Time) EntryInfo {
	info := EntryInfo{Name: name, Cron: expr, Enabled: enabled}
	s.mu.Lock()
	info.LastRun = s.lastRun[name]
	bad := s.badCron[name]
	s.mu.Unlock()
	if expr == "" || bad {
		return info
	}
	if sched, err := s.parser.Parse(expr); err == nil {
		info.Valid = true
		info.NextRun = sched.Next(now)
	}
	return info
}
