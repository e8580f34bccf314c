package app

import (
	"path/filepath"
	"strings"
	"time"

	"rewardbot/internal/backup"
	"rewardbot/internal/cloudsync"
	"rewardbot/internal/config"
	"rewardbot/internal/notify"
	"rewardbot/internal/runner"
	"rewardbot/internal/sched"
	"rewardbot/internal/storage"
)

// Mapping helpers translate the on-disk config (duration strings, optional
// sections) into each service's typed config.

func mapRunnerConfig(cfg *config.Config) (runner.Config, error) {
	idleReset, err := config.ParseDurationField("runner.idle_reset", cfg.Runner.IdleReset)
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		DelayMinSec:    cfg.Runner.DelayMinSec,
		DelayMaxSec:    cfg.Runner.DelayMaxSec,
		IdleResetAfter: idleReset,
	}, nil
}

func mapSchedConfig(cfg *config.Config) (sched.Config, error) {
	hb, err := config.ParseDurationOrDefault("scheduler.heartbeat", cfg.Scheduler.Heartbeat, time.Minute)
	if err != nil {
		return sched.Config{}, err
	}
	out := sched.Config{
		Enabled:       cfg.Scheduler.Enabled,
		Heartbeat:     hb,
		Timezone:      cfg.Scheduler.Timezone,
		GlobalCron:    cfg.Scheduler.Global.Cron,
		GlobalEnabled: cfg.Scheduler.Global.Enabled,
		BackupCron:    cfg.Scheduler.Backup.Cron,
		BackupEnabled: cfg.Scheduler.Backup.Enabled,
	}
	// Entry state lives next to the account collection so both survive a
	// restart together.
	if p := strings.TrimSpace(cfg.Accounts.Path); p != "" {
		out.StatePath = filepath.Join(filepath.Dir(p), "scheduler_state.json")
	}
	for _, sc := range cfg.Scheduler.Syncs {
		out.Syncs = append(out.Syncs, sched.SyncSchedule{
			Name:    sc.ID,
			Cron:    sc.Cron,
			Enabled: sc.Enabled,
		})
	}
	return out, nil
}

func mapNotifyConfig(cfg *config.Config) notify.Config {
	n := cfg.Notify
	if n == nil {
		return notify.Config{}
	}
	out := notify.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		AllowSinglePush: n.AllowSinglePush,
	}
	for _, t := range n.Targets {
		out.Targets = append(out.Targets, notify.Target{
			ID:             t.ID,
			Name:           t.Name,
			UIDs:           t.UIDs,
			FilterAccounts: t.Accounts,
			Enabled:        t.Enabled,
		})
	}
	return out
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	s := cfg.Storage
	if s == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        s.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapBackupConfig(cfg *config.Config) backup.Config {
	if cfg.Backup == nil {
		return backup.Config{}
	}
	return backup.Config{
		Enabled: cfg.Backup.Enabled,
		Keep:    cfg.Backup.Keep,
	}
}

func mapCloudSyncConfig(cfg *config.Config) cloudsync.Config {
	if cfg.CloudSync == nil {
		return cloudsync.Config{}
	}
	return cloudsync.Config{
		Enabled: cfg.CloudSync.Enabled,
		Folder:  cfg.CloudSync.Folder,
		File:    cfg.CloudSync.File,
	}
}

func mapSaveInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("accounts.save_interval", cfg.Accounts.SaveInterval, 30*time.Second)
}
