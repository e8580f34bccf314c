package config

import (
	"reflect"
	"sort"
	"strings"

	logx "rewardbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Accounts != newCfg.Accounts {
		changed = append(changed, "accounts")
		attrs = append(attrs,
			logx.String("accounts.path", strings.TrimSpace(newCfg.Accounts.Path)),
			logx.String("accounts.save_interval", strings.TrimSpace(newCfg.Accounts.SaveInterval)),
		)
	}

	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.Int("runner.delay_min_sec", newCfg.Runner.DelayMinSec),
			logx.Int("runner.delay_max_sec", newCfg.Runner.DelayMaxSec),
			logx.String("runner.idle_reset", strings.TrimSpace(newCfg.Runner.IdleReset)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Bool("scheduler.global_enabled", newCfg.Scheduler.Global.Enabled),
			logx.String("scheduler.global_cron", strings.TrimSpace(newCfg.Scheduler.Global.Cron)),
			logx.Bool("scheduler.backup_enabled", newCfg.Scheduler.Backup.Enabled),
			logx.Int("scheduler.sync_count", len(newCfg.Scheduler.Syncs)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Notify (never log the token; nil means disabled)
	oldN, newN := oldCfg.Notify, newCfg.Notify
	if oldN == nil {
		oldN = &NotifyConfig{}
	}
	if newN == nil {
		newN = &NotifyConfig{}
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newN.Enabled),
			logx.Int("notify.workers", newN.Workers),
			logx.Int("notify.rate_per_sec", newN.RatePerSec),
			logx.Bool("notify.allow_single_push", newN.AllowSinglePush),
			logx.Bool("notify.token_set", strings.TrimSpace(newN.TelegramToken) != ""),
			logx.Int("notify.target_count", len(newN.Targets)),
		)
	}

	oldB, newB := oldCfg.Backup, newCfg.Backup
	if oldB == nil {
		oldB = &BackupConfig{}
	}
	if newB == nil {
		newB = &BackupConfig{}
	}
	if *oldB != *newB {
		changed = append(changed, "backup")
		attrs = append(attrs,
			logx.Bool("backup.enabled", newB.Enabled),
			logx.Int("backup.keep", newB.Keep),
		)
	}

	oldCS, newCS := oldCfg.CloudSync, newCfg.CloudSync
	if oldCS == nil {
		oldCS = &CloudSyncConfig{}
	}
	if newCS == nil {
		newCS = &CloudSyncConfig{}
	}
	if *oldCS != *newCS {
		changed = append(changed, "cloud_sync")
		attrs = append(attrs,
			logx.Bool("cloud_sync.enabled", newCS.Enabled),
			logx.String("cloud_sync.folder", strings.TrimSpace(newCS.Folder)),
		)
	}

	// Storage (nil means disabled)
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
