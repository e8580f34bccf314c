package config

// Config is the on-disk configuration. JSON and YAML are both accepted;
// YAML is coerced to JSON before strict decoding, so unknown keys are
// rejected in either format.
type Config struct {
	Accounts  AccountsConfig   `json:"accounts"`
	Runner    RunnerConfig     `json:"runner"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	Logging   LoggingConfig    `json:"logging"`
	Notify    *NotifyConfig    `json:"notify,omitempty"`
	Backup    *BackupConfig    `json:"backup,omitempty"`
	CloudSync *CloudSyncConfig `json:"cloud_sync,omitempty"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
}

type AccountsConfig struct {
	// Path of the persisted account collection (JSON).
	Path string `json:"path"`
	// SaveInterval is a Go duration string; how often dirty state is flushed.
	SaveInterval string `json:"save_interval,omitempty"`
}

// RunnerConfig controls task execution pacing.
//
// All durations are Go duration strings (e.g. "30s", "2m").
type RunnerConfig struct {
	// DelayMinSec/DelayMaxSec bound the randomized pause between read
	// iterations and between accounts in a batch.
	DelayMinSec int `json:"delay_min_sec,omitempty"`
	DelayMaxSec int `json:"delay_max_sec,omitempty"`
	// IdleReset is how long success/error is displayed before the account
	// returns to idle. "0s" keeps the default.
	IdleReset string `json:"idle_reset,omitempty"`
	// SkipCompletedToday skips accounts that already finished their dailies
	// in batch runs. Omitted means enabled.
	SkipCompletedToday *bool `json:"skip_completed_today,omitempty"`
}

// SchedulerConfig controls the heartbeat and its cron entries.
//
// Cron expressions use the standard 5-field form and accept descriptors
// like "@daily".
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Heartbeat is a Go duration string; default "1m". The heartbeat is the
	// granularity at which cron entries are evaluated.
	Heartbeat string `json:"heartbeat,omitempty"`
	// Timezone for cron evaluation, e.g. "Asia/Shanghai". Empty means local.
	Timezone string `json:"timezone,omitempty"`

	Global GlobalCronConfig `json:"global"`
	Backup BackupCronConfig `json:"backup"`
	Syncs  []SyncCronConfig `json:"syncs,omitempty"`
}

// GlobalCronConfig is the batch-run-everyone cadence. Accounts without their
// own expression inherit this one.
type GlobalCronConfig struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron"`
}

type BackupCronConfig struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron"`
}

type SyncCronConfig struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifyConfig controls the async notification pipeline.
// If the whole section is omitted, notifications are disabled.
type NotifyConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	AllowSinglePush bool   `json:"allow_single_push"`
	TelegramToken   string `json:"telegram_token,omitempty"`

	Targets []NotifyTargetConfig `json:"targets,omitempty"`
}

type NotifyTargetConfig struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Enabled bool     `json:"enabled"`
	UIDs    []string `json:"uids"`
	// Accounts filters which account ids this target hears about.
	// Empty means all.
	Accounts []string `json:"accounts,omitempty"`
}

type BackupConfig struct {
	Enabled bool `json:"enabled"`
	Keep    int  `json:"keep,omitempty"`
}

type CloudSyncConfig struct {
	Enabled bool   `json:"enabled"`
	Folder  string `json:"folder,omitempty"`
	File    string `json:"file,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./rewardbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
