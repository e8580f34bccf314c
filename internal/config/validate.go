package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate performs static checks. Cron expressions are deliberately not
// validated here; the scheduler tolerates a bad expression at runtime
// (logged, never due) so one typo can't reject a whole reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Accounts.Path) == "" {
		return fmt.Errorf("accounts.path is required")
	}
	if _, err := ParseDurationField("accounts.save_interval", cfg.Accounts.SaveInterval); err != nil {
		return err
	}

	if cfg.Runner.DelayMinSec < 0 || cfg.Runner.DelayMaxSec < 0 {
		return fmt.Errorf("runner: delays must be >= 0")
	}
	if cfg.Runner.DelayMaxSec > 0 && cfg.Runner.DelayMinSec > cfg.Runner.DelayMaxSec {
		return fmt.Errorf("runner: delay_min_sec > delay_max_sec")
	}
	if _, err := ParseDurationField("runner.idle_reset", cfg.Runner.IdleReset); err != nil {
		return err
	}

	if _, err := ParseDurationField("scheduler.heartbeat", cfg.Scheduler.Heartbeat); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	seen := map[string]bool{}
	for i, sc := range cfg.Scheduler.Syncs {
		id := strings.TrimSpace(sc.ID)
		if id == "" {
			return fmt.Errorf("scheduler.syncs[%d]: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("scheduler.syncs[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
	}

	if n := cfg.Notify; n != nil && n.Enabled {
		if len(n.Targets) > 0 && strings.TrimSpace(n.TelegramToken) == "" {
			return fmt.Errorf("notify: telegram_token is required when targets are set")
		}
		ids := map[string]bool{}
		for i, t := range n.Targets {
			id := strings.TrimSpace(t.ID)
			if id == "" {
				return fmt.Errorf("notify.targets[%d]: id is required", i)
			}
			if ids[id] {
				return fmt.Errorf("notify.targets[%d]: duplicate id %q", i, id)
			}
			ids[id] = true
			if t.Enabled && len(t.UIDs) == 0 {
				return fmt.Errorf("notify.targets[%d]: uids are required for an enabled target", i)
			}
		}
	}

	if s := cfg.Storage; s != nil {
		switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", d)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	return nil
}
