package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

const minimalJSON = `{
  "accounts": {"path": "accounts.json", "save_interval": "30s"},
  "runner": {"delay_min_sec": 3, "delay_max_sec": 8, "idle_reset": "3m"},
  "scheduler": {
    "enabled": true,
    "timezone": "UTC",
    "global": {"enabled": true, "cron": "0 9 * * *"},
    "backup": {"enabled": false, "cron": ""}
  },
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
}`

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Accounts.Path != "accounts.json" {
		t.Fatalf("accounts.path = %q", cfg.Accounts.Path)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Global.Cron != "0 9 * * *" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Runner.DelayMaxSec != 8 {
		t.Fatalf("runner = %+v", cfg.Runner)
	}
	if cfg.Notify != nil || cfg.Storage != nil {
		t.Fatal("absent optional sections should stay nil")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", `
accounts:
  path: accounts.json
runner:
  delay_min_sec: 3
scheduler:
  enabled: true
  global:
    enabled: true
    cron: "*/30 * * * *"
  backup:
    enabled: false
    cron: ""
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: file
  path: ./data
`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q", cfg.Logging.Level)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Scheduler.Global.Cron != "*/30 * * * *" {
		t.Fatalf("global.cron = %q", cfg.Scheduler.Global.Cron)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "json", file: "config.json", body: `{"accounts": {"path": "a.json"}, "schdeuler": {}}`},
		{name: "yaml", file: "config.yaml", body: "accounts:\n  path: a.json\nrunnner:\n  delay_min_sec: 1\n"},
		{name: "nested", file: "config.json", body: `{"accounts": {"path": "a.json", "svae_interval": "30s"}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, tt.file, tt.body))
			if _, err := m.Parse(); err == nil {
				t.Fatal("misspelled key accepted")
			}
		})
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"accounts": {"path": "a.json"}}{"x":1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing JSON accepted")
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get returned a different snapshot than Load committed")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.publish(&Config{})
	select {
	case got := <-ch:
		if got == nil {
			t.Fatal("nil config published")
		}
	default:
		t.Fatal("publish did not reach subscriber")
	}

	// Full buffer: the older snapshot is dropped, never the newest.
	stale := &Config{Logging: LoggingConfig{Level: "stale"}}
	fresh := &Config{Logging: LoggingConfig{Level: "fresh"}}
	m.publish(stale)
	m.publish(fresh)
	if got := <-ch; got.Logging.Level != "fresh" {
		t.Fatalf("subscriber saw %q, want the freshest snapshot", got.Logging.Level)
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel still open after Unsubscribe")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Accounts: AccountsConfig{Path: "accounts.json", SaveInterval: "30s"},
			Runner:   RunnerConfig{DelayMinSec: 3, DelayMaxSec: 8, IdleReset: "3m"},
			Scheduler: SchedulerConfig{
				Enabled:  true,
				Timezone: "UTC",
				Global:   GlobalCronConfig{Enabled: true, Cron: "0 9 * * *"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing accounts path", mutate: func(c *Config) { c.Accounts.Path = " " }, wantErr: "accounts.path"},
		{name: "bad save interval", mutate: func(c *Config) { c.Accounts.SaveInterval = "soon" }, wantErr: "save_interval"},
		{name: "negative delay", mutate: func(c *Config) { c.Runner.DelayMinSec = -1 }, wantErr: "delay"},
		{name: "min above max", mutate: func(c *Config) { c.Runner.DelayMinSec = 9 }, wantErr: "delay_min_sec"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{
			name: "cron is tolerated",
			mutate: func(c *Config) {
				c.Scheduler.Global.Cron = "totally not cron"
			},
		},
		{
			name: "duplicate sync id",
			mutate: func(c *Config) {
				c.Scheduler.Syncs = []SyncCronConfig{{ID: "x", Cron: "@daily"}, {ID: "x", Cron: "@daily"}}
			},
			wantErr: "duplicate",
		},
		{
			name: "notify without token",
			mutate: func(c *Config) {
				c.Notify = &NotifyConfig{Enabled: true, Targets: []NotifyTargetConfig{{ID: "t1", Enabled: true, UIDs: []string{"1"}}}}
			},
			wantErr: "telegram_token",
		},
		{
			name: "enabled target without recipients",
			mutate: func(c *Config) {
				c.Notify = &NotifyConfig{Enabled: true, TelegramToken: "tok", Targets: []NotifyTargetConfig{{ID: "t1", Enabled: true}}}
			},
			wantErr: "uids",
		},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} },
			wantErr: "storage.driver",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChangeNeverLogsToken(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{Notify: &NotifyConfig{Enabled: true, TelegramToken: "123456:SECRET-TOKEN"}}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	found := false
	for _, s := range sections {
		if s == "notify" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sections = %v, want notify flagged", sections)
	}

	var buf bytes.Buffer
	lg := zerolog.New(&buf)
	ev := lg.Info()
	for _, f := range attrs {
		f(ev)
	}
	ev.Msg("config changed")
	if strings.Contains(buf.String(), "SECRET-TOKEN") {
		t.Fatalf("token leaked into attrs: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "token_set") {
		t.Fatalf("token_set flag missing: %s", buf.String())
	}
}

func TestSummarizeConfigChangeNoChanges(t *testing.T) {
	t.Parallel()
	cfg := &Config{Accounts: AccountsConfig{Path: "a.json"}}
	sections, _ := SummarizeConfigChange(cfg, cfg)
	if len(sections) != 0 {
		t.Fatalf("sections = %v for identical configs", sections)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90s"); err != nil || d.Seconds() != 90 {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero, got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "five minutes"); err == nil {
		t.Fatal("bad duration accepted")
	}
}
