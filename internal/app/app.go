// Package app wires the services together and owns the process lifecycle:
// config load/watch/hot-reload, start order, and bounded shutdown.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rewardbot/internal/account"
	"rewardbot/internal/backup"
	"rewardbot/internal/cloudsync"
	"rewardbot/internal/config"
	"rewardbot/internal/credentials"
	"rewardbot/internal/notify"
	"rewardbot/internal/rewards"
	"rewardbot/internal/runner"
	"rewardbot/internal/runtime/supervisor"
	"rewardbot/internal/sched"
	"rewardbot/internal/storage"
	"rewardbot/internal/syslog"
	logx "rewardbot/pkg/logx"
)

type App struct {
	cfgPath string
	version string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	sys  *syslog.Log

	store *account.Store
	st    storage.Store

	api   rewards.API
	creds *credentials.Manager
	run   *runner.Runner
	sched *sched.Service
	notif *notify.Service
	bk    *backup.Service
	sync  *cloudsync.Service

	saveInterval time.Duration
}

type Option func(*newOptions)

type newOptions struct {
	collaborator cloudsync.Collaborator
	api          rewards.API
}

// WithCollaborator installs the remote file collaborator used by cloud sync.
// Without one, sync entries fail with cloudsync.ErrDisabled.
func WithCollaborator(c cloudsync.Collaborator) Option {
	return func(o *newOptions) { o.collaborator = c }
}

// WithRewardsAPI overrides the HTTP client (tests).
func WithRewardsAPI(api rewards.API) Option {
	return func(o *newOptions) { o.api = api }
}

func New(cfgPath, version string, opts ...Option) (*App, error) {
	var no newOptions
	for _, o := range opts {
		o(&no)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	sys := syslog.New(0)

	store := account.NewStore(cfg.Accounts.Path, sys, log.With(logx.String("comp", "accounts")))
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	// Storage (optional)
	var st storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	api := no.api
	if api == nil {
		api = rewards.NewClient(rewards.Config{}, log.With(logx.String("comp", "rewards")))
	}
	creds := credentials.NewManager(api, store, log.With(logx.String("comp", "credentials")))

	rcfg, err := mapRunnerConfig(cfg)
	if err != nil {
		return nil, err
	}
	run := runner.New(rcfg, api, creds, store, log.With(logx.String("comp", "runner")))

	var pusher notify.Pusher
	if n := cfg.Notify; n != nil && strings.TrimSpace(n.TelegramToken) != "" {
		pusher, err = notify.NewTelegramPusher(n.TelegramToken, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram pusher: %w", err)
		}
	}
	notif := notify.New(mapNotifyConfig(cfg), pusher, store, log.With(logx.String("comp", "notify")))

	bk := backup.New(store, st, version, func() ([]byte, error) {
		return json.Marshal(cfgm.Get())
	}, log)
	bk.Apply(mapBackupConfig(cfg))

	syncSvc := cloudsync.New(no.collaborator, store, bk, log)
	syncSvc.Apply(mapCloudSyncConfig(cfg))

	saveInterval, err := mapSaveInterval(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:      cfgPath,
		version:      version,
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		sys:          sys,
		store:        store,
		st:           st,
		api:          api,
		creds:        creds,
		run:          run,
		notif:        notif,
		bk:           bk,
		sync:         syncSvc,
		saveInterval: saveInterval,
	}

	scfg, err := mapSchedConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = sched.New(scfg, store, a.dispatch(), sys, log.With(logx.String("comp", "sched")))

	return a, nil
}

// dispatch binds schedule entries to the app's run/backup/sync wrappers so
// every trigger path also feeds notifications and the run audit.
func (a *App) dispatch() sched.Dispatch {
	return sched.Dispatch{
		RunBatch: func(ctx context.Context) {
			_, _ = a.RunBatch(ctx, runner.ModeAll, "scheduler")
		},
		RunAccount: func(ctx context.Context, id string) {
			_, _ = a.RunAccount(ctx, id, runner.ModeAll, "scheduler")
		},
		Backup: func(ctx context.Context) error {
			_, err := a.bk.Export(ctx)
			return err
		},
		CloudSync: func(ctx context.Context, name string) error {
			res, err := a.sync.Sync(ctx)
			if err != nil {
				return err
			}
			a.log.Info("cloud sync completed",
				logx.String("sync", name),
				logx.Int("added", res.Added),
				logx.Int("updated", res.Updated),
				logx.Int("kept", res.Kept))
			return nil
		},
	}
}

// Store exposes the account collection for operational surfaces.
func (a *App) Store() *account.Store { return a.store }

// SystemLog exposes the in-memory system log ring.
func (a *App) SystemLog() *syslog.Log { return a.sys }

// Scheduler exposes schedule entry state for operational surfaces.
func (a *App) Scheduler() *sched.Service { return a.sched }

// Credentials exposes onboarding (add-account flows).
func (a *App) Credentials() *credentials.Manager { return a.creds }

// RunAccount runs a single account and fans the result out to notifications
// and the run audit.
func (a *App) RunAccount(ctx context.Context, id string, mode runner.Mode, source string) (runner.Result, error) {
	res, err := a.run.Run(ctx, id, mode, source)
	if err != nil {
		return runner.Result{}, err
	}
	a.notif.NotifyRun(res)
	a.recordRun(res, source)
	return res, nil
}

// RunBatch runs every enabled account sequentially; the batch report always
// pushes (unlike single runs, which are gated by allow_single_push).
func (a *App) RunBatch(ctx context.Context, mode runner.Mode, source string) (runner.BatchResult, error) {
	br, err := a.run.RunBatch(ctx, runner.BatchOptions{
		Mode:               mode,
		Delay:              a.batchDelay(),
		SkipCompletedToday: a.skipCompletedToday(),
		Source:             source,
	})
	if err != nil {
		return runner.BatchResult{}, err
	}
	a.notif.NotifyBatch(br)
	for _, res := range br.Results {
		a.recordRun(res, source)
	}
	return br, nil
}

// StopBatch asks an in-flight batch to stop at the next account boundary.
func (a *App) StopBatch() { a.run.RequestStop() }

func (a *App) batchDelay() time.Duration {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return 3 * time.Second
	}
	sec := cfg.Runner.DelayMaxSec
	if sec <= 0 {
		sec = 3
	}
	return time.Duration(sec) * time.Second
}

func (a *App) skipCompletedToday() bool {
	cfg := a.cfgm.Get()
	if cfg == nil || cfg.Runner.SkipCompletedToday == nil {
		return true
	}
	return *cfg.Runner.SkipCompletedToday
}

func (a *App) recordRun(res runner.Result, source string) {
	if a.st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := a.st.AppendRun(ctx, storage.RunRecord{
		At:          time.Now(),
		AccountID:   res.AccountID,
		AccountName: res.AccountName,
		Mode:        string(res.Mode),
		Source:      source,
		Status:      string(res.Status),
		Earned:      res.Earned,
		TotalPoints: res.TotalPoints,
		ReadDone:    res.Stats.ReadProgress,
		ReadTotal:   res.Stats.ReadMax,
		TookMS:      res.Duration.Milliseconds(),
		Error:       res.Message,
	})
	if err != nil {
		a.log.Warn("run audit append failed", logx.Err(err))
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	// Periodic flush of dirty account state. Token rotation makes losing
	// in-memory state expensive, so this runs even when nothing else does.
	a.sup.Go0("accounts.save", func(c context.Context) {
		t := time.NewTicker(a.saveInterval)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if !a.store.Dirty() {
					continue
				}
				if err := a.store.Save(); err != nil {
					a.log.Warn("account save failed", logx.Err(err))
				}
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("version", a.version))
	return nil
}

// applyConfig pushes a validated config into the running services.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		if s == "storage" || s == "accounts" {
			a.log.Warn("config section requires restart to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	if rcfg, err := mapRunnerConfig(newCfg); err != nil {
		a.log.Warn("invalid runner config; keeping previous", logx.Err(err))
	} else {
		a.run.Apply(rcfg)
	}

	// Scheduler: apply, then flip on/off when the enabled bit changed.
	prevSchedEnabled := a.sched.Enabled()
	if scfg, err := mapSchedConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scfg)
		if prevSchedEnabled && !newCfg.Scheduler.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prevSchedEnabled && newCfg.Scheduler.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	// Notifications. The pusher is built once at startup; a token change
	// needs a restart.
	oldToken, newToken := "", ""
	if oldCfg != nil && oldCfg.Notify != nil {
		oldToken = strings.TrimSpace(oldCfg.Notify.TelegramToken)
	}
	if newCfg.Notify != nil {
		newToken = strings.TrimSpace(newCfg.Notify.TelegramToken)
	}
	if oldToken != newToken {
		a.log.Warn("notify.telegram_token changed; restart required for the new token to take effect")
	}
	prevNotifEnabled := a.notif.Enabled()
	ncfg := mapNotifyConfig(newCfg)
	a.notif.Apply(ncfg)
	if prevNotifEnabled && !ncfg.Enabled {
		a.log.Info("notifications disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	} else if !prevNotifEnabled && ncfg.Enabled {
		a.log.Info("notifications enabled via config")
		a.notif.Start(ctx)
	}

	a.bk.Apply(mapBackupConfig(newCfg))
	a.sync.Apply(mapCloudSyncConfig(newCfg))

	if si, err := mapSaveInterval(newCfg); err == nil && si != a.saveInterval {
		a.log.Warn("accounts.save_interval changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds each shutdown phase so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("batch", 1*time.Second, func(context.Context) error { a.run.RequestStop(); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("runner", 1*time.Second, func(context.Context) error { a.run.Close(); return nil })
	step("accounts", 2*time.Second, func(context.Context) error { return a.store.Save() })
	step("storage", 1*time.Second, func(context.Context) error {
		if a.st != nil {
			return a.st.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, saver).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
