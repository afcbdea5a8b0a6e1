// Package app assembles and supervises all bot components.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"countdownbot/internal/bot"
	"countdownbot/internal/catalog"
	"countdownbot/internal/config"
	"countdownbot/internal/notifier"
	"countdownbot/internal/ratelimit"
	rtsup "countdownbot/internal/runtime/supervisor"
	"countdownbot/internal/schedule"
	"countdownbot/internal/storage"
	"countdownbot/internal/subscription"
	kit "countdownbot/internal/transport"
	telegram "countdownbot/internal/transport/telegram/adapter"
	"countdownbot/internal/transport/telegram/router"
	logx "countdownbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter kit.Adapter

	notif   *notifier.Service
	limiter *ratelimit.Limiter
	engine  *subscription.Engine
	sched   *schedule.Service

	cmdm *router.Manager

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	// Logging first so every later component logs through the service.
	// Telegram mirroring is enabled only after its target and sender exist,
	// so Apply() cannot warn about a missing chat.
	baseLogCfg := mapLoggingConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, nil)
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc.SetSender(ad)
	if cfg.Logging.Telegram.ChatID != 0 {
		logSvc.SetTelegramTarget(cfg.Logging.Telegram.ChatID)
	}
	logSvc.Apply(mapLoggingConfig(cfg))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 2*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	notif := notifier.New(notifier.Config{}, ad, log.With(logx.String("comp", "notifier")))

	cooldown, _ := config.ParseDurationOrDefault("ratelimit.cooldown", cfg.RateLimit.Cooldown, ratelimit.DefaultCooldown)
	limiter := ratelimit.New(store, cooldown, log.With(logx.String("comp", "ratelimit")))

	catalogSvc := catalog.NewService(store, log.With(logx.String("comp", "catalog")))
	subsSvc := subscription.NewService(store, log.With(logx.String("comp", "subscription")))

	deps := bot.Deps{
		Catalog:  catalogSvc,
		Subs:     subsSvc,
		Limiter:  limiter,
		Notifier: notif,
		Adapter:  ad,
		Log:      log.With(logx.String("comp", "bot")),
	}

	maxAge, _ := config.ParseDurationOrDefault("delivery.max_age", cfg.Delivery.MaxAge, 5*time.Minute)
	engine := subscription.NewEngine(subsSvc, deps.Deliver, maxAge, log.With(logx.String("comp", "delivery")))
	deps.Engine = engine

	interval, _ := config.ParseDurationOrDefault("delivery.interval", cfg.Delivery.Interval, time.Minute)
	sched := schedule.New(engine, interval, log.With(logx.String("comp", "schedule")))

	cmdm := router.NewManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.AdminUserIDs)
	cmds, cbs := bot.Registry(deps)
	cmdm.SetRegistry(cmds, cbs)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		notif:   notif,
		limiter: limiter,
		engine:  engine,
		sched:   sched,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop()).
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
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
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.log.Info("started")
	return nil
}

func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "telegram":
			if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
				a.log.Warn("telegram token changed; restart required for changes to take effect")
			}
		}
	}

	// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
	a.logs.SetTelegramTarget(newCfg.Logging.Telegram.ChatID)
	a.logs.Apply(mapLoggingConfig(newCfg))

	a.cmdm.SetAdmins(newCfg.Telegram.AdminUserIDs)

	if cooldown, err := config.ParseDurationOrDefault("ratelimit.cooldown", newCfg.RateLimit.Cooldown, ratelimit.DefaultCooldown); err == nil {
		a.limiter.SetCooldown(cooldown)
	}
	if maxAge, err := config.ParseDurationOrDefault("delivery.max_age", newCfg.Delivery.MaxAge, 5*time.Minute); err == nil {
		a.engine.SetMaxAge(maxAge)
	}
	if interval, err := config.ParseDurationOrDefault("delivery.interval", newCfg.Delivery.Interval, time.Minute); err == nil {
		if err := a.sched.SetInterval(interval); err != nil {
			a.log.Warn("delivery interval not applied", logx.Err(err))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	// Finally wait for supervised goroutines (config watch/reload, dispatcher).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// validate is the transactional reload gate: a config that fails here is
// rejected without touching the running app.
func validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("empty config")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 2*time.Second); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("ratelimit.cooldown", cfg.RateLimit.Cooldown, ratelimit.DefaultCooldown); err != nil {
		return err
	}
	if d, err := config.ParseDurationOrDefault("delivery.interval", cfg.Delivery.Interval, time.Minute); err != nil {
		return err
	} else if d <= 0 {
		return fmt.Errorf("delivery.interval must be positive")
	}
	if _, err := config.ParseDurationOrDefault("delivery.max_age", cfg.Delivery.MaxAge, 5*time.Minute); err != nil {
		return err
	}
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}
