// Package app wires the reminder bot together: config, logging, storage,
// the scheduling engine and its timers, the notifier, the sweeper and the
// Telegram transport.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/router"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/store"
	"remindbot/internal/sweeper"
	"remindbot/internal/timerset"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store store.Store

	adapter *telegram.Adapter
	timers  *timerset.TimerSet
	engine  *engine.Engine
	notif   *notifier.Service
	sweep   *sweeper.Service
	tokens  *router.Tokens
	router  *router.Router

	// snoozeNanos holds engine.snooze_offset so callback handlers pick up
	// hot-reloaded values without re-wiring the router.
	snoozeNanos atomic.Int64

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
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

	bus := eventbus.New()

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// Timers hand due reminders to the bus; the notifier picks them up
	// from there. Publish never blocks, so firing stays cheap.
	timers := timerset.New(func(msg timerset.FireMessage) {
		bus.Publish(eventbus.Event{Topic: eventbus.TopicReminderDue, Data: msg})
	}, log.With(logx.String("comp", "timers")))

	eng := engine.New(st, timers, loc, log.With(logx.String("comp", "engine")))

	tokens := router.NewTokens()

	ncfg := mapNotifierConfig(cfg)
	notif := notifier.New(ncfg, ad, bus, alertMarkup(tokens), log.With(logx.String("comp", "notifier")))

	sweep := sweeper.New(sweeper.Config{
		Enabled: cfg.SweepEnabled(),
		Spec:    cfg.SweepSpec(),
	}, eng, loc, log.With(logx.String("comp", "sweeper")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		adapter: ad,
		timers:  timers,
		engine:  eng,
		notif:   notif,
		sweep:   sweep,
		tokens:  tokens,
		updates: make(chan kit.Update, 256),
	}

	snooze, err := cfg.SnoozeOffset()
	if err != nil {
		return nil, err
	}
	a.snoozeNanos.Store(int64(snooze))

	a.router = router.New(ad, eng, tokens, a.snoozeOffset, log.With(logx.String("comp", "router")))

	return a, nil
}

func (a *App) snoozeOffset() time.Duration {
	return time.Duration(a.snoozeNanos.Load())
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop()).
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

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Config.Validate covers durations and the timezone; the sweep
		// spec needs the cron parser, so it is checked here.
		return sweeper.ValidateSpec(cfg.SweepSpec())
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	// Arm timers for everything future-dated in the store before any
	// traffic is handled, so a restart loses no alerts.
	rctx, cancel := context.WithTimeout(a.sup.Context(), 30*time.Second)
	n, err := a.engine.Rehydrate(rctx)
	cancel()
	if err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}
	a.log.Info("timers rehydrated", logx.Int("armed", n))

	a.notif.Start(a.sup.Context())

	if a.sweep.Enabled() {
		if err := a.sweep.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if mu, ok := any(a.adapter).(kit.CommandMenuUpdater); ok {
		mctx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
		if err := mu.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
		cancel()
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Debug visibility into bus traffic; subscribers drop on overflow so
	// this never slows the timers down.
	events, unsub := a.bus.Subscribe("", 128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("topic", string(e.Topic)), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// reloadLoop applies committed config reloads to the running services.
// Engine timezone, storage and the Telegram token are fixed at boot; a
// change there logs a restart-required warning instead.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
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
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			a.applyReload(ctx, lastApplied, newCfg)
			lastApplied = newCfg

			fields := append([]logx.Field{logx.Any("changed", sections)}, attrs...)
			a.log.Info("config reloaded", fields...)
			a.bus.Publish(eventbus.Event{Topic: eventbus.TopicConfigReloaded, Data: newCfg})
		}
	}
}

func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	if snooze, err := newCfg.SnoozeOffset(); err == nil {
		a.snoozeNanos.Store(int64(snooze))
	}

	a.notif.Apply(mapNotifierConfig(newCfg))

	if oldCfg != nil {
		if newCfg.Storage != oldCfg.Storage {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
		if newCfg.Engine.Timezone != oldCfg.Engine.Timezone {
			a.log.Warn("engine.timezone changed; restart required for changes to take effect")
		}
		if newCfg.Telegram != oldCfg.Telegram {
			a.log.Warn("telegram config changed; restart required for changes to take effect")
		}
	}

	// The sweeper's spec is baked into its cron instance, so a changed
	// sweep config swaps the service.
	oldEnabled := oldCfg != nil && oldCfg.SweepEnabled()
	oldSpec := ""
	if oldCfg != nil {
		oldSpec = oldCfg.SweepSpec()
	}
	if newCfg.SweepEnabled() != oldEnabled || newCfg.SweepSpec() != oldSpec {
		a.sweep.Stop()
		a.sweep = sweeper.New(sweeper.Config{
			Enabled: newCfg.SweepEnabled(),
			Spec:    newCfg.SweepSpec(),
		}, a.engine, a.engine.Location(), a.log.With(logx.String("comp", "sweeper")))
		if a.sweep.Enabled() {
			if err := a.sweep.Start(ctx); err != nil {
				a.log.Warn("sweeper restart failed", logx.Err(err))
			}
		} else {
			a.log.Info("sweeper disabled via config")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("sweeper", 2*time.Second, func(context.Context) error { a.sweep.Stop(); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("timers", time.Second, func(context.Context) error { a.timers.Stop(); return nil })
	step("store", time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload,
	// the router dispatcher, the bus logger).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// alertMarkup builds the Snooze/Done buttons attached to every alert.
// Callback data is a short token; the router resolves it back to the
// reminder (Telegram caps callback_data at 64 bytes).
func alertMarkup(tokens *router.Tokens) notifier.MarkupFunc {
	return func(msg timerset.FireMessage) any {
		return tgui.NewInline().Row(
			tgui.Btn("Snooze", router.AlertCallbackData(router.ActionSnooze, msg, tokens)),
			tgui.Btn("Done ✓", router.AlertCallbackData(router.ActionConfirm, msg, tokens)),
		).Markup()
	}
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	if cfg.Notifier == nil {
		return notifier.Config{}
	}
	return notifier.Config{
		Workers:    cfg.Notifier.Workers,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}
