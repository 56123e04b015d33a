// Package app wires configuration, logging, the Telegram transport and
// the monitoring services together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"saganobot/internal/command"
	"saganobot/internal/config"
	"saganobot/internal/monitor"
	"saganobot/internal/notify"
	"saganobot/internal/probe"
	"saganobot/internal/runtime/supervisor"
	kit "saganobot/internal/transport"
	"saganobot/internal/transport/telegram"
	"saganobot/internal/watch"
	logx "saganobot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter
	notif   *notify.Service
	sched   *monitor.Scheduler
	proc    *command.Processor

	sup     *supervisor.Supervisor
	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notify.New(ncfg, adapter, logSvc.Logger().With(logx.String("comp", "notify")))

	prober := probe.NewSagano(logSvc.Logger().With(logx.String("comp", "probe")))

	mcfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched, err := monitor.New(mcfg, prober, notif, logSvc.Logger().With(logx.String("comp", "monitor")))
	if err != nil {
		return nil, err
	}

	proc := command.New(sched, adapter, logSvc.Logger().With(logx.String("comp", "command")), cfg.Telegram.OwnerIDs)

	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second); err != nil {
			return err
		}
		if _, err := mapNotifyConfig(c); err != nil {
			return err
		}
		_, err := mapMonitorConfig(c)
		return err
	})

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: adapter,
		notif:   notif,
		sched:   sched,
		proc:    proc,
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup)

	a.sup.Go("monitor.run", a.sched.Run)
	a.sup.Go("command.dispatch", func(c context.Context) error {
		return a.proc.DispatchLoop(c, a.updates)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)

	// Best-effort Telegram /menu autocomplete.
	if up, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, a.proc.Commands()); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	a.startSystemd()
	a.log.Info("started")
	return nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error { return a.sup.Err() }

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	a.notif.Stop()
	_ = a.adapter.Stop(ctx)

	a.sup.Cancel()
	err := a.sup.Wait(ctx)
	_ = a.logs.Close()
	return err
}

// reloadLoop applies hot config reloads: logging sinks, notify knobs and
// the monitor defaults. Transport and digest changes need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyReload(cfg)
		}
	}
}

func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	if ncfg, err := mapNotifyConfig(cfg); err == nil {
		a.notif.Apply(ncfg)
	}

	// File settings win over runtime /config tweaks on reload; that is
	// the documented way to reset the bot remotely.
	if mcfg, err := mapMonitorConfig(cfg); err == nil {
		a.sched.Configure(func(s *monitor.Settings) { *s = mcfg.Settings })
	}
	a.log.Info("config reload applied")
}

// startSystemd reports readiness and feeds the watchdog when running
// under systemd with Type=notify; a plain shell run is a no-op.
func (a *App) startSystemd() {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
		return
	}
	if !sent {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	interval, err := config.ParseDurationOrDefault("monitor.interval", cfg.Monitor.Interval, time.Minute)
	if err != nil {
		return monitor.Config{}, err
	}
	probeTimeout, err := config.ParseDurationOrDefault("monitor.probe_timeout", cfg.Monitor.ProbeTimeout, 45*time.Second)
	if err != nil {
		return monitor.Config{}, err
	}

	settings := monitor.Settings{
		Seats:       cfg.Monitor.Seats,
		Interval:    interval,
		StatusEvery: cfg.Monitor.StatusEvery,
	}
	if raw := cfg.Monitor.Departure; raw != "" {
		st, ok := watch.LookupStation(raw)
		if !ok {
			return monitor.Config{}, fmt.Errorf("monitor.departure: unknown station %q", raw)
		}
		settings.Departure = st
	}
	if raw := cfg.Monitor.Arrival; raw != "" {
		st, ok := watch.LookupStation(raw)
		if !ok {
			return monitor.Config{}, fmt.Errorf("monitor.arrival: unknown station %q", raw)
		}
		settings.Arrival = st
	}
	if settings.Departure != "" && settings.Departure == settings.Arrival {
		return monitor.Config{}, fmt.Errorf("monitor: departure and arrival must differ")
	}

	return monitor.Config{
		Settings:     settings,
		ProbeTimeout: probeTimeout,
		DefaultChat:  cfg.Telegram.ChatID,
		Source:       cfg.Source,
		DigestSpec:   cfg.Monitor.Digest,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	retryBase, err := config.ParseDurationField("notify.retry_base", cfg.Notify.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notify.retry_max_delay", cfg.Notify.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notify.dedup_window", cfg.Notify.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notify.send_timeout", cfg.Notify.SendTimeout)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		QueueSize:     cfg.Notify.QueueSize,
		RatePerSec:    cfg.Notify.RatePerSec,
		RetryMax:      cfg.Notify.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		DedupWindow:   dedupWindow,
		SendTimeout:   sendTimeout,
	}, nil
}
