package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mediashuffler/internal/config"
	"mediashuffler/internal/dispatch"
	"mediashuffler/internal/gateway"
	"mediashuffler/internal/inventory"
	"mediashuffler/internal/library"
	"mediashuffler/internal/schedule"
	"mediashuffler/internal/transport"
	"mediashuffler/internal/transport/telegram"
	logx "mediashuffler/pkg/logx"
)

// App wires the components together: one store, one dispatcher owning the
// dispatch lock, and three callers into it (scheduler, watcher, gateway).
type App struct {
	cfgMgr *config.Manager
	log    logx.Logger

	store      inventory.Store
	adapter    *telegram.Adapter
	scanner    *library.Scanner
	dispatcher *dispatch.Dispatcher
	sched      *schedule.Service
	watcher    *library.Watcher
	gw         *gateway.Gateway

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	storePath := cfg.Storage.Path
	if strings.TrimSpace(storePath) == "" {
		storePath = "./media.db"
	}
	store, err := inventory.Open(inventory.Config{Path: storePath, BusyTimeout: busy},
		log.With(logx.String("comp", "inventory")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.SendRatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	scanner := library.NewScanner(cfg.Library.Root, cfg.Library.Blacklist, store,
		log.With(logx.String("comp", "library")))

	types, err := mediaTypes(cfg.Dispatch.Types)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dispatcher := dispatch.New(store, scanner, adapter, cfg.Telegram.ChannelID, types,
		log.With(logx.String("comp", "dispatch")))

	sched := schedule.New(schedule.Config{Timezone: cfg.Schedule.Timezone},
		log.With(logx.String("comp", "schedule")))

	a := &App{
		cfgMgr:     mgr,
		log:        log,
		store:      store,
		adapter:    adapter,
		scanner:    scanner,
		dispatcher: dispatcher,
		sched:      sched,
		updates:    make(chan transport.Update, 64),
	}
	// The admin check reads the live config so allow-list edits apply on the
	// next command, no restart needed.
	a.gw = gateway.New(dispatcher, adapter,
		func(id int64) bool { return mgr.Get().IsAdmin(id) },
		log.With(logx.String("comp", "gateway")))

	if cfg.Library.Watch {
		debounce, err := config.ParseDurationField("library.watch_debounce", cfg.Library.WatchDebounce)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.watcher = library.NewWatcher(cfg.Library.Root, debounce, a.triggerScan,
			log.With(logx.String("comp", "watch")))
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	// Startup pass: catalog the tree and repair marker/store drift before
	// anything can dispatch.
	if rep, err := a.dispatcher.Scan(ctx); err != nil {
		return fmt.Errorf("startup scan: %w", err)
	} else if rep.Repaired > 0 {
		a.log.Warn("startup repaired marker mismatches", logx.Int("repaired", rep.Repaired))
	}

	a.sched.Start(ctx)
	if err := a.registerJobs(cfg); err != nil {
		return err
	}

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return fmt.Errorf("library watcher: %w", err)
		}
	}
	if err := a.cfgMgr.Watch(ctx); err != nil {
		a.log.Warn("config watch unavailable", logx.Err(err))
	}

	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return err
	}
	go a.gw.Run(ctx, a.updates)

	a.log.Info("started",
		logx.String("library", a.scanner.Root()),
		logx.Int64("channel", cfg.Telegram.ChannelID),
	)
	return nil
}

func (a *App) registerJobs(cfg *config.Config) error {
	if t := strings.TrimSpace(cfg.Schedule.DailyScanTime); t != "" {
		err := a.sched.AddDaily("daily_maintenance", t, func(ctx context.Context) error {
			_, err := a.dispatcher.Scan(ctx)
			if err == dispatch.ErrLockBusy {
				a.log.Info("daily scan skipped, dispatch in flight")
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
	}

	interval, err := config.ParseDurationField("dispatch.interval", cfg.Dispatch.Interval)
	if err != nil {
		return err
	}
	if interval > 0 {
		err := a.sched.AddInterval("media_dispatch", interval, func(ctx context.Context) error {
			_, err := a.dispatcher.DispatchOne(ctx, dispatch.TriggerTimer)
			switch err {
			case nil:
				return nil
			case dispatch.ErrExhausted, dispatch.ErrLockBusy:
				// Routine conditions, already logged; next tick retries.
				return nil
			default:
				return err
			}
		})
		if err != nil {
			return err
		}
	}

	channelID := cfg.Telegram.ChannelID
	for _, ts := range cfg.Schedule.TextSchedules {
		// Config files carry literal "\n" sequences for multi-line texts.
		content := strings.ReplaceAll(ts.Content, `\n`, "\n")
		err := a.sched.AddSpec("text_"+ts.Name, ts.Schedule, func(ctx context.Context) error {
			return a.adapter.SendText(ctx, channelID, content)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// triggerScan is the watcher callback; a busy lock just defers to the next
// watcher event or the daily job.
func (a *App) triggerScan(ctx context.Context) {
	if _, err := a.dispatcher.Scan(ctx); err != nil && err != dispatch.ErrLockBusy {
		a.log.Warn("watcher scan failed", logx.Err(err))
	}
}

// Stop lets an in-flight dispatch finish, then tears everything down.
func (a *App) Stop(ctx context.Context) error {
	a.sched.Stop(ctx)
	_ = a.adapter.Stop(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.dispatcher.WaitIdle(waitCtx); err != nil {
		a.log.Warn("shutdown with dispatch still in flight", logx.Err(err))
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.log.Close()
}

func mediaTypes(names []string) ([]inventory.MediaType, error) {
	out := make([]inventory.MediaType, 0, len(names))
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "image":
			out = append(out, inventory.TypeImage)
		case "animation":
			out = append(out, inventory.TypeAnimation)
		case "video":
			out = append(out, inventory.TypeVideo)
		case "":
		default:
			return nil, fmt.Errorf("dispatch.types: unknown media type %q", n)
		}
	}
	return out, nil
}
