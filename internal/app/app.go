package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"

	"sflnotify/internal/config"
	"sflnotify/internal/eventbus"
	"sflnotify/internal/housekeeping"
	"sflnotify/internal/ingest"
	"sflnotify/internal/notifier"
	"sflnotify/internal/notifier/batch"
	"sflnotify/internal/notifylog"
	"sflnotify/internal/render"
	rtsup "sflnotify/internal/runtime/supervisor"
	"sflnotify/internal/storage"
	"sflnotify/internal/transport"
	"sflnotify/internal/transport/telegram"
	"sflnotify/internal/transport/ws"
	logx "sflnotify/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif *notifier.Service
	batch *batch.Service
	hk    *housekeeping.Service
	http  *ingest.Server
	hub   *ws.Hub
	tg    *telegram.Presenter

	wsEnabled atomic.Bool
}

// NewApp loads the config and builds every component without starting any.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a, err := build(cfgm, cfg, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.ConfigManager, cfg *config.Config, logSvc *logx.Service, root logx.Logger) (*App, error) {
	a := &App{
		cfgm: cfgm,
		log:  root.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
	}
	a.wsEnabled.Store(cfg.HTTP.WS.Enabled)

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	renderer, err := BuildRenderer(cfg, root.With(logx.String("comp", "render")))
	if err != nil {
		a.closeStore()
		return nil, err
	}

	a.hub = ws.NewHub(cfg.HTTP.WS.Buffer, root.With(logx.String("comp", "ws")))
	presenters := []transport.Presenter{
		transport.NewLogPresenter(root.With(logx.String("comp", "presenter"))),
		a.hub,
	}
	if cfg.Telegram.Enabled {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		tg, err := telegram.New(tcfg, root.With(logx.String("comp", "telegram")),
			telegram.WithTapHandler(func(ctx context.Context, p render.Payload) (render.ClickAction, error) {
				return a.notif.Click(ctx, p)
			}),
			telegram.WithCommands(a.telegramCommands()...),
		)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.tg = tg
		presenters = append(presenters, tg)
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.notif = notifier.New(ncfg, notifier.Deps{
		Renderer:  renderer,
		Prefs:     a.prefs,
		Presenter: transport.NewFanout(presenters...),
		Log:       root.With(logx.String("comp", "notifier")),
		Bus:       a.bus,
		Store:     a.store,
	})

	a.batch = batch.New(mapBatchConfig(cfg), a.notif, root.With(logx.String("comp", "batch")))

	hcfg, err := mapHousekeepingConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	var pruner housekeeping.Pruner
	if a.store != nil {
		pruner = a.store
	}
	a.hk = housekeeping.New(hcfg, pruner, root.With(logx.String("comp", "housekeeping")), a.bus)

	icfg, err := mapIngestConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.http = ingest.NewServer(icfg, ingest.Deps{
		Notifier:    a.notif,
		Batch:       a.batch,
		Prefs:       a.prefs,
		SummaryPath: a.summaryPath,
		Location:    a.location,
		WS:          a.wsHandler(),
		Health:      a.health,
		LinkNotificationsOnly: func() bool {
			return a.config().Preferences.LinkNotificationsOnly()
		},
	}, root.With(logx.String("comp", "http")))

	return a, nil
}

func (a *App) closeStore() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// Notifier exposes the delivery pipeline.
func (a *App) Notifier() *notifier.Service { return a.notif }

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

func (a *App) config() *config.Config {
	if cfg := a.cfgm.Get(); cfg != nil {
		return cfg
	}
	return &config.Config{}
}

// prefs snapshots the live preferences for one render.
func (a *App) prefs() render.Preferences {
	return a.config().Preferences.Snapshot()
}

func (a *App) location() *time.Location {
	loc, err := a.config().Location()
	if err != nil {
		return time.Local
	}
	return loc
}

func (a *App) summaryPath() string {
	if p := strings.TrimSpace(a.config().SummaryLog.Path); p != "" {
		return p
	}
	return notifylog.DefaultFileName
}

func (a *App) wsHandler() gin.HandlerFunc {
	h := a.hub.Handler()
	return func(c *gin.Context) {
		if !a.wsEnabled.Load() {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "websocket stream disabled"})
			return
		}
		h(c)
	}
}

type healthInfo struct {
	Notifier  notifier.Stats `json:"notifier"`
	WSClients int            `json:"ws_clients"`
	Storage   bool           `json:"storage"`
	NextPrune *time.Time     `json:"next_prune,omitempty"`
	Dropped   uint64         `json:"events_dropped"`
}

func (a *App) health() any {
	h := healthInfo{
		Notifier:  a.notif.Stats(),
		WSClients: a.hub.Clients(),
		Storage:   a.store != nil,
		Dropped:   eventbus.Dropped(a.bus),
	}
	if next := a.hk.Next(); !next.IsZero() {
		h.NextPrune = &next
	}
	return h
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	run := a.sup.Context()
	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	if a.batch.Enabled() {
		a.batch.Start(run)
	}
	if err := a.hk.Start(run); err != nil {
		a.log.Warn("housekeeping not started", logx.Err(err))
	}
	if a.tg != nil {
		if err := a.tg.Start(run); err != nil {
			return err
		}
	}
	a.http.Start(run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.forward", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if a.wsEnabled.Load() {
					if err := a.hub.Broadcast(ws.KindEvent, e); err != nil && !errors.Is(err, ws.ErrClosed) {
						a.log.Debug("event broadcast failed", logx.Err(err))
					}
				}
			}
		}
	})

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
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started",
		logx.Bool("telegram", a.tg != nil),
		logx.Bool("storage", a.store != nil),
		logx.Bool("http", a.http.Supervisor() != nil))
	return nil
}

// validateRuntime rejects reloads that can't be mapped onto the services.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHousekeepingConfig(cfg); err != nil {
		return err
	}
	if _, err := mapIngestConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	for _, s := range config.RestartRequired(sections) {
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
	}

	if changed["timezone"] || changed["preferences"] || changed["icons"] {
		if r, err := BuildRenderer(newCfg, a.log.With(logx.String("comp", "render"))); err != nil {
			a.log.Warn("renderer rebuild failed; keeping previous", logx.Err(err))
		} else {
			a.notif.SetRenderer(r)
		}
	}

	if changed["notifier"] {
		prev := a.notif.Enabled()
		ncfg, err := mapNotifierConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			switch {
			case prev && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !prev && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if changed["batch"] {
		prev := a.batch.Enabled()
		bcfg := mapBatchConfig(newCfg)
		a.batch.Apply(bcfg)
		switch {
		case prev && !bcfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.batch.Stop(stopCtx)
			cancel()
		case !prev && bcfg.Enabled:
			a.batch.Start(ctx)
		}
	}

	if changed["housekeeping"] || changed["timezone"] {
		if hcfg, err := mapHousekeepingConfig(newCfg); err != nil {
			a.log.Warn("invalid housekeeping config; keeping previous", logx.Err(err))
		} else {
			a.hk.Apply(hcfg)
		}
	}

	if changed["http"] {
		a.wsEnabled.Store(newCfg.HTTP.WS.Enabled)
		if icfg, err := mapIngestConfig(newCfg); err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else {
			a.http.Reconfigure(ctx, icfg)
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfig, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step bounds one shutdown step; it never extends the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Ingress first so nothing new arrives while the queue drains.
	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("telegram", 2*time.Second, func(c context.Context) error {
		if a.tg != nil {
			return a.tg.Stop(c)
		}
		return nil
	})
	step("batch", 2*time.Second, func(c context.Context) error { a.batch.Stop(c); return nil })
	step("housekeeping", time.Second, func(c context.Context) error { a.hk.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("ws", time.Second, func(c context.Context) error { return a.hub.Close(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
