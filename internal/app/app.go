package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dailycast/internal/broadcast"
	"dailycast/internal/config"
	"dailycast/internal/directory"
	"dailycast/internal/metrics"
	"dailycast/internal/notifier"
	"dailycast/internal/observability/ops"
	rtsup "dailycast/internal/runtime/supervisor"
	"dailycast/internal/scheduler"
	"dailycast/internal/storage"
	kit "dailycast/internal/transport"
	telegram "dailycast/internal/transport/telegram/adapter"
	logx "dailycast/pkg/logx"
	"dailycast/pkg/systemd"
)

type App struct {
	cfgm    *config.ConfigManager
	cfg     *config.Config
	version string

	sup  *rtsup.Supervisor
	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	dir     directory.Directory
	adapter kit.Adapter

	sender  *broadcast.Sender
	engine  *broadcast.Engine
	metrics *metrics.Metrics
	notif   *notifier.Service
	ops     *ops.Service
	sd      *systemd.Notifier

	cmds    *commandManager
	streams []*streamRuntime

	updates chan kit.Update
}

type Option func(*options)

type options struct {
	version string
	adapter kit.Adapter
	logs    *logx.Service
}

func WithVersion(v string) Option { return func(o *options) { o.version = v } }

// WithAdapter replaces the Telegram adapter, which otherwise is created from
// the telegram section.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithLogService reuses an existing logging service instead of creating one.
func WithLogService(s *logx.Service) Option { return func(o *options) { o.logs = s } }

// New wires every component from the manager's committed config.
// Nothing runs until Start.
func New(ctx context.Context, cfgm *config.ConfigManager, opts ...Option) (a *App, err error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	logSvc := o.logs
	var log logx.Logger
	if logSvc == nil {
		logSvc, log = logx.New(mapLogConfig(cfg))
	} else {
		log = logSvc.Logger()
		if err := logSvc.Apply(mapLogConfig(cfg)); err != nil {
			log.Warn("logging config partly applied", logx.Err(err))
		}
	}
	log = log.With(logx.String("comp", "app"))

	a = &App{
		cfgm:    cfgm,
		cfg:     cfg,
		version: o.version,
		log:     log,
		logs:    logSvc,
		metrics: metrics.New(),
		sd:      systemd.New(),
		updates: make(chan kit.Update, 256),
	}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	sc := mapStorageConfig(cfg)
	if a.store, err = storage.Open(sc, log); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	dc := mapDirectoryConfig(cfg)
	if a.dir, err = directory.Open(ctx, dc, log); err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	log.Info("directory ready", logx.String("driver", dc.Driver))

	a.adapter = o.adapter
	if a.adapter == nil {
		ad, err := telegram.New(mapAdapterConfig(cfg), log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter = ad
	}

	rec := &passRecorder{metrics: a.metrics, store: a.store, log: log}
	a.sender = broadcast.NewSender(a.adapter, mapSenderConfig(cfg), log)
	a.engine = broadcast.NewEngine(a.sender, a.dir, mapEngineConfig(cfg), log, broadcast.WithRecorder(rec))
	a.notif = notifier.New(mapNotifierConfig(cfg), a.adapter, log)

	deps := streamDeps{
		sender:    a.sender,
		engine:    a.engine,
		dir:       a.dir,
		seen:      a.store,
		metrics:   a.metrics,
		loopCfg:   mapLoopConfig(cfg),
		afterPass: a.refreshRecipients,
		log:       log,
	}
	if a.notif.Enabled() {
		deps.reporter = a.notif
	}
	if a.streams, err = buildStreams(cfg, deps); err != nil {
		return nil, err
	}

	a.cmds = newCommandManager(log.With(logx.String("comp", "commands")), a.adapter, a.dir, a.engine, a, a.store, cfg.Telegram.OwnerUserIDs)
	a.ops = ops.New(mapOpsConfig(cfg), a.metrics.Handler(), a.Health, log)
	return a, nil
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

// Health is nil while every stream loop is alive.
func (a *App) Health() error {
	if err := a.Err(); err != nil {
		return err
	}
	var stopped []string
	for _, s := range a.streams {
		if s.loop.Status().State == scheduler.Stopped {
			stopped = append(stopped, s.name)
		}
	}
	if len(stopped) > 0 {
		return fmt.Errorf("streams stopped: %s", strings.Join(stopped, ", "))
	}
	return nil
}

func (a *App) refreshRecipients(ctx context.Context) {
	n, err := a.dir.Count(ctx)
	if err != nil {
		a.log.Debug("recipient count failed", logx.Err(err))
		return
	}
	a.metrics.SetRecipients(n)
}

// Start launches polling, the stream loops and the support services.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log)

	// The notifier outlives the run context so the shutdown notice can drain.
	a.notif.Start(context.WithoutCancel(ctx))

	if err := a.ops.Start(run); err != nil {
		return fmt.Errorf("ops server: %w", err)
	}
	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	a.cmds.spawn = func(_ context.Context, name string, fn func(ctx context.Context)) {
		a.cmds.wg.Add(1)
		a.sup.Go0(name, func(sc context.Context) {
			defer a.cmds.wg.Done()
			fn(sc)
		})
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.updates)
	})

	for _, s := range a.streams {
		a.sup.Go0("stream."+s.name, func(c context.Context) {
			err := s.loop.Run(c)
			if err != nil && c.Err() == nil {
				a.log.Error("stream loop ended", logx.String("stream", s.name), logx.Err(err))
			}
		})
	}

	a.refreshRecipients(run)
	a.startConfigReload()

	a.notif.Report(a.startupNotice())
	if ok, err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.RunWatchdog(c, func() bool { return a.Health() == nil })
	})

	a.log.Info("app started", logx.Int("streams", len(a.streams)), logx.String("version", a.version))
	return nil
}

func (a *App) startupNotice() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔄 dailycast restarted")
	if a.version != "" {
		fmt.Fprintf(&b, " (%s)", a.version)
	}
	for _, s := range a.streams {
		fmt.Fprintf(&b, "\n%s: next %s", s.name, s.loop.NextWake().Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}

// startConfigReload applies hot sections on reload and flags the rest.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if err := a.logs.Apply(mapLogConfig(newCfg)); err != nil {
		a.log.Warn("logging config partly applied", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(pending, ",")))
	}
}

// Stop cancels every loop and shuts components down in dependency order.
// Each step is bounded so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		// Nothing but the notifier may be running after RunOnce.
		nctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		a.notif.Stop(nctx)
		cancel()
		a.closeStores()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
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
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("commands", 3*time.Second, a.cmds.Wait)
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })

	a.notif.Report(fmt.Sprintf("🛑 dailycast stopping (%s)", reason))
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	a.closeStores()
	a.log.Info("stopped")
	return nil
}

func (a *App) closeStores() {
	if a.dir != nil {
		if err := a.dir.Close(); err != nil {
			a.log.Warn("directory close failed", logx.Err(err))
		}
		a.dir = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
}

// Close releases the logging service. Call it after Stop.
func (a *App) Close() error {
	if a.logs == nil {
		return nil
	}
	return a.logs.Close()
}
