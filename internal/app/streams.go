package app

import (
	"context"
	"fmt"
	"strings"

	"dailycast/internal/broadcast"
	"dailycast/internal/config"
	"dailycast/internal/content"
	"dailycast/internal/directory"
	"dailycast/internal/schedule"
	"dailycast/internal/scheduler"
	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

// streamRuntime pairs a configured stream with the loop that drives it.
type streamRuntime struct {
	name   string
	stream *scheduler.Stream
	loop   *scheduler.Loop
}

type streamDeps struct {
	sender   *broadcast.Sender
	engine   *broadcast.Engine
	dir      directory.Directory
	seen     content.SeenStore
	reporter scheduler.Reporter
	metrics  scheduler.Metrics
	loopCfg  scheduler.Config
	log      logx.Logger

	// afterPass runs after every pass, scheduled or triggered.
	afterPass func(ctx context.Context)
}

// buildStreams creates one loop per enabled stream, in config order.
func buildStreams(cfg *config.Config, d streamDeps) ([]*streamRuntime, error) {
	out := make([]*streamRuntime, 0, len(cfg.Streams))
	for _, sc := range cfg.Streams {
		if !sc.IsEnabled() {
			d.log.Info("stream disabled", logx.String("stream", sc.Name))
			continue
		}
		rt, err := buildStream(sc, cfg.Scheduler.Timezone, d)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", sc.Name, err)
		}
		out = append(out, rt)
	}
	return out, nil
}

func buildStream(sc config.StreamConfig, defaultTZ string, d streamDeps) (*streamRuntime, error) {
	name := strings.TrimSpace(sc.Name)
	log := d.log.With(logx.String("stream", name))

	tz := sc.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = defaultTZ
	}
	sched, err := schedule.Parse(tz, sc.Times)
	if err != nil {
		return nil, err
	}
	src, err := buildSource(name, sc.Content, d.seen, log)
	if err != nil {
		return nil, err
	}

	st := &scheduler.Stream{
		Name:      name,
		Source:    src,
		Broadcast: sc.BroadcastEnabled(),
		Sender:    d.sender,
		Engine:    d.engine,
		Directory: d.dir,
		Log:       log,
	}
	if sc.Channel != nil {
		st.Channel = kit.ChatTarget{ChatID: sc.Channel.ChatID, ThreadID: sc.Channel.ThreadID}
	}

	opts := []scheduler.Option{}
	if d.reporter != nil {
		opts = append(opts, scheduler.WithReporter(d.reporter))
	}
	if d.metrics != nil {
		opts = append(opts, scheduler.WithMetrics(d.metrics))
	}
	pass := st.Pass
	if d.afterPass != nil {
		pass = func(ctx context.Context) (scheduler.Result, error) {
			res, err := st.Pass(ctx)
			d.afterPass(ctx)
			return res, err
		}
	}
	loop := scheduler.NewLoop(name, sched, pass, d.loopCfg, d.log, opts...)
	return &streamRuntime{name: name, stream: st, loop: loop}, nil
}

// buildSource assembles trivia, HTTP endpoints and the static list into a
// fallback chain, optionally wrapped for dedup keyed by the stream name.
func buildSource(name string, cc config.ContentConfig, seen content.SeenStore, log logx.Logger) (content.Source, error) {
	var sources []content.Source
	if cc.Trivia != nil {
		src, err := content.NewTrivia(mapTriviaSource(*cc.Trivia), log)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	for _, h := range cc.HTTP {
		src, err := content.NewHTTP(mapHTTPSource(h), log)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	switch st := cc.Static; {
	case st == nil:
	case len(st.Polls) > 0:
		sources = append(sources, content.NewStaticPolls(mapPolls(st.Polls)))
	case len(st.Texts) > 0:
		sources = append(sources, content.NewStatic(st.Texts, st.ParseMode))
	}

	var src content.Source
	switch len(sources) {
	case 0:
		return nil, fmt.Errorf("no content source configured")
	case 1:
		src = sources[0]
	default:
		src = content.NewChain(log, sources...)
	}

	if u := cc.Unique; u != nil && seen != nil {
		src = content.NewUnique(src, seen, content.UniqueConfig{
			Key:       name,
			Limit:     u.Limit,
			Refetches: u.Refetches,
		}, log)
	}
	return src, nil
}

func (a *App) stream(name string) (*streamRuntime, bool) {
	for _, s := range a.streams {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// StreamNames lists the enabled streams in config order.
func (a *App) StreamNames() []string {
	out := make([]string, 0, len(a.streams))
	for _, s := range a.streams {
		out = append(out, s.name)
	}
	return out
}

// PassOnce runs one stream's pass immediately, outside its schedule.
func (a *App) PassOnce(ctx context.Context, name string) (scheduler.Result, error) {
	rt, ok := a.stream(name)
	if !ok {
		return scheduler.Result{}, fmt.Errorf("%w: %q", ErrUnknownStream, name)
	}
	return rt.loop.RunOnce(ctx)
}

// RunOnce is PassOnce for a process that runs a single pass: the notifier is
// started so pass and failure reports reach the log chat, and Stop drains it.
// No updates are polled and no loop is scheduled.
func (a *App) RunOnce(ctx context.Context, name string) (scheduler.Result, error) {
	a.notif.Start(context.WithoutCancel(ctx))
	return a.PassOnce(ctx, name)
}

// StreamStatus snapshots every loop in config order.
func (a *App) StreamStatus() []scheduler.Status {
	out := make([]scheduler.Status, 0, len(a.streams))
	for _, s := range a.streams {
		out = append(out, s.loop.Status())
	}
	return out
}
