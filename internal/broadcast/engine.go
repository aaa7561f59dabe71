package broadcast

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"dailycast/internal/directory"
	logx "dailycast/pkg/logx"
)

// Deliverer is the per-recipient send used by the Engine. *Sender satisfies it.
type Deliverer interface {
	Send(ctx context.Context, id int64, msg Message) Outcome
}

// Remover deletes a recipient for good. directory.Directory satisfies it.
type Remover interface {
	Remove(ctx context.Context, id int64) error
}

type EngineConfig struct {
	// Pacing is the minimum gap between two sends. Zero or negative disables it.
	Pacing time.Duration
	// ProgressEvery emits progress after that many processed candidates. Default 20.
	ProgressEvery int
}

const (
	DefaultPacing        = 50 * time.Millisecond
	DefaultProgressEvery = 20
)

type Engine struct {
	sender   Deliverer
	dir      Remover
	cfg      EngineConfig
	log      logx.Logger
	recorder Recorder
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock replaces the wall clock used for StartedAt and Duration.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(sender Deliverer, dir Remover, cfg EngineConfig, log logx.Logger, opts ...EngineOption) *Engine {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		sender:   sender,
		dir:      dir,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "broadcast")),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type runConfig struct {
	observer Observer
}

type RunOption func(*runConfig)

// WithObserver attaches a progress observer to a single Run.
func WithObserver(o Observer) RunOption {
	return func(c *runConfig) { c.observer = o }
}

// Run delivers msg to every recipient the sequence yields, in order.
//
// The returned Report is always populated. The error is non-nil only when the
// pass ended early: it wraps ErrDirectorySource when the sequence failed, or
// is ctx.Err() when the context was canceled. Either way Incomplete is set.
func (e *Engine) Run(ctx context.Context, name string, msg Message, recipients iter.Seq2[directory.Recipient, error], opts ...RunOption) (Report, error) {
	var rc runConfig
	for _, o := range opts {
		o(&rc)
	}

	rep := Report{ID: uuid.NewString(), Name: name, StartedAt: e.now()}
	log := e.log.With(logx.String("pass", rep.ID), logx.String("name", name))
	log.Info("broadcast started")

	var limiter *rate.Limiter
	if e.cfg.Pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(e.cfg.Pacing), 1)
	}
	gone := map[int64]struct{}{}

	finish := func(err error) (Report, error) {
		rep.Duration = e.now().Sub(rep.StartedAt)
		rep.Incomplete = err != nil
		e.recorder.Pass(rep)
		if rc.observer != nil {
			rc.observer.Progress(progressOf(rep, rep.Duration))
		}
		fields := []logx.Field{
			logx.Int("total", rep.Total),
			logx.Int("delivered", rep.Delivered),
			logx.Int("gone", rep.Gone),
			logx.Int("transient", rep.Transient),
			logx.Int("skipped", rep.Skipped),
			logx.Duration("dur", rep.Duration),
		}
		if err != nil {
			log.Warn("broadcast stopped early", append(fields, logx.Err(err))...)
		} else {
			log.Info("broadcast finished", fields...)
		}
		return rep, err
	}

	for r, err := range recipients {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return finish(ctxErr)
			}
			return finish(fmt.Errorf("%w: %w", ErrDirectorySource, err))
		}
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		rep.Total++
		kind, stop := e.deliver(ctx, log, limiter, gone, name, r, msg)
		if stop != nil {
			// The candidate was counted but never attempted.
			rep.Total--
			return finish(stop)
		}
		switch kind {
		case Delivered:
			rep.Delivered++
		case RecipientGone:
			rep.Gone++
		case TransientFailure:
			rep.Transient++
		case skipped:
			rep.Skipped++
		}

		if rc.observer != nil && rep.Total%e.cfg.ProgressEvery == 0 {
			rc.observer.Progress(progressOf(rep, e.now().Sub(rep.StartedAt)))
		}
	}
	return finish(nil)
}

const skipped Kind = -1

// deliver handles one candidate. A non-nil error means the pass must stop
// before the candidate was attempted.
func (e *Engine) deliver(ctx context.Context, log logx.Logger, limiter *rate.Limiter, gone map[int64]struct{}, name string, r directory.Recipient, msg Message) (Kind, error) {
	if r.ID <= 0 {
		log.Debug("skipping malformed recipient", logx.Int64("id", r.ID))
		return skipped, nil
	}
	if _, ok := gone[r.ID]; ok {
		return RecipientGone, nil
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			return 0, err
		}
	}

	out := e.sender.Send(ctx, r.ID, msg)
	if out.Kind == TransientFailure && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	e.recorder.Outcome(name, out.Kind)

	switch out.Kind {
	case RecipientGone:
		gone[r.ID] = struct{}{}
		if err := e.dir.Remove(ctx, r.ID); err != nil {
			log.Warn("remove gone recipient failed", logx.Int64("id", r.ID), logx.Err(err))
		} else {
			log.Debug("removed gone recipient", logx.Int64("id", r.ID), logx.Err(out.Err))
		}
	case TransientFailure:
		log.Debug("delivery failed", logx.Int64("id", r.ID), logx.Err(out.Err))
	}
	return out.Kind, nil
}

func progressOf(r Report, elapsed time.Duration) Progress {
	return Progress{
		Name:      r.Name,
		Processed: r.Total,
		Delivered: r.Delivered,
		Gone:      r.Gone,
		Transient: r.Transient,
		Skipped:   r.Skipped,
		Elapsed:   elapsed,
	}
}
