package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	rtsup "dailycast/internal/runtime/supervisor"
	"dailycast/internal/schedule"
	logx "dailycast/pkg/logx"
)

type State int32

const (
	Sleeping State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Sleeping:
		return "sleeping"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var ErrCrashLoopExceeded = errors.New("scheduler: too many consecutive failed passes")

// PassFunc runs one pass of a stream.
type PassFunc func(ctx context.Context) (Result, error)

// Reporter receives operator-facing messages. Report must not block.
type Reporter interface {
	Report(text string)
}

// Metrics receives loop state changes.
type Metrics interface {
	LoopState(name string, s State)
	LoopFailure(name string)
}

type Config struct {
	BackoffBase time.Duration // default 30s
	BackoffMax  time.Duration // default 5m
	MaxRestarts int           // default 5
	// Heartbeat reports liveness while sleeping. 0 disables.
	Heartbeat time.Duration
}

const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = 5 * time.Minute
	DefaultMaxRestarts = 5
)

// Status is a snapshot of a Loop.
type Status struct {
	Name       string
	State      State
	NextWake   time.Time
	Failures   int
	LastRun    time.Time
	LastErr    string
	LastResult Result
}

type Loop struct {
	name  string
	sched schedule.Schedule
	pass  PassFunc
	cfg   Config
	log   logx.Logger

	reporter Reporter
	metrics  Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	passMu sync.Mutex // one pass at a time, scheduled or triggered

	mu     sync.Mutex
	status Status
}

type Option func(*Loop)

func WithReporter(r Reporter) Option { return func(l *Loop) { l.reporter = r } }
func WithMetrics(m Metrics) Option   { return func(l *Loop) { l.metrics = m } }

// WithClock replaces the wall clock and the sleep used between wakes.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func NewLoop(name string, sched schedule.Schedule, pass PassFunc, cfg Config, log logx.Logger, opts ...Option) *Loop {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Loop{
		name:   name,
		sched:  sched,
		pass:   pass,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler"), logx.String("stream", name)),
		now:    time.Now,
		sleep:  rtsup.Sleep,
		status: Status{Name: name, State: Sleeping},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Loop) Name() string { return l.name }

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// NextWake computes the next wake from the clock and the schedule.
func (l *Loop) NextWake() time.Time { return l.sched.NextWake(l.now()) }

// Backoff returns the wait after the n-th consecutive failure.
func (l *Loop) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := time.Duration(n) * l.cfg.BackoffBase
	if d > l.cfg.BackoffMax || d < 0 {
		d = l.cfg.BackoffMax
	}
	return d
}

func (l *Loop) setState(s State, wake time.Time) {
	l.mu.Lock()
	l.status.State = s
	l.status.NextWake = wake
	l.mu.Unlock()
	if l.metrics != nil {
		l.metrics.LoopState(l.name, s)
	}
}

// Run drives the loop until ctx is canceled (returning ctx.Err()) or the
// consecutive-failure limit is exceeded (returning ErrCrashLoopExceeded).
func (l *Loop) Run(ctx context.Context) error {
	failures := 0
	lastBeat := l.now()
	for {
		wake := l.sched.NextWake(l.now())
		if wake.IsZero() {
			l.setState(Stopped, time.Time{})
			return fmt.Errorf("stream %s: schedule has no future wake", l.name)
		}
		l.setState(Sleeping, wake)
		l.log.Info("next pass scheduled", logx.Time("at", wake))

		if err := l.sleepUntil(ctx, wake, &lastBeat); err != nil {
			l.setState(Stopped, time.Time{})
			return err
		}

		l.setState(Running, time.Time{})
		_, err := l.RunOnce(ctx)
		if ctx.Err() != nil {
			l.setState(Stopped, time.Time{})
			return ctx.Err()
		}
		if err == nil {
			failures = 0
			l.setFailures(0)
			continue
		}

		failures++
		l.setFailures(failures)
		if l.metrics != nil {
			l.metrics.LoopFailure(l.name)
		}
		l.log.Error("pass failed", logx.Int("failures", failures), logx.Err(err))
		l.report(fmt.Sprintf("🔥 %s: pass failed (%d/%d): %s", l.name, failures, l.cfg.MaxRestarts, truncate(err.Error(), 500)))

		if failures > l.cfg.MaxRestarts {
			l.setState(Stopped, time.Time{})
			l.log.Error("too many consecutive failures, stopping", logx.Int("failures", failures))
			l.report(fmt.Sprintf("⛔ %s: stopped after %d consecutive failures", l.name, failures))
			return fmt.Errorf("stream %s: %w", l.name, ErrCrashLoopExceeded)
		}

		backoff := l.Backoff(failures)
		l.log.Warn("backing off", logx.Duration("backoff", backoff))
		if err := l.sleep(ctx, backoff); err != nil {
			l.setState(Stopped, time.Time{})
			return err
		}
	}
}

// sleepUntil waits for wake, emitting heartbeats when configured.
func (l *Loop) sleepUntil(ctx context.Context, wake time.Time, lastBeat *time.Time) error {
	for {
		now := l.now()
		if !now.Before(wake) {
			return nil
		}
		d := wake.Sub(now)
		if hb := l.cfg.Heartbeat; hb > 0 {
			due := lastBeat.Add(hb)
			if !now.Before(due) {
				l.report(fmt.Sprintf("💓 %s: scheduler operational, next pass %s", l.name, wake.Format("2006-01-02 15:04 MST")))
				*lastBeat = now
				continue
			}
			d = min(d, due.Sub(now))
		}
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// RunOnce runs a single pass now, recovering panics. It is used by the loop
// and by operator triggers; passes never overlap.
func (l *Loop) RunOnce(ctx context.Context) (res Result, err error) {
	l.passMu.Lock()
	defer l.passMu.Unlock()

	started := l.now()
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("pass panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		l.mu.Lock()
		l.status.LastRun = started
		l.status.LastResult = res
		if err != nil {
			l.status.LastErr = err.Error()
		} else {
			l.status.LastErr = ""
		}
		l.mu.Unlock()
	}()

	res, err = l.pass(ctx)
	if err == nil {
		l.log.Info("pass finished", logx.String("content_id", res.ContentID), logx.Bool("posted", res.Posted), logx.Duration("dur", l.now().Sub(started)))
		l.report(passSummary(l.name, res, l.now()))
	}
	return res, err
}

func (l *Loop) setFailures(n int) {
	l.mu.Lock()
	l.status.Failures = n
	l.mu.Unlock()
}

func (l *Loop) report(text string) {
	if l.reporter != nil {
		l.reporter.Report(text)
	}
}

func passSummary(name string, res Result, at time.Time) string {
	s := fmt.Sprintf("📖 %s sent at %s", name, at.Format("2006-01-02 15:04:05 MST"))
	if res.ContentID != "" {
		s += "\nID: " + res.ContentID
	}
	if res.Report != nil {
		s += "\n\n" + res.Report.Summary()
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
