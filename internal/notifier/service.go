package notifier

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	rtsup "dailycast/internal/runtime/supervisor"
	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

var ErrQueueFull = errors.New("notifier queue full")

// TextSender is the subset of transport.Adapter the notifier needs.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service implements the async report pipeline: queue + worker + rate limit + retry + dedup.
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	adapter TextSender
	cfg     Config
	limiter *rate.Limiter

	queue chan string
	sup   *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[uint64]time.Time

	dropped atomic.Uint64
	sent    atomic.Uint64
}

func New(cfg Config, adapter TextSender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		dedup:   map[uint64]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.cfg.Target.ChatID != 0 && s.adapter != nil
}

// Start launches the worker. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan string, s.cfg.QueueSize)
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	q := s.queue
	s.sup.GoRestart("notifier.worker", func(c context.Context) error {
		s.workerLoop(c, q)
		if c.Err() != nil {
			return c.Err()
		}
		return nil
	})
}

// Stop drains queued reports until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	if q == nil {
		return
	}
	close(q)
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}
	if n := s.dropped.Load(); n > 0 {
		s.log.Warn("reports dropped during run", logx.Int64("count", int64(n)))
	}
}

// Report queues text for the log chat. It never blocks.
func (s *Service) Report(text string) {
	if err := s.Enqueue(text); err != nil && !errors.Is(err, errStopped) {
		s.log.Debug("report not queued", logx.Err(err))
	}
}

var errStopped = errors.New("notifier not running")

// Enqueue is Report with the outcome exposed.
func (s *Service) Enqueue(text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return errStopped
	}
	if !s.allow(text) {
		return nil
	}
	select {
	case s.queue <- text:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stats returns the number of reports sent and dropped.
func (s *Service) Stats() (sent, dropped uint64) { return s.sent.Load(), s.dropped.Load() }

func (s *Service) workerLoop(ctx context.Context, q <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, text)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, text string) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	opt := &kit.SendOptions{DisablePreview: true}
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.adapter.SendText(callCtx, cfg.Target, text, opt)
		cancel()
		if err == nil {
			s.sent.Add(1)
			return
		}
		s.log.Debug("report send failed", logx.Err(err), logx.Int("attempt", attempt))

		delay := retryDelay(cfg, attempt)
		var te *kit.ThrottleError
		if errors.As(err, &te) {
			delay = te.RetryAfter
		}
		if attempt > cfg.RetryMax {
			s.log.Warn("report dropped after retries", logx.Err(err))
			return
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// allow suppresses identical texts inside the dedup window. Caller holds s.mu.
func (s *Service) allow(text string) bool {
	window := s.cfg.DedupWindow
	if window <= 0 {
		return true
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	key := h.Sum64()
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

// retryDelay is base * 2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
