package broadcast

import (
	"context"
	"time"

	rtsup "dailycast/internal/runtime/supervisor"
	kit "dailycast/internal/transport"
	logx "dailycast/pkg/logx"
)

// API is the set of send primitives. transport.Adapter satisfies it.
type API interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendPoll(ctx context.Context, to kit.ChatTarget, poll kit.Poll) (kit.MessageRef, error)
	CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) (kit.MessageRef, error)
}

// TextSplitter is implemented by APIs that split long text into several
// messages. The Sender then sends the parts itself, so a throttle on one part
// retries only that part.
type TextSplitter interface {
	SplitText(text, parseMode string) []string
}

type SenderConfig struct {
	// ThrottleMargin is added to every throttle wait. Default 1s.
	ThrottleMargin time.Duration
	// MaxThrottleWait bounds the total time spent waiting on throttles for
	// one recipient. 0 means unlimited.
	MaxThrottleWait time.Duration
	// SendTimeout bounds each individual send call. 0 means none.
	SendTimeout time.Duration
}

// Sender delivers one message to one recipient. It keeps no state between calls.
type Sender struct {
	api   API
	cfg   SenderConfig
	log   logx.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

type SenderOption func(*Sender)

// WithSleep replaces the throttle wait (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) SenderOption {
	return func(s *Sender) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

const DefaultThrottleMargin = time.Second

func NewSender(api API, cfg SenderConfig, log logx.Logger, opts ...SenderOption) *Sender {
	if cfg.ThrottleMargin <= 0 {
		cfg.ThrottleMargin = DefaultThrottleMargin
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sender{api: api, cfg: cfg, log: log, sleep: rtsup.Sleep}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send delivers msg to the chat id. A throttle is waited out (RetryAfter plus
// the margin) and the same send is retried until it resolves or the
// accumulated wait would pass MaxThrottleWait. Context cancellation during a
// wait yields a TransientFailure carrying ctx.Err().
//
// Text the API splits is sent part by part; a retry resends only the part
// that was throttled. The first part that does not get through decides the
// outcome.
func (s *Sender) Send(ctx context.Context, id int64, msg Message) Outcome {
	return s.SendTo(ctx, kit.ChatTarget{ChatID: id}, msg)
}

func (s *Sender) SendTo(ctx context.Context, to kit.ChatTarget, msg Message) Outcome {
	var waited time.Duration
	switch {
	case msg.CopyOf != nil:
		from := *msg.CopyOf
		return s.retry(ctx, to, &waited, func(ctx context.Context) error {
			_, err := s.api.CopyMessage(ctx, to, from)
			return err
		})
	case msg.Poll != nil:
		poll := *msg.Poll
		return s.retry(ctx, to, &waited, func(ctx context.Context) error {
			_, err := s.api.SendPoll(ctx, to, poll)
			return err
		})
	}

	opt := &kit.SendOptions{ParseMode: msg.ParseMode, DisablePreview: msg.DisablePreview}
	parts := []string{msg.Text}
	if sp, ok := s.api.(TextSplitter); ok {
		parts = sp.SplitText(msg.Text, msg.ParseMode)
	}
	for i, part := range parts {
		out := s.retry(ctx, to, &waited, func(ctx context.Context) error {
			_, err := s.api.SendText(ctx, to, part, opt)
			return err
		})
		if out.Kind != Delivered {
			if i > 0 {
				s.log.Warn("message cut short", logx.Int64("chat_id", to.ChatID), logx.Int("parts_sent", i), logx.Int("parts", len(parts)))
			}
			return out
		}
	}
	return Outcome{Kind: Delivered}
}

// retry runs send until it is not throttled. waited accumulates across the
// calls made for one recipient.
func (s *Sender) retry(ctx context.Context, to kit.ChatTarget, waited *time.Duration, send func(ctx context.Context) error) Outcome {
	for attempt := 1; ; attempt++ {
		out := Classify(s.sendOnce(ctx, send))
		if !out.Throttled() {
			return out
		}

		wait := out.RetryAfter + s.cfg.ThrottleMargin
		if s.cfg.MaxThrottleWait > 0 && *waited+wait > s.cfg.MaxThrottleWait {
			s.log.Warn("throttle wait budget exhausted", logx.Int64("chat_id", to.ChatID), logx.Duration("waited", *waited), logx.Duration("retry_after", out.RetryAfter))
			return out
		}
		s.log.Debug("throttled, waiting", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", attempt), logx.Duration("wait", wait))
		if err := s.sleep(ctx, wait); err != nil {
			return Outcome{Kind: TransientFailure, Err: err}
		}
		*waited += wait
	}
}

func (s *Sender) sendOnce(ctx context.Context, send func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}
	return send(ctx)
}
