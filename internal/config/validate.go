package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"dailycast/internal/directory"
	"dailycast/internal/schedule"
	"dailycast/internal/storage"
	"dailycast/pkg/logx"
)

var streamNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Validate reports every problem it finds, joined. It never mutates cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	v := &validator{}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		v.addf("telegram.token: required (or set %s)", EnvTelegramToken)
	}
	v.duration("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	v.duration("telegram.send_timeout", cfg.Telegram.SendTimeout)

	if !logx.ValidLevel(cfg.Logging.Level) {
		v.addf("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if d := cfg.Directory.Driver; !directory.KnownDriver(d) {
		v.addf("directory.driver: unknown driver %q", d)
	}
	v.duration("directory.busy_timeout", cfg.Directory.BusyTimeout)
	if cfg.Directory.PageSize < 0 {
		v.addf("directory.page_size: must be >= 0")
	}

	if s := cfg.Storage; s != nil {
		if !storage.KnownDriver(s.Driver) {
			v.addf("storage.driver: unknown driver %q", s.Driver)
		}
		v.duration("storage.busy_timeout", s.BusyTimeout)
	}

	b := cfg.Broadcast
	if b.Pacing != nil {
		v.duration("broadcast.pacing", *b.Pacing)
	}
	if b.ProgressEvery < 0 {
		v.addf("broadcast.progress_every: must be >= 0")
	}
	v.duration("broadcast.throttle_margin", b.ThrottleMargin)
	v.duration("broadcast.max_throttle_wait", b.MaxThrottleWait)
	v.duration("broadcast.send_timeout", b.SendTimeout)

	sc := cfg.Scheduler
	if _, err := schedule.LoadLocation(sc.Timezone); err != nil {
		v.addf("scheduler.timezone: %v", err)
	}
	v.duration("scheduler.backoff_base", sc.BackoffBase)
	v.duration("scheduler.backoff_max", sc.BackoffMax)
	v.duration("scheduler.heartbeat", sc.Heartbeat)
	if sc.MaxRestarts < 0 {
		v.addf("scheduler.max_restarts: must be >= 0")
	}

	seen := make(map[string]struct{}, len(cfg.Streams))
	for i, st := range cfg.Streams {
		v.stream(fmt.Sprintf("streams[%d]", i), st, sc.Timezone, seen)
	}

	o := cfg.Ops
	v.duration("ops.read_timeout", o.ReadTimeout)
	v.duration("ops.write_timeout", o.WriteTimeout)
	v.duration("ops.idle_timeout", o.IdleTimeout)

	if n := cfg.Notifier; n != nil {
		if n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			v.addf("notifier: queue_size, rate_per_sec and retry_max must be >= 0")
		}
		v.duration("notifier.retry_base", n.RetryBase)
		v.duration("notifier.retry_max_delay", n.RetryMaxDelay)
		v.duration("notifier.dedup_window", n.DedupWindow)
	}

	return v.err()
}

func (v *validator) stream(path string, st StreamConfig, defaultTZ string, seen map[string]struct{}) {
	name := strings.TrimSpace(st.Name)
	switch {
	case !streamNameRe.MatchString(name):
		v.addf("%s.name: %q must match %s", path, st.Name, streamNameRe)
	default:
		if _, dup := seen[name]; dup {
			v.addf("%s.name: duplicate stream %q", path, name)
		}
		seen[name] = struct{}{}
	}

	tz := st.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = defaultTZ
	}
	if _, err := schedule.Parse(tz, st.Times); err != nil {
		v.addf("%s.times: %v", path, err)
	}

	if st.Channel == nil && !st.BroadcastEnabled() {
		v.addf("%s: needs a channel or broadcast enabled", path)
	}
	if st.Channel != nil && st.Channel.ChatID == 0 {
		v.addf("%s.channel.chat_id: required", path)
	}

	c := st.Content
	hasStatic := c.Static != nil && (len(c.Static.Texts) > 0 || len(c.Static.Polls) > 0)
	if len(c.HTTP) == 0 && !hasStatic && c.Trivia == nil {
		v.addf("%s.content: at least one trivia, http or static source is required", path)
	}
	if tr := c.Trivia; tr != nil {
		tp := path + ".content.trivia"
		switch strings.ToLower(strings.TrimSpace(tr.Difficulty)) {
		case "", "easy", "medium", "hard":
		default:
			v.addf("%s.difficulty: must be easy, medium or hard", tp)
		}
		if tr.Category < 0 || tr.Retries < 0 {
			v.addf("%s: category and retries must be >= 0", tp)
		}
		v.duration(tp+".timeout", tr.Timeout)
		v.duration(tp+".retry_wait_min", tr.RetryWaitMin)
		v.duration(tp+".retry_wait_max", tr.RetryWaitMax)
	}
	if c.Static != nil {
		for j, p := range c.Static.Polls {
			pp := fmt.Sprintf("%s.content.static.polls[%d]", path, j)
			switch {
			case strings.TrimSpace(p.Question) == "":
				v.addf("%s.question: required", pp)
			case len(p.Options) < 2 || len(p.Options) > 10:
				v.addf("%s.options: need 2 to 10 options", pp)
			case p.Correct < 0 || p.Correct >= len(p.Options):
				v.addf("%s.correct: index out of range", pp)
			}
		}
	}
	for j, h := range c.HTTP {
		hp := fmt.Sprintf("%s.content.http[%d]", path, j)
		if strings.TrimSpace(h.URL) == "" {
			v.addf("%s.url: required", hp)
		}
		if strings.TrimSpace(h.Template) == "" {
			v.addf("%s.template: required", hp)
		}
		if h.Retries < 0 {
			v.addf("%s.retries: must be >= 0", hp)
		}
		v.duration(hp+".timeout", h.Timeout)
		v.duration(hp+".retry_wait_min", h.RetryWaitMin)
		v.duration(hp+".retry_wait_max", h.RetryWaitMax)
	}
	if u := c.Unique; u != nil && (u.Limit < 0 || u.Refetches < 0) {
		v.addf("%s.content.unique: limit and refetches must be >= 0", path)
	}
}

type validator struct{ errs []error }

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) duration(path, raw string) {
	if _, err := ParseDurationField(path, raw); err != nil {
		v.errs = append(v.errs, err)
	}
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(v.errs...))
}
