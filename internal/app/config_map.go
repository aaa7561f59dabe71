package app

import (
	"strings"
	"time"

	"dailycast/internal/broadcast"
	"dailycast/internal/config"
	"dailycast/internal/content"
	"dailycast/internal/directory"
	"dailycast/internal/notifier"
	"dailycast/internal/observability/ops"
	"dailycast/internal/scheduler"
	"dailycast/internal/storage"
	kit "dailycast/internal/transport"
	telegram "dailycast/internal/transport/telegram/adapter"
	logx "dailycast/pkg/logx"
)

// The mappers below run on validated configs, so durations always parse.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 10*time.Second),
		SendTimeout: config.Duration(cfg.Telegram.SendTimeout, 0),
		APIURL:      cfg.Telegram.APIURL,
	}
}

// mapStorageConfig returns the store config. A missing section means memory.
func mapStorageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{Driver: "memory"}
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		switch driver {
		case "file":
			path = "./dailycast_store"
		case "sqlite", "sqlite3":
			path = "./dailycast_store.db"
		}
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: config.Duration(sc.BusyTimeout, time.Second),
	}
}

func mapDirectoryConfig(cfg *config.Config) directory.Config {
	dc := cfg.Directory
	driver := strings.ToLower(strings.TrimSpace(dc.Driver))
	dsn := strings.TrimSpace(dc.DSN)
	if dsn == "" && (driver == "sqlite" || driver == "sqlite3") {
		dsn = "./dailycast_recipients.db"
	}
	return directory.Config{
		Driver:        driver,
		DSN:           dsn,
		RedisPassword: dc.RedisPassword,
		RedisDB:       dc.RedisDB,
		Key:           dc.Key,
		BusyTimeout:   config.Duration(dc.BusyTimeout, time.Second),
		PageSize:      dc.PageSize,
	}
}

func mapSenderConfig(cfg *config.Config) broadcast.SenderConfig {
	b := cfg.Broadcast
	return broadcast.SenderConfig{
		ThrottleMargin:  config.Duration(b.ThrottleMargin, time.Second),
		MaxThrottleWait: config.Duration(b.MaxThrottleWait, 0),
		SendTimeout:     config.Duration(b.SendTimeout, 0),
	}
}

func mapEngineConfig(cfg *config.Config) broadcast.EngineConfig {
	pacing := broadcast.DefaultPacing
	if p := cfg.Broadcast.Pacing; p != nil {
		pacing = config.Duration(*p, broadcast.DefaultPacing)
	}
	return broadcast.EngineConfig{
		Pacing:        pacing,
		ProgressEvery: cfg.Broadcast.ProgressEvery,
	}
}

func mapLoopConfig(cfg *config.Config) scheduler.Config {
	s := cfg.Scheduler
	return scheduler.Config{
		BackoffBase: config.Duration(s.BackoffBase, scheduler.DefaultBackoffBase),
		BackoffMax:  config.Duration(s.BackoffMax, scheduler.DefaultBackoffMax),
		MaxRestarts: s.MaxRestarts,
		Heartbeat:   config.Duration(s.Heartbeat, 12*time.Hour),
	}
}

// logTarget is where operator reports go; ChatID 0 means nowhere.
func logTarget(cfg *config.Config) kit.ChatTarget {
	return kit.ChatTarget{ChatID: cfg.Telegram.LogChatID, ThreadID: cfg.Telegram.LogThreadID}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: cfg.Telegram.LogChatID != 0, Target: logTarget(cfg)}
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		Target:        logTarget(cfg),
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     config.Duration(n.RetryBase, 0),
		RetryMaxDelay: config.Duration(n.RetryMaxDelay, 0),
		DedupWindow:   config.Duration(n.DedupWindow, 0),
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	o := cfg.Ops
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   config.Duration(o.ReadTimeout, 0),
		WriteTimeout:  config.Duration(o.WriteTimeout, 0),
		IdleTimeout:   config.Duration(o.IdleTimeout, 0),
	}
}

func mapHTTPSource(h config.HTTPSourceConfig) content.HTTPConfig {
	return content.HTTPConfig{
		URL:          strings.TrimSpace(h.URL),
		Headers:      h.Headers,
		Template:     h.Template,
		IDTemplate:   h.IDTemplate,
		ParseMode:    h.ParseMode,
		Timeout:      config.Duration(h.Timeout, 0),
		Retries:      h.Retries,
		RetryWaitMin: config.Duration(h.RetryWaitMin, 0),
		RetryWaitMax: config.Duration(h.RetryWaitMax, 0),
	}
}

func mapTriviaSource(t config.TriviaSourceConfig) content.TriviaConfig {
	return content.TriviaConfig{
		URL:          strings.TrimSpace(t.URL),
		Category:     t.Category,
		Difficulty:   t.Difficulty,
		Timeout:      config.Duration(t.Timeout, 0),
		Retries:      t.Retries,
		RetryWaitMin: config.Duration(t.RetryWaitMin, 0),
		RetryWaitMax: config.Duration(t.RetryWaitMax, 0),
	}
}

func mapPolls(in []config.PollConfig) []kit.Poll {
	out := make([]kit.Poll, 0, len(in))
	for _, p := range in {
		out = append(out, kit.Poll{
			Question:      p.Question,
			Options:       p.Options,
			Quiz:          true,
			CorrectOption: p.Correct,
			Explanation:   p.Explanation,
		})
	}
	return out
}
