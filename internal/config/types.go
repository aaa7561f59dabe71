package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Directory DirectoryConfig `json:"directory"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Streams   []StreamConfig  `json:"streams"`
	Ops       OpsConfig       `json:"ops,omitempty"`

	// Notifier controls the async reporter to the log chat.
	// If the whole section is omitted, the notifier is enabled whenever
	// telegram.log_chat_id is set.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	LogChatID    int64   `json:"log_chat_id,omitempty"`
	LogThreadID  int     `json:"log_thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// APIURL points at a self-hosted Bot API server; empty uses api.telegram.org.
	APIURL string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DirectoryConfig selects where recipients live.
//
// Example:
//
//	"directory": { "driver": "sqlite", "dsn": "./dailycast_recipients.db" }
type DirectoryConfig struct {
	Driver string `json:"driver"`
	// DSN is a file path (sqlite), a libpq connection string (postgres)
	// or host:port (redis). Prefer DAILYCAST_DIRECTORY_DSN for secrets.
	DSN           string `json:"dsn,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	Key           string `json:"key,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`
	PageSize      int    `json:"page_size,omitempty"`
}

// StorageConfig controls the persistence layer for seen sets and the audit log.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./dailycast_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// BroadcastConfig tunes delivery. All durations are Go duration strings.
//
// Defaults (when fields are omitted):
//   - pacing: "50ms" (use "0s" to disable)
//   - progress_every: 20
//   - throttle_margin: "1s"
//   - max_throttle_wait: "0s" (unlimited)
type BroadcastConfig struct {
	Pacing          *string `json:"pacing,omitempty"`
	ProgressEvery   int     `json:"progress_every,omitempty"`
	ThrottleMargin  string  `json:"throttle_margin,omitempty"`
	MaxThrottleWait string  `json:"max_throttle_wait,omitempty"`
	SendTimeout     string  `json:"send_timeout,omitempty"`
}

// SchedulerConfig holds the defaults every stream loop inherits.
type SchedulerConfig struct {
	// Timezone is an IANA name; empty means UTC.
	Timezone    string `json:"timezone,omitempty"`
	BackoffBase string `json:"backoff_base,omitempty"`
	BackoffMax  string `json:"backoff_max,omitempty"`
	MaxRestarts int    `json:"max_restarts,omitempty"`
	// Heartbeat reports liveness to the log chat while idle. "0s" disables.
	Heartbeat string `json:"heartbeat,omitempty"`
}

// StreamConfig is one scheduled content stream.
//
// Times entries are "HH:MM", "cron:<expr>" or "every:<duration>".
type StreamConfig struct {
	Name     string   `json:"name"`
	Enabled  *bool    `json:"enabled,omitempty"`
	Times    []string `json:"times"`
	Timezone string   `json:"timezone,omitempty"`

	// Channel, when set, receives every post before the broadcast.
	Channel *ChannelConfig `json:"channel,omitempty"`
	// Broadcast defaults to true.
	Broadcast *bool `json:"broadcast,omitempty"`

	Content ContentConfig `json:"content"`
}

func (s StreamConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func (s StreamConfig) BroadcastEnabled() bool { return s.Broadcast == nil || *s.Broadcast }

type ChannelConfig struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// ContentConfig lists sources in fallback order: trivia first, then every
// HTTP endpoint, then the static list.
type ContentConfig struct {
	Trivia *TriviaSourceConfig `json:"trivia,omitempty"`
	HTTP   []HTTPSourceConfig  `json:"http,omitempty"`
	Static *StaticConfig       `json:"static,omitempty"`
	Unique *UniqueConfig       `json:"unique,omitempty"`
}

// TriviaSourceConfig posts Open Trivia DB questions as quiz polls.
type TriviaSourceConfig struct {
	URL        string `json:"url,omitempty"`
	Category   int    `json:"category,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`

	Timeout      string `json:"timeout,omitempty"`
	Retries      int    `json:"retries,omitempty"`
	RetryWaitMin string `json:"retry_wait_min,omitempty"`
	RetryWaitMax string `json:"retry_wait_max,omitempty"`
}

type HTTPSourceConfig struct {
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
	Template   string            `json:"template"`
	IDTemplate string            `json:"id_template,omitempty"`
	ParseMode  string            `json:"parse_mode,omitempty"`

	Timeout      string `json:"timeout,omitempty"`
	Retries      int    `json:"retries,omitempty"`
	RetryWaitMin string `json:"retry_wait_min,omitempty"`
	RetryWaitMax string `json:"retry_wait_max,omitempty"`
}

// StaticConfig holds fixed texts or fixed quiz polls. When both are set the
// polls are used.
type StaticConfig struct {
	Texts     []string     `json:"texts,omitempty"`
	ParseMode string       `json:"parse_mode,omitempty"`
	Polls     []PollConfig `json:"polls,omitempty"`
}

// PollConfig is one fixed quiz question. Correct indexes Options.
type PollConfig struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     int      `json:"correct"`
	Explanation string   `json:"explanation,omitempty"`
}

// UniqueConfig skips items already posted by this stream.
type UniqueConfig struct {
	Limit     int `json:"limit,omitempty"`     // default 200
	Refetches int `json:"refetches,omitempty"` // default 5
}

// OpsConfig controls the health/metrics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}
