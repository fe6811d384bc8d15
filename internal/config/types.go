package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("5s", "1m"). Fields carrying an env
// tag can be overridden from the environment; the environment wins.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Redis      RedisConfig      `json:"redis"`
	Feed       FeedConfig       `json:"feed"`
	Queue      QueueConfig      `json:"queue"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Logging    LoggingConfig    `json:"logging"`
	Ops        OpsConfig        `json:"ops"`
	Storage    StorageConfig    `json:"storage"`
}

type TelegramConfig struct {
	Token       string `json:"token" env:"TELEGRAM_TOKEN"`
	AdminChatID int64  `json:"admin_chat_id" env:"ADMIN_CHAT_ID"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// RedisConfig selects the server and the three logical databases.
// Nil database pointers fall back to 0 (subscribers), 1 (messages), 2 (config).
type RedisConfig struct {
	URL          string `json:"url" env:"REDIS_URL"`
	SubscriberDB *int   `json:"subscriber_db,omitempty"`
	MessageDB    *int   `json:"message_db,omitempty"`
	ConfigDB     *int   `json:"config_db,omitempty"`
}

type FeedConfig struct {
	URL       string `json:"url,omitempty" env:"FEED_URL"`
	Interval  string `json:"interval,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// QueueConfig selects the queue backend ("stream" or "list").
//
// BlockTimeout "0s" (or empty) blocks a pop forever.
type QueueConfig struct {
	Backend      string `json:"backend,omitempty" env:"QUEUE_BACKEND"`
	BlockTimeout string `json:"block_timeout,omitempty"`
	ClaimMinIdle string `json:"claim_min_idle,omitempty"`
	MaxLen       int64  `json:"max_len,omitempty"`
}

type DispatcherConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`

	// MarkWhenDisabled keeps the marker of an event consumed while the
	// operational flag is off. Nil means true.
	MarkWhenDisabled *bool `json:"mark_when_disabled,omitempty"`
}

type LoggingConfig struct {
	Level    string                `json:"level" env:"LOG_LEVEL"`
	Console  bool                  `json:"console"`
	File     LoggingFileConfig     `json:"file"`
	Telegram LoggingTelegramConfig `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegramConfig forwards records to the admin chat.
type LoggingTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// OpsConfig controls the operational HTTP server (health, stats, metrics, pprof).
type OpsConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty" env:"OPS_ADDR"`
	Token        string `json:"token,omitempty"`
	Pprof        bool   `json:"pprof,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// StorageConfig configures the admin audit log.
//
// Driver is "file", "sqlite", or empty/"none" to disable it.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
