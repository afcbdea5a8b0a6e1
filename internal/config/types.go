package config

// Config is the full bot configuration. It can be written as JSON or YAML;
// both are decoded strictly (unknown keys are rejected).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m") or a
// bare number of seconds.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	RateLimit RateLimitConfig `json:"ratelimit"`
	Delivery  DeliveryConfig  `json:"delivery"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs may run the catalog management commands
	// (/add_akademie, /delete_akademie, /edit_akademie).
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// PollTimeout bounds the long-poll getUpdates call.
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings/errors into a chat, rate limited.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig locates the SQLite database file.
// Changing it requires a restart.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RateLimitConfig controls group-chat command suppression.
type RateLimitConfig struct {
	// Cooldown is the fixed window between allowed listing commands per
	// group chat. Default "5m".
	Cooldown string `json:"cooldown,omitempty"`
}

// DeliveryConfig controls the periodic subscription delivery pass.
type DeliveryConfig struct {
	// Interval between delivery passes. Default "60s".
	Interval string `json:"interval,omitempty"`
	// MaxAge is the freshness bound for periodic passes: a subscription
	// whose daily occurrence is older than this never fires. Default "5m".
	MaxAge string `json:"max_age,omitempty"`
}
