package config

import (
	"reflect"
	"strings"

	logx "countdownbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes the bot token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.AdminUserIDs, newCfg.Telegram.AdminUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.admin_count", len(newCfg.Telegram.AdminUserIDs)),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.Telegram.Enabled != newCfg.Logging.Telegram.Enabled ||
		oldCfg.Logging.Telegram.ChatID != newCfg.Logging.Telegram.ChatID ||
		oldCfg.Logging.Telegram.MinLevel != newCfg.Logging.Telegram.MinLevel ||
		oldCfg.Logging.Telegram.RatePerSec != newCfg.Logging.Telegram.RatePerSec {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Storage (restart required; surfaced so the operator sees the warning)
	if strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	// Rate limit
	if strings.TrimSpace(oldCfg.RateLimit.Cooldown) != strings.TrimSpace(newCfg.RateLimit.Cooldown) {
		changed = append(changed, "ratelimit")
		attrs = append(attrs,
			logx.String("ratelimit.cooldown", strings.TrimSpace(newCfg.RateLimit.Cooldown)),
		)
	}

	// Delivery
	if strings.TrimSpace(oldCfg.Delivery.Interval) != strings.TrimSpace(newCfg.Delivery.Interval) ||
		strings.TrimSpace(oldCfg.Delivery.MaxAge) != strings.TrimSpace(newCfg.Delivery.MaxAge) {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.interval", strings.TrimSpace(newCfg.Delivery.Interval)),
			logx.String("delivery.max_age", strings.TrimSpace(newCfg.Delivery.MaxAge)),
		)
	}

	return changed, attrs
}
