package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {
    "token": "123:abc",
    "admin_user_ids": [7, 11],
    "poll_timeout": "10s"
  },
  "logging": {
    "level": "debug",
    "console": true,
    "file": {"enabled": false, "path": ""},
    "telegram": {"enabled": false, "chat_id": 0, "min_level": "warn", "rate_per_sec": 1}
  },
  "storage": {"path": "bot.db", "busy_timeout": "2s"},
  "ratelimit": {"cooldown": "5m"},
  "delivery": {"interval": "60s", "max_age": "5m"}
}`

const sampleYAML = `telegram:
  token: "123:abc"
  admin_user_ids: [7, 11]
  poll_timeout: 10s
logging:
  level: debug
  console: true
storage:
  path: bot.db
ratelimit:
  cooldown: 5m
delivery:
  interval: 60s
  max_age: 5m
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", sampleJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 || cfg.Telegram.AdminUserIDs[1] != 11 {
		t.Fatalf("admins = %v", cfg.Telegram.AdminUserIDs)
	}
	if cfg.Delivery.MaxAge != "5m" {
		t.Fatalf("max_age = %q", cfg.Delivery.MaxAge)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() should return the committed snapshot")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Storage.Path != "bot.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RateLimit.Cooldown != "5m" {
		t.Fatalf("cooldown = %q", cfg.RateLimit.Cooldown)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"telegram": {"tokenn": "typo"}}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"telegram": {"token": "a"}} {"extra": 1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestSubscribePublishDropOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{Telegram: TelegramConfig{Token: "x"}}
	m.publish(first)
	m.publish(second) // buffer full: oldest dropped, newest kept

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("expected the newest config to win")
		}
	default:
		t.Fatal("expected a pending config")
	}
}

func TestWatchReloadsAndValidates(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", sampleJSON)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Telegram.Token == "" {
			return os.ErrInvalid
		}
		return nil
	})

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to attach before the first write.
	time.Sleep(300 * time.Millisecond)

	updated := `{"telegram": {"token": "456:def"}, "storage": {"path": "bot.db"}}`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Telegram.Token != "456:def" {
			t.Fatalf("token = %q", cfg.Telegram.Token)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	// A config the validator rejects must not be published or committed.
	rejected := `{"telegram": {"token": ""}, "storage": {"path": "bot.db"}}`
	if err := os.WriteFile(path, []byte(rejected), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case cfg := <-ch:
		t.Fatalf("rejected config was published: %+v", cfg)
	case <-time.After(time.Second):
	}
	if got := m.Get(); got.Telegram.Token != "456:def" {
		t.Fatalf("committed config changed to %q", got.Telegram.Token)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("delivery.interval", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	// Bare numbers are seconds.
	if d, err := ParseDurationField("ratelimit.cooldown", "300"); err != nil || d != 5*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("delivery.interval", "soon"); err == nil {
		t.Fatal("expected error for bad duration")
	}
	if d, err := ParseDurationOrDefault("delivery.max_age", "", 5*time.Minute); err != nil || d != 5*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
}
