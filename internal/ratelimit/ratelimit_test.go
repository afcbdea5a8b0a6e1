package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"countdownbot/internal/storage"
	logx "countdownbot/pkg/logx"
)

func newTestLimiter(t *testing.T, cooldown time.Duration) (*Limiter, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, cooldown, logx.Nop()), st
}

func TestGroupFixedWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lim, _ := newTestLimiter(t, 5*time.Minute)
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	if !lim.Allow(ctx, -100, true, base) {
		t.Fatal("first call should be allowed")
	}
	if lim.Allow(ctx, -100, true, base.Add(2*time.Minute)) {
		t.Fatal("call inside cooldown should be suppressed")
	}
	// Suppressed calls do not extend the window.
	if lim.Allow(ctx, -100, true, base.Add(4*time.Minute)) {
		t.Fatal("call inside cooldown should be suppressed")
	}
	if !lim.Allow(ctx, -100, true, base.Add(6*time.Minute)) {
		t.Fatal("call after cooldown should be allowed")
	}
	// The allowed call opened a new window.
	if lim.Allow(ctx, -100, true, base.Add(7*time.Minute)) {
		t.Fatal("new window should suppress again")
	}
}

func TestChatsLimitedIndependently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lim, _ := newTestLimiter(t, 5*time.Minute)
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	if !lim.Allow(ctx, -1, true, now) || !lim.Allow(ctx, -2, true, now) {
		t.Fatal("distinct chats share a window")
	}
}

func TestPrivateChatsNeverLimited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lim, st := newTestLimiter(t, 5*time.Minute)
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !lim.Allow(ctx, 42, false, now.Add(time.Duration(i)*time.Second)) {
			t.Fatal("private chat limited")
		}
	}
	// Private traffic leaves no activity record behind.
	if _, ok, _ := st.LastMessage(ctx, 42); ok {
		t.Fatal("private chat wrote activity")
	}
}

func TestSetCooldown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lim, _ := newTestLimiter(t, 5*time.Minute)
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	lim.SetCooldown(time.Minute)
	if !lim.Allow(ctx, -5, true, base) {
		t.Fatal("first call should be allowed")
	}
	if !lim.Allow(ctx, -5, true, base.Add(90*time.Second)) {
		t.Fatal("shortened cooldown not applied")
	}
}
