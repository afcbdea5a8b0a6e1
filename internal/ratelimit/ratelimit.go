// Package ratelimit suppresses repeated listing commands in group chats.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"countdownbot/internal/storage"
	logx "countdownbot/pkg/logx"
)

// DefaultCooldown is the fixed window between allowed listing commands per
// group chat.
const DefaultCooldown = 5 * time.Minute

// Limiter implements a fixed-window limit per group chat, backed by the
// chat_activity table. Private chats are never limited.
type Limiter struct {
	store storage.Store
	log   logx.Logger

	mu       sync.Mutex
	cooldown time.Duration
}

func New(store storage.Store, cooldown time.Duration, log logx.Logger) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Limiter{store: store, cooldown: cooldown, log: log}
}

// SetCooldown adjusts the window; d <= 0 restores the default.
func (l *Limiter) SetCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}
	l.mu.Lock()
	l.cooldown = d
	l.mu.Unlock()
}

// Allow reports whether a listing command in this chat may produce output
// now. An allowed call in a group chat starts a new window; a suppressed
// call records nothing, so the window is not extended by spam.
// Store errors fail open: chatting beats silence.
func (l *Limiter) Allow(ctx context.Context, chatID int64, isGroup bool, now time.Time) bool {
	if !isGroup {
		return true
	}
	l.mu.Lock()
	cooldown := l.cooldown
	l.mu.Unlock()

	last, ok, err := l.store.LastMessage(ctx, chatID)
	if err != nil {
		l.log.Warn("rate limit lookup failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return true
	}
	if ok && now.Sub(last) < cooldown {
		l.log.Debug("listing suppressed", logx.Int64("chat_id", chatID))
		return false
	}
	if err := l.store.TouchChat(ctx, chatID, now); err != nil {
		l.log.Warn("rate limit update failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return true
}
