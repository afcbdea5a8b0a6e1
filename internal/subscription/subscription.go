// Package subscription manages daily countdown subscriptions and the
// delivery engine that decides when each one is due.
//
// All subscription times are interpreted in UTC.
package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"countdownbot/internal/storage"
	logx "countdownbot/pkg/logx"
)

// DefaultTopic is the single subscription topic currently in use: the
// countdown over all dated events.
const DefaultTopic = "1"

// DefaultTime is used when /subscribe is called without a parseable time.
var DefaultTime = TimeOfDay{Hour: 6}

// TimeOfDay is a wall-clock time of day, 00:00:00 through 23:59:59.
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 &&
		t.Minute >= 0 && t.Minute <= 59 &&
		t.Second >= 0 && t.Second <= 59
}

// At places the time of day on day's calendar date, in day's location.
func (t TimeOfDay) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, t.Second, 0, day.Location())
}

// ParseTimeOfDay parses the stored "HH:MM:SS" text form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04:05", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute(), Second: parsed.Second()}, nil
}

// ParseHourMinute parses user input in "HH:MM" form (seconds zero).
func ParseHourMinute(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// Subscription is a chat's standing request for a daily countdown message.
type Subscription struct {
	ChatID int64
	Topic  string
	Time   TimeOfDay
}

type Service struct {
	store storage.Store
	log   logx.Logger
}

func NewService(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// Subscribe registers a daily countdown for the chat at the given time. A
// chat may hold several subscriptions at different times; repeating an
// identical (chat, time) subscription is a no-op (added=false).
func (s *Service) Subscribe(ctx context.Context, chatID int64, t TimeOfDay) (added bool, err error) {
	if !t.valid() {
		return false, fmt.Errorf("invalid time of day %+v", t)
	}
	added, err = s.store.AddSubscription(ctx, storage.SubscriptionRecord{
		ChatID: chatID,
		Topic:  DefaultTopic,
		Time:   t.String(),
	})
	if err == nil && added {
		s.log.Info("chat subscribed", logx.Int64("chat_id", chatID), logx.String("time", t.String()))
	}
	return added, err
}

// Unsubscribe removes every subscription for the chat.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64) (removed int64, err error) {
	removed, err = s.store.RemoveSubscriptions(ctx, chatID)
	if err == nil && removed > 0 {
		s.log.Info("chat unsubscribed", logx.Int64("chat_id", chatID))
	}
	return removed, err
}

// All returns every subscription in insertion order. Rows whose stored time
// does not parse are logged and skipped rather than failing the whole list.
func (s *Service) All(ctx context.Context) ([]Subscription, error) {
	recs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Subscription, 0, len(recs))
	for _, r := range recs {
		t, err := ParseTimeOfDay(r.Time)
		if err != nil {
			s.log.Warn("skipping subscription with bad time",
				logx.Int64("chat_id", r.ChatID), logx.String("time", r.Time), logx.Err(err))
			continue
		}
		out = append(out, Subscription{ChatID: r.ChatID, Topic: r.Topic, Time: t})
	}
	return out, nil
}
