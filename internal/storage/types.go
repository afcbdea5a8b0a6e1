package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrExists   = errors.New("already exists")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// EventRecord is one catalog row. Date is the raw stored text
// ("YYYY-MM-DD" or anything else; interpretation is the caller's job).
type EventRecord struct {
	Name        string
	Description string
	Date        string
}

// EventUpdate carries a partial edit. Nil fields keep the stored value.
type EventUpdate struct {
	Name        *string
	Description *string
	Date        *string
}

// SubscriptionRecord is one subscription row. Time is "HH:MM:SS" text.
type SubscriptionRecord struct {
	ChatID int64
	Topic  string
	Time   string
}

// Store is the persistence API used by the catalog, subscription, and
// rate-limit layers.
type Store interface {
	// Events.
	InsertEvent(ctx context.Context, rec EventRecord) error
	ListEvents(ctx context.Context) ([]EventRecord, error)
	GetEvent(ctx context.Context, name string) (EventRecord, error)
	UpdateEvent(ctx context.Context, name string, upd EventUpdate) error
	DeleteEvent(ctx context.Context, name string) error

	// Subscriptions.
	AddSubscription(ctx context.Context, rec SubscriptionRecord) (added bool, err error)
	RemoveSubscriptions(ctx context.Context, chatID int64) (removed int64, err error)
	ListSubscriptions(ctx context.Context) ([]SubscriptionRecord, error)

	// Per-chat activity, used by the group rate limiter.
	LastMessage(ctx context.Context, chatID int64) (at time.Time, ok bool, err error)
	TouchChat(ctx context.Context, chatID int64, at time.Time) error

	Close() error
}
