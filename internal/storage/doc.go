// Package storage persists the event catalog, subscriptions, and per-chat
// activity in a single SQLite database file.
package storage
