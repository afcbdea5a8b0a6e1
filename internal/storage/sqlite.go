package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "countdownbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the SQLite database at cfg.Path and runs
// the embedded migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) InsertEvent(ctx context.Context, rec EventRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events(name, description, date) VALUES(?,?,?)`,
		rec.Name, rec.Description, rec.Date,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (s *sqliteStore) ListEvents(ctx context.Context) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, date FROM events ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.Name, &rec.Description, &rec.Date); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetEvent(ctx context.Context, name string) (EventRecord, error) {
	var rec EventRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, date FROM events WHERE name = ?`, name,
	).Scan(&rec.Name, &rec.Description, &rec.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return EventRecord{}, ErrNotFound
	}
	if err != nil {
		return EventRecord{}, err
	}
	return rec, nil
}

func (s *sqliteStore) UpdateEvent(ctx context.Context, name string, upd EventUpdate) error {
	if upd.Name != nil {
		// Renames must not silently overwrite another event.
		if *upd.Name != name {
			if _, err := s.GetEvent(ctx, *upd.Name); err == nil {
				return ErrExists
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET
		     name        = COALESCE(?, name),
		     description = COALESCE(?, description),
		     date        = COALESCE(?, date)
		 WHERE name = ?`,
		upd.Name, upd.Description, upd.Date, name,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AddSubscription(ctx context.Context, rec SubscriptionRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions(chat_id, topic, time) VALUES(?,?,?)`,
		rec.ChatID, rec.Topic, rec.Time,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) RemoveSubscriptions(ctx context.Context, chatID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context) ([]SubscriptionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, topic, time FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriptionRecord
	for rows.Next() {
		var rec SubscriptionRecord
		if err := rows.Scan(&rec.ChatID, &rec.Topic, &rec.Time); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LastMessage(ctx context.Context, chatID int64) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_message FROM chat_activity WHERE chat_id = ?`, chatID,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) TouchChat(ctx context.Context, chatID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_activity(chat_id, last_message) VALUES(?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET last_message=excluded.last_message`,
		chatID, at.UnixMilli(),
	)
	return err
}
