// Package catalog manages the named events (Akademien) the bot counts down
// to: create/list/edit/delete plus the user-facing list and countdown text.
package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	"countdownbot/internal/storage"
	logx "countdownbot/pkg/logx"
)

// Sentinel errors shared with the storage layer.
var (
	ErrExists   = storage.ErrExists
	ErrNotFound = storage.ErrNotFound
)

// DateLayout is the stored date format.
const DateLayout = "2006-01-02"

// Event is one catalog entry. Date is nil when the stored text is empty or
// not a valid date; such events are listed but never counted down to.
type Event struct {
	Name        string
	Description string
	Date        *time.Time
}

// ParseDate interprets stored date text. Anything that does not parse as
// YYYY-MM-DD yields nil, mirroring how malformed rows are tolerated.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return nil
	}
	return &d
}

// Update carries a partial edit; nil fields keep the stored value.
type Update struct {
	Name        *string
	Description *string
	Date        *string
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

// Create adds a new event. The date is stored as given, even when it does
// not parse; a dateless event simply never appears in countdowns.
func (s *Service) Create(ctx context.Context, name, description, date string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNotFound
	}
	err := s.store.InsertEvent(ctx, storage.EventRecord{
		Name:        name,
		Description: strings.TrimSpace(description),
		Date:        strings.TrimSpace(date),
	})
	if err == nil {
		s.log.Info("event created", logx.String("name", name))
	}
	return err
}

// All returns every event sorted by name.
func (s *Service) All(ctx context.Context) ([]Event, error) {
	recs, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, Event{
			Name:        r.Name,
			Description: r.Description,
			Date:        ParseDate(r.Date),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) Get(ctx context.Context, name string) (Event, error) {
	rec, err := s.store.GetEvent(ctx, strings.TrimSpace(name))
	if err != nil {
		return Event{}, err
	}
	return Event{Name: rec.Name, Description: rec.Description, Date: ParseDate(rec.Date)}, nil
}

// Edit applies a partial update. All-nil updates are a valid no-op touch;
// editing an unknown event returns ErrNotFound.
func (s *Service) Edit(ctx context.Context, name string, upd Update) error {
	err := s.store.UpdateEvent(ctx, strings.TrimSpace(name), storage.EventUpdate{
		Name:        upd.Name,
		Description: upd.Description,
		Date:        upd.Date,
	})
	if err == nil {
		s.log.Info("event updated", logx.String("name", name))
	}
	return err
}

func (s *Service) Delete(ctx context.Context, name string) error {
	err := s.store.DeleteEvent(ctx, strings.TrimSpace(name))
	if err == nil {
		s.log.Info("event deleted", logx.String("name", name))
	}
	return err
}
