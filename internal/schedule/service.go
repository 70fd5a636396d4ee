// Package schedule implements the calendar operations behind the assistant's
// tools: creating, querying, moving and completing entries. All times cross
// the package boundary in UTC; the owner's timezone only matters for parsing
// phrases and picking day boundaries.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/basket/minder/internal/persistence"
)

// ErrPastTime rejects entries scheduled before the current moment.
var ErrPastTime = errors.New("scheduled time is in the past")

// ErrEmptyTitle rejects entries without a title.
var ErrEmptyTitle = errors.New("title must not be empty")

// Service wraps the store with validation and timezone-aware queries.
type Service struct {
	store  *persistence.Store
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewService(store *persistence.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Location returns the owner's configured timezone.
func (s *Service) Location(ctx context.Context, ownerID string) (*time.Location, error) {
	prefs, err := s.store.GetPreferences(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return prefs.Location(), nil
}

// ErrBadReminderOffset rejects per-entry reminder offsets outside 1..1440.
var ErrBadReminderOffset = errors.New("reminder offset out of range")

// CreateEntry validates and stores a new active entry. whenPhrase is resolved
// against the owner's timezone; the entry must land strictly in the future.
// reminderOffsetMinutes > 0 overrides the owner's pre-event offset for this
// entry only; 0 inherits the preference.
func (s *Service) CreateEntry(ctx context.Context, ownerID, title, whenPhrase, notes string, reminderOffsetMinutes int) (*persistence.Entry, error) {
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if reminderOffsetMinutes < 0 || reminderOffsetMinutes > 24*60 {
		return nil, fmt.Errorf("%w: %d", ErrBadReminderOffset, reminderOffsetMinutes)
	}
	loc, err := s.Location(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	at, err := ResolveTime(whenPhrase, now, loc)
	if err != nil {
		return nil, err
	}
	if !at.After(now) {
		return nil, fmt.Errorf("%w: %s", ErrPastTime, at.In(loc).Format("2006-01-02 15:04"))
	}

	entry := &persistence.Entry{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       title,
		ScheduledAt: at.UTC(),
		Notes:       notes,
	}
	if reminderOffsetMinutes > 0 {
		entry.ReminderOffsetMinutes = &reminderOffsetMinutes
	}
	if err := s.store.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	s.logger.Info("entry created", "entry_id", entry.ID, "owner_id", ownerID, "scheduled_at", entry.ScheduledAt)
	return entry, nil
}

// QueryDay returns the owner's active entries for the calendar day containing
// dayPhrase ("today", "tomorrow", "2026-09-01", ...), in the owner's timezone.
func (s *Service) QueryDay(ctx context.Context, ownerID, dayPhrase string) ([]persistence.Entry, error) {
	loc, err := s.Location(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	day, err := ResolveTime(dayPhrase, s.now(), loc)
	if err != nil {
		return nil, err
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return s.store.ListEntriesByOwner(ctx, ownerID, start, start.AddDate(0, 0, 1), persistence.EntryStatusActive)
}

// QueryRange returns active entries in [from, to).
func (s *Service) QueryRange(ctx context.Context, ownerID string, from, to time.Time) ([]persistence.Entry, error) {
	return s.store.ListEntriesByOwner(ctx, ownerID, from, to, persistence.EntryStatusActive)
}

// FindByKeyword searches active entries by title or notes substring.
func (s *Service) FindByKeyword(ctx context.Context, ownerID, keyword string) ([]persistence.Entry, error) {
	if keyword == "" {
		return nil, nil
	}
	return s.store.SearchEntries(ctx, ownerID, keyword, 0)
}

// UpdateEntry changes title, notes and/or time of an owner's entry. A new
// whenPhrase must resolve to a future time.
func (s *Service) UpdateEntry(ctx context.Context, ownerID, id, title, whenPhrase, notes string) (*persistence.Entry, error) {
	upd := persistence.EntryUpdate{}
	if title != "" {
		upd.Title = &title
	}
	if notes != "" {
		upd.Notes = &notes
	}
	if whenPhrase != "" {
		loc, err := s.Location(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		at, err := ResolveTime(whenPhrase, now, loc)
		if err != nil {
			return nil, err
		}
		if !at.After(now) {
			return nil, fmt.Errorf("%w: %s", ErrPastTime, at.In(loc).Format("2006-01-02 15:04"))
		}
		utc := at.UTC()
		upd.ScheduledAt = &utc
	}
	entry, err := s.store.UpdateEntry(ctx, ownerID, id, upd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("entry updated", "entry_id", id, "owner_id", ownerID, "rescheduled", upd.ScheduledAt != nil)
	return entry, nil
}

// ShiftEntry moves an entry by a signed offset from its current time. The
// result must still be in the future.
func (s *Service) ShiftEntry(ctx context.Context, ownerID, id string, delta time.Duration) (*persistence.Entry, error) {
	current, err := s.store.GetEntry(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	at := current.ScheduledAt.Add(delta)
	if !at.After(s.now()) {
		return nil, fmt.Errorf("%w: shift lands at %s", ErrPastTime, at.Format(time.RFC3339))
	}
	entry, err := s.store.UpdateEntry(ctx, ownerID, id, persistence.EntryUpdate{ScheduledAt: &at})
	if err != nil {
		return nil, err
	}
	s.logger.Info("entry shifted", "entry_id", id, "owner_id", ownerID, "delta", delta.String())
	return entry, nil
}

// CompleteEntry marks an active entry as done.
func (s *Service) CompleteEntry(ctx context.Context, ownerID, id string) error {
	if err := s.store.CompleteEntry(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.Info("entry completed", "entry_id", id, "owner_id", ownerID)
	return nil
}

// DeleteEntry removes an entry permanently.
func (s *Service) DeleteEntry(ctx context.Context, ownerID, id string) error {
	if err := s.store.DeleteEntry(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.Info("entry deleted", "entry_id", id, "owner_id", ownerID)
	return nil
}

// Preferences returns the owner's settings, defaults included.
func (s *Service) Preferences(ctx context.Context, ownerID string) (*persistence.Preferences, error) {
	return s.store.GetPreferences(ctx, ownerID)
}

// UpdatePreferences applies a partial settings change.
func (s *Service) UpdatePreferences(ctx context.Context, ownerID string, upd persistence.PreferencesUpdate) (*persistence.Preferences, error) {
	prefs, err := s.store.UpdatePreferences(ctx, ownerID, upd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("preferences updated", "owner_id", ownerID, "timezone", prefs.Timezone, "offset_minutes", prefs.PreEventOffsetMinutes)
	return prefs, nil
}

// CurrentTime reports now in the owner's timezone.
func (s *Service) CurrentTime(ctx context.Context, ownerID string) (time.Time, error) {
	loc, err := s.Location(ctx, ownerID)
	if err != nil {
		return time.Time{}, err
	}
	return s.now().In(loc), nil
}
