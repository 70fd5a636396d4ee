package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type EntryStatus string

const (
	EntryStatusActive    EntryStatus = "active"
	EntryStatusCompleted EntryStatus = "completed"
)

// ErrEntryNotFound is returned when an entry id does not exist.
var ErrEntryNotFound = errors.New("schedule entry not found")

// Entry is one scheduled item owned by a single user. ScheduledAt is stored
// in UTC; callers convert to the owner's timezone for display. A nil
// ReminderOffsetMinutes means the owner's preference applies.
type Entry struct {
	ID                    string      `json:"id"`
	OwnerID               string      `json:"owner_id"`
	Title                 string      `json:"title"`
	ScheduledAt           time.Time   `json:"scheduled_at"`
	Notes                 string      `json:"notes,omitempty"`
	ReminderOffsetMinutes *int        `json:"reminder_offset_minutes,omitempty"`
	Status                EntryStatus `json:"status"`
	PreEventNotified      bool        `json:"pre_event_notified"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
	CompletedAt           *time.Time  `json:"completed_at,omitempty"`
}

const entryColumns = `id, owner_id, title, scheduled_at, notes, reminder_offset_minutes, status, pre_event_notified, created_at, updated_at, completed_at`

func scanEntry(scanFn func(dest ...any) error, e *Entry) error {
	var notified int
	var offset sql.NullInt64
	var completedAt sql.NullTime
	if err := scanFn(
		&e.ID,
		&e.OwnerID,
		&e.Title,
		&e.ScheduledAt,
		&e.Notes,
		&offset,
		&e.Status,
		&notified,
		&e.CreatedAt,
		&e.UpdatedAt,
		&completedAt,
	); err != nil {
		return err
	}
	e.PreEventNotified = notified != 0
	e.ScheduledAt = e.ScheduledAt.UTC()
	if offset.Valid {
		v := int(offset.Int64)
		e.ReminderOffsetMinutes = &v
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		e.CompletedAt = &t
	}
	return nil
}

func (s *Store) InsertEntry(ctx context.Context, e *Entry) error {
	if e.Status == "" {
		e.Status = EntryStatusActive
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO schedule_entries (id, owner_id, title, scheduled_at, notes, reminder_offset_minutes, status, pre_event_notified, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, e.ID, e.OwnerID, e.Title, e.ScheduledAt.UTC(), e.Notes, intOrNil(e.ReminderOffsetMinutes), e.Status)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, ownerID, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM schedule_entries
		WHERE id = ? AND owner_id = ?;
	`, id, ownerID)
	var e Entry
	if err := scanEntry(row.Scan, &e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &e, nil
}

// ListEntriesByOwner returns entries in [from, to) ordered by scheduled time.
// status filters the result when non-empty.
func (s *Store) ListEntriesByOwner(ctx context.Context, ownerID string, from, to time.Time, status EntryStatus) ([]Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM schedule_entries
		WHERE owner_id = ? AND scheduled_at >= ? AND scheduled_at < ?`
	args := []any{ownerID, from.UTC(), to.UTC()}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_at ASC, id ASC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := scanEntry(rows.Scan, &e); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entry rows: %w", err)
	}
	return out, nil
}

// SearchEntries returns active entries whose title or notes contain the
// keyword, case-insensitively, ordered by scheduled time.
func (s *Store) SearchEntries(ctx context.Context, ownerID, keyword string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	pattern := "%" + keyword + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM schedule_entries
		WHERE owner_id = ? AND status = 'active'
		  AND (title LIKE ? COLLATE NOCASE OR notes LIKE ? COLLATE NOCASE)
		ORDER BY scheduled_at ASC, id ASC
		LIMIT ?;
	`, ownerID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := scanEntry(rows.Scan, &e); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entry rows: %w", err)
	}
	return out, nil
}

// EntryUpdate holds the mutable fields of an entry. Nil fields are left
// unchanged.
type EntryUpdate struct {
	Title       *string
	ScheduledAt *time.Time
	Notes       *string
}

// UpdateEntry applies the non-nil fields of upd to an entry. Rescheduling
// resets the pre-event marker so the new time earns its own reminder.
func (s *Store) UpdateEntry(ctx context.Context, ownerID, id string, upd EntryUpdate) (*Entry, error) {
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE schedule_entries
			SET title = COALESCE(?, title),
				scheduled_at = COALESCE(?, scheduled_at),
				notes = COALESCE(?, notes),
				pre_event_notified = CASE WHEN ? THEN 0 ELSE pre_event_notified END,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND owner_id = ?;
		`, upd.Title, utcOrNil(upd.ScheduledAt), upd.Notes, upd.ScheduledAt != nil, id, ownerID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrEntryNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("update entry: %w", err)
	}
	return s.GetEntry(ctx, ownerID, id)
}

// CompleteEntry transitions an active entry to completed and stamps
// completed_at. The status guard makes the transition one-way: a completed
// entry never matches again. Returns ErrEntryNotFound when the entry does not
// exist or is not active.
func (s *Store) CompleteEntry(ctx context.Context, ownerID, id string) error {
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE schedule_entries
			SET status = 'completed', completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND owner_id = ? AND status = 'active';
		`, id, ownerID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrEntryNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("complete entry: %w", err)
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, ownerID, id string) error {
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM schedule_entries
			WHERE id = ? AND owner_id = ?;
		`, id, ownerID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrEntryNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// ListPreEventCandidates returns active, not-yet-notified entries scheduled
// in [from, to), across all owners, ordered by time.
func (s *Store) ListPreEventCandidates(ctx context.Context, from, to time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM schedule_entries
		WHERE status = 'active' AND pre_event_notified = 0
		  AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at ASC, id ASC;
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list pre-event candidates: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := scanEntry(rows.Scan, &e); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entry rows: %w", err)
	}
	return out, nil
}

// MarkPreEventNotified performs the conditional marker write that makes the
// sweep exactly-once: only one concurrent caller observes claimed=true for a
// given entry.
func (s *Store) MarkPreEventNotified(ctx context.Context, id string) (claimed bool, err error) {
	err = retryOnBusy(ctx, 5, func() error {
		res, execErr := s.db.ExecContext(ctx, `
			UPDATE schedule_entries
			SET pre_event_notified = 1, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = 'active' AND pre_event_notified = 0;
		`, id)
		if execErr != nil {
			return execErr
		}
		affected, affErr := res.RowsAffected()
		if affErr != nil {
			return affErr
		}
		claimed = affected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark pre-event notified: %w", err)
	}
	return claimed, nil
}

// OwnersWithActiveEntriesBetween returns the distinct owners that have at
// least one active entry in [from, to). Used to avoid sending empty digests.
func (s *Store) OwnersWithActiveEntriesBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT owner_id
		FROM schedule_entries
		WHERE status = 'active' AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY owner_id;
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("owners with entries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		out = append(out, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("owner rows: %w", err)
	}
	return out, nil
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
