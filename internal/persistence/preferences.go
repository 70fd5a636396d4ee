package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	defaultTimezone        = "UTC"
	defaultOffsetMinutes   = 30
	defaultDigestEnabled   = true
	defaultDigestTime      = "08:00"
	defaultPreEventEnabled = true
)

// Preferences holds per-owner notification settings. Missing rows resolve to
// defaults; rows are created lazily on first write.
type Preferences struct {
	OwnerID               string    `json:"owner_id"`
	Timezone              string    `json:"timezone"`
	DailyDigestEnabled    bool      `json:"daily_digest_enabled"`
	DailyDigestTime       string    `json:"daily_digest_time"`
	PreEventEnabled       bool      `json:"pre_event_enabled"`
	PreEventOffsetMinutes int       `json:"pre_event_offset_minutes"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Location resolves the owner's timezone, falling back to UTC when the name
// is unknown.
func (p Preferences) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func defaultPreferences(ownerID string) *Preferences {
	return &Preferences{
		OwnerID:               ownerID,
		Timezone:              defaultTimezone,
		DailyDigestEnabled:    defaultDigestEnabled,
		DailyDigestTime:       defaultDigestTime,
		PreEventEnabled:       defaultPreEventEnabled,
		PreEventOffsetMinutes: defaultOffsetMinutes,
	}
}

// GetPreferences returns the owner's stored preferences, or defaults when no
// row exists yet.
func (s *Store) GetPreferences(ctx context.Context, ownerID string) (*Preferences, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, timezone, daily_digest_enabled, daily_digest_time, pre_event_enabled, pre_event_offset_minutes, updated_at
		FROM user_preferences
		WHERE owner_id = ?;
	`, ownerID)

	var p Preferences
	var digest, preEvent int
	err := row.Scan(&p.OwnerID, &p.Timezone, &digest, &p.DailyDigestTime, &preEvent, &p.PreEventOffsetMinutes, &p.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return defaultPreferences(ownerID), nil
	case err != nil:
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	p.DailyDigestEnabled = digest != 0
	p.PreEventEnabled = preEvent != 0
	return &p, nil
}

// PreferencesUpdate holds the mutable preference fields. Nil fields keep the
// current (or default) value.
type PreferencesUpdate struct {
	Timezone              *string
	DailyDigestEnabled    *bool
	DailyDigestTime       *string
	PreEventEnabled       *bool
	PreEventOffsetMinutes *int
}

// ErrBadTimezone is returned when a timezone name fails to resolve.
var ErrBadTimezone = errors.New("unknown timezone")

// ErrBadOffset is returned for non-positive or absurd reminder offsets.
var ErrBadOffset = errors.New("pre-event offset out of range")

// ErrBadDigestTime is returned when a digest time is not HH:MM.
var ErrBadDigestTime = errors.New("digest time must be HH:MM")

var digestTimeRe = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// UpdatePreferences upserts the owner's row, starting from defaults when none
// exists yet, and returns the resulting preferences.
func (s *Store) UpdatePreferences(ctx context.Context, ownerID string, upd PreferencesUpdate) (*Preferences, error) {
	if upd.Timezone != nil {
		if _, err := time.LoadLocation(*upd.Timezone); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadTimezone, *upd.Timezone)
		}
	}
	if upd.PreEventOffsetMinutes != nil {
		if *upd.PreEventOffsetMinutes < 1 || *upd.PreEventOffsetMinutes > 24*60 {
			return nil, fmt.Errorf("%w: %d", ErrBadOffset, *upd.PreEventOffsetMinutes)
		}
	}
	if upd.DailyDigestTime != nil && !digestTimeRe.MatchString(*upd.DailyDigestTime) {
		return nil, fmt.Errorf("%w: %q", ErrBadDigestTime, *upd.DailyDigestTime)
	}

	current, err := s.GetPreferences(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if upd.Timezone != nil {
		current.Timezone = *upd.Timezone
	}
	if upd.DailyDigestEnabled != nil {
		current.DailyDigestEnabled = *upd.DailyDigestEnabled
	}
	if upd.DailyDigestTime != nil {
		current.DailyDigestTime = *upd.DailyDigestTime
	}
	if upd.PreEventEnabled != nil {
		current.PreEventEnabled = *upd.PreEventEnabled
	}
	if upd.PreEventOffsetMinutes != nil {
		current.PreEventOffsetMinutes = *upd.PreEventOffsetMinutes
	}

	digest := 0
	if current.DailyDigestEnabled {
		digest = 1
	}
	preEvent := 0
	if current.PreEventEnabled {
		preEvent = 1
	}
	err = retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO user_preferences (owner_id, timezone, daily_digest_enabled, daily_digest_time, pre_event_enabled, pre_event_offset_minutes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(owner_id) DO UPDATE SET
				timezone = excluded.timezone,
				daily_digest_enabled = excluded.daily_digest_enabled,
				daily_digest_time = excluded.daily_digest_time,
				pre_event_enabled = excluded.pre_event_enabled,
				pre_event_offset_minutes = excluded.pre_event_offset_minutes,
				updated_at = CURRENT_TIMESTAMP;
		`, ownerID, current.Timezone, digest, current.DailyDigestTime, preEvent, current.PreEventOffsetMinutes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert preferences: %w", err)
	}
	return s.GetPreferences(ctx, ownerID)
}

// MaxPreEventOffset returns the largest reminder offset configured anywhere,
// across owner preferences and per-entry overrides, never less than floor.
// The sweep uses it to size its look-ahead window.
func (s *Store) MaxPreEventOffset(ctx context.Context, floor time.Duration) (time.Duration, error) {
	var prefMax, entryMax sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT MAX(pre_event_offset_minutes) FROM user_preferences),
			(SELECT MAX(reminder_offset_minutes) FROM schedule_entries WHERE status = 'active' AND pre_event_notified = 0);
	`).Scan(&prefMax, &entryMax); err != nil {
		return 0, fmt.Errorf("max pre-event offset: %w", err)
	}
	offset := floor
	for _, m := range []sql.NullInt64{prefMax, entryMax} {
		if m.Valid {
			if d := time.Duration(m.Int64) * time.Minute; d > offset {
				offset = d
			}
		}
	}
	return offset, nil
}
