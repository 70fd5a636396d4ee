package persistence

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetPreferencesDefaults(t *testing.T) {
	store := openTestStore(t)
	p, err := store.GetPreferences(context.Background(), "telegram-9")
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if p.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", p.Timezone)
	}
	if p.PreEventOffsetMinutes != 30 {
		t.Errorf("offset = %d, want 30", p.PreEventOffsetMinutes)
	}
	if !p.DailyDigestEnabled {
		t.Error("digest should default to enabled")
	}
	if p.DailyDigestTime != "08:00" {
		t.Errorf("digest time = %q, want 08:00", p.DailyDigestTime)
	}
	if !p.PreEventEnabled {
		t.Error("pre-event reminders should default to enabled")
	}
}

func TestUpdatePreferencesUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tz := "Europe/Berlin"
	offset := 45
	p, err := store.UpdatePreferences(ctx, "telegram-9", PreferencesUpdate{
		Timezone:              &tz,
		PreEventOffsetMinutes: &offset,
	})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if p.Timezone != tz || p.PreEventOffsetMinutes != 45 {
		t.Errorf("got %+v", p)
	}
	// Digest untouched by partial update.
	if !p.DailyDigestEnabled {
		t.Error("partial update must keep digest enabled")
	}

	off := false
	p, err = store.UpdatePreferences(ctx, "telegram-9", PreferencesUpdate{DailyDigestEnabled: &off})
	if err != nil {
		t.Fatal(err)
	}
	if p.DailyDigestEnabled {
		t.Error("digest should now be disabled")
	}
	if p.Timezone != tz {
		t.Errorf("timezone reset to %q", p.Timezone)
	}
}

func TestUpdatePreferencesValidation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	bad := "Mars/Olympus"
	if _, err := store.UpdatePreferences(ctx, "telegram-9", PreferencesUpdate{Timezone: &bad}); !errors.Is(err, ErrBadTimezone) {
		t.Fatalf("err = %v, want ErrBadTimezone", err)
	}
	zero := 0
	if _, err := store.UpdatePreferences(ctx, "telegram-9", PreferencesUpdate{PreEventOffsetMinutes: &zero}); !errors.Is(err, ErrBadOffset) {
		t.Fatalf("err = %v, want ErrBadOffset", err)
	}
	badTime := "25:99"
	if _, err := store.UpdatePreferences(ctx, "telegram-9", PreferencesUpdate{DailyDigestTime: &badTime}); !errors.Is(err, ErrBadDigestTime) {
		t.Fatalf("err = %v, want ErrBadDigestTime", err)
	}
	goodTime := "7:30"
	p, err := store.UpdatePreferences(ctx, "telegram-9", PreferencesUpdate{DailyDigestTime: &goodTime})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if p.DailyDigestTime != "7:30" {
		t.Errorf("digest time = %q, want 7:30", p.DailyDigestTime)
	}
}

func TestMaxPreEventOffset(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// No rows: floor wins.
	got, err := store.MaxPreEventOffset(ctx, time.Hour)
	if err != nil {
		t.Fatalf("MaxPreEventOffset: %v", err)
	}
	if got != time.Hour {
		t.Errorf("got %v, want 1h floor", got)
	}

	offset := 90
	if _, err := store.UpdatePreferences(ctx, "telegram-9", PreferencesUpdate{PreEventOffsetMinutes: &offset}); err != nil {
		t.Fatal(err)
	}
	got, err = store.MaxPreEventOffset(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if got != 90*time.Minute {
		t.Errorf("got %v, want 90m", got)
	}

	// A per-entry override larger than every preference widens the window.
	override := 240
	entry := &Entry{
		ID:                    "e-override",
		OwnerID:               "telegram-9",
		Title:                 "flight",
		ScheduledAt:           time.Now().Add(6 * time.Hour),
		ReminderOffsetMinutes: &override,
	}
	if err := store.InsertEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}
	got, err = store.MaxPreEventOffset(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if got != 240*time.Minute {
		t.Errorf("got %v, want 240m from entry override", got)
	}
}
