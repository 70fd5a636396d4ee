package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEntry(owner string, at time.Time) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Title:       "dentist",
		ScheduledAt: at,
	}
}

func TestInsertAndGetEntry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	e := newTestEntry("telegram-1", at)
	e.Notes = "bring insurance card"
	if err := store.InsertEntry(ctx, e); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}

	got, err := store.GetEntry(ctx, "telegram-1", e.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Title != "dentist" || got.Notes != "bring insurance card" {
		t.Errorf("got %+v", got)
	}
	if !got.ScheduledAt.Equal(at) {
		t.Errorf("ScheduledAt = %v, want %v", got.ScheduledAt, at)
	}
	if got.Status != EntryStatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if got.PreEventNotified {
		t.Error("new entry should not be notified")
	}
}

func TestGetEntryOwnerScoped(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	e := newTestEntry("telegram-1", time.Now().Add(time.Hour))
	if err := store.InsertEntry(ctx, e); err != nil {
		t.Fatal(err)
	}
	// A different owner must not see the entry.
	if _, err := store.GetEntry(ctx, "telegram-2", e.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("cross-owner get: err = %v, want ErrEntryNotFound", err)
	}
	if err := store.DeleteEntry(ctx, "telegram-2", e.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("cross-owner delete: err = %v, want ErrEntryNotFound", err)
	}
}

func TestListEntriesByOwnerRangeAndOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{3 * time.Hour, time.Hour, 26 * time.Hour} {
		e := newTestEntry("telegram-1", base.Add(offset))
		if err := store.InsertEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListEntriesByOwner(ctx, "telegram-1", base, base.Add(24*time.Hour), EntryStatusActive)
	if err != nil {
		t.Fatalf("ListEntriesByOwner: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].ScheduledAt.Before(got[1].ScheduledAt) {
		t.Error("entries not ordered by scheduled time")
	}
}

func TestUpdateEntryRescheduleResetsMarker(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	e := newTestEntry("telegram-1", time.Now().Add(30*time.Minute))
	if err := store.InsertEntry(ctx, e); err != nil {
		t.Fatal(err)
	}
	claimed, err := store.MarkPreEventNotified(ctx, e.ID)
	if err != nil || !claimed {
		t.Fatalf("MarkPreEventNotified: claimed=%v err=%v", claimed, err)
	}

	newTime := time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second)
	got, err := store.UpdateEntry(ctx, "telegram-1", e.ID, EntryUpdate{ScheduledAt: &newTime})
	if err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	if got.PreEventNotified {
		t.Error("reschedule must reset pre_event_notified")
	}
	if !got.ScheduledAt.Equal(newTime) {
		t.Errorf("ScheduledAt = %v, want %v", got.ScheduledAt, newTime)
	}

	// Title-only update keeps the marker.
	if _, err := store.MarkPreEventNotified(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	title := "dentist (moved)"
	got, err = store.UpdateEntry(ctx, "telegram-1", e.ID, EntryUpdate{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if !got.PreEventNotified {
		t.Error("title update must not reset pre_event_notified")
	}
}

func TestCompleteEntryOnlyFromActive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	e := newTestEntry("telegram-1", time.Now().Add(time.Hour))
	if err := store.InsertEntry(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteEntry(ctx, "telegram-1", e.ID); err != nil {
		t.Fatalf("CompleteEntry: %v", err)
	}
	done, err := store.GetEntry(ctx, "telegram-1", e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != EntryStatusCompleted || done.CompletedAt == nil {
		t.Errorf("status = %s, completed_at = %v; want completed with timestamp", done.Status, done.CompletedAt)
	}
	// Second completion finds no active row.
	if err := store.CompleteEntry(ctx, "telegram-1", e.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("second complete: err = %v, want ErrEntryNotFound", err)
	}
}

func TestSearchEntriesKeyword(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := newTestEntry("telegram-1", time.Now().Add(time.Hour))
	a.Title = "Dentist appointment"
	b := newTestEntry("telegram-1", time.Now().Add(2*time.Hour))
	b.Title = "standup"
	b.Notes = "discuss dentist coverage"
	c := newTestEntry("telegram-1", time.Now().Add(3*time.Hour))
	c.Title = "gym"
	for _, e := range []*Entry{a, b, c} {
		if err := store.InsertEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.CompleteEntry(ctx, "telegram-1", b.ID); err != nil {
		t.Fatal(err)
	}

	got, err := store.SearchEntries(ctx, "telegram-1", "DENTIST", 0)
	if err != nil {
		t.Fatalf("SearchEntries: %v", err)
	}
	// b matched on notes but is no longer active.
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("got %d entries, want only the active title match", len(got))
	}
}

func TestMarkPreEventNotifiedSingleWinner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	e := newTestEntry("telegram-1", time.Now().Add(20*time.Minute))
	if err := store.InsertEntry(ctx, e); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.MarkPreEventNotified(ctx, e.ID)
			if err != nil {
				t.Errorf("MarkPreEventNotified: %v", err)
				return
			}
			if claimed {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("claimed by %d workers, want exactly 1", count)
	}
}

func TestListPreEventCandidatesExcludesMarkedAndInactive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := newTestEntry("telegram-1", now.Add(10*time.Minute))
	marked := newTestEntry("telegram-1", now.Add(15*time.Minute))
	done := newTestEntry("telegram-1", now.Add(20*time.Minute))
	far := newTestEntry("telegram-1", now.Add(5*time.Hour))
	for _, e := range []*Entry{pending, marked, done, far} {
		if err := store.InsertEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.MarkPreEventNotified(ctx, marked.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteEntry(ctx, "telegram-1", done.ID); err != nil {
		t.Fatal(err)
	}

	got, err := store.ListPreEventCandidates(ctx, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListPreEventCandidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Fatalf("got %d candidates, want only the pending entry", len(got))
	}
}

func TestOwnersWithActiveEntriesBetween(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.InsertEntry(ctx, newTestEntry("telegram-1", now.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertEntry(ctx, newTestEntry("telegram-2", now.Add(48*time.Hour))); err != nil {
		t.Fatal(err)
	}

	owners, err := store.OwnersWithActiveEntriesBetween(ctx, now, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("OwnersWithActiveEntriesBetween: %v", err)
	}
	if len(owners) != 1 || owners[0] != "telegram-1" {
		t.Fatalf("owners = %v, want [telegram-1]", owners)
	}
}
