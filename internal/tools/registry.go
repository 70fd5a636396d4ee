// Package tools defines the closed catalog of scheduling tools the model may
// call. Dispatch is an exhaustive switch over the catalog: an unknown name is
// an error, never a silent no-op. Arguments are validated against JSON
// Schemas before any handler runs, and results are rendered as plain text
// the model can relay.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/minder/internal/persistence"
	"github.com/basket/minder/internal/schedule"
	"github.com/basket/minder/internal/shared"
)

// Kind identifies one tool in the catalog.
type Kind int

const (
	KindCreateEntry Kind = iota
	KindListEntries
	KindFindEntries
	KindUpdateEntry
	KindShiftEntry
	KindCompleteEntry
	KindDeleteEntry
	KindGetSettings
	KindUpdateSettings
	KindCurrentTime
)

func (k Kind) String() string {
	switch k {
	case KindCreateEntry:
		return "create_entry"
	case KindListEntries:
		return "list_entries"
	case KindFindEntries:
		return "find_entries"
	case KindUpdateEntry:
		return "update_entry"
	case KindShiftEntry:
		return "shift_entry"
	case KindCompleteEntry:
		return "complete_entry"
	case KindDeleteEntry:
		return "delete_entry"
	case KindGetSettings:
		return "get_settings"
	case KindUpdateSettings:
		return "update_settings"
	case KindCurrentTime:
		return "current_time"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var kindByName = map[string]Kind{
	"create_entry":    KindCreateEntry,
	"list_entries":    KindListEntries,
	"find_entries":    KindFindEntries,
	"update_entry":    KindUpdateEntry,
	"shift_entry":     KindShiftEntry,
	"complete_entry":  KindCompleteEntry,
	"delete_entry":    KindDeleteEntry,
	"get_settings":    KindGetSettings,
	"update_settings": KindUpdateSettings,
	"current_time":    KindCurrentTime,
}

// Argument structs, one per tool.

type CreateEntryArgs struct {
	Title           string `json:"title"`
	When            string `json:"when"`
	Notes           string `json:"notes,omitempty"`
	ReminderMinutes int    `json:"reminder_minutes,omitempty"`
}

type ListEntriesArgs struct {
	Day string `json:"day"`
}

type FindEntriesArgs struct {
	Keyword string `json:"keyword"`
}

type UpdateEntryArgs struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	When  string `json:"when,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type ShiftEntryArgs struct {
	ID      string `json:"id"`
	Minutes int    `json:"minutes"`
}

type CompleteEntryArgs struct {
	ID string `json:"id"`
}

type DeleteEntryArgs struct {
	ID string `json:"id"`
}

type UpdateSettingsArgs struct {
	Timezone        string `json:"timezone,omitempty"`
	ReminderMinutes int    `json:"reminder_minutes,omitempty"`
	PreEventAlerts  *bool  `json:"pre_event_alerts,omitempty"`
	DailyDigest     *bool  `json:"daily_digest,omitempty"`
	DailyDigestTime string `json:"daily_digest_time,omitempty"`
}

// Registry holds the compiled catalog bound to a schedule service.
type Registry struct {
	svc     *schedule.Service
	logger  *slog.Logger
	schemas *schemaSet
}

func NewRegistry(svc *schedule.Service, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("compile tool schemas: %w", err)
	}
	return &Registry{svc: svc, logger: logger, schemas: schemas}, nil
}

// Names returns the catalog in declaration order.
func (r *Registry) Names() []string {
	return []string{
		KindCreateEntry.String(),
		KindListEntries.String(),
		KindFindEntries.String(),
		KindUpdateEntry.String(),
		KindShiftEntry.String(),
		KindCompleteEntry.String(),
		KindDeleteEntry.String(),
		KindGetSettings.String(),
		KindUpdateSettings.String(),
		KindCurrentTime.String(),
	}
}

// Dispatch validates and executes one tool call. The owner id is taken from
// the context the loop prepared; model-supplied owner fields do not exist in
// any schema.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	kind, ok := kindByName[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	ownerID := shared.OwnerID(ctx)
	if ownerID == "" {
		return "", fmt.Errorf("no owner in context")
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := r.schemas.validate(kind, args); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	switch kind {
	case KindCreateEntry:
		var a CreateEntryArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", err
		}
		return r.createEntry(ctx, ownerID, a)
	case KindListEntries:
		var a ListEntriesArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", err
		}
		return r.listEntries(ctx, ownerID, a)
	case KindFindEntries:
		var a FindEntriesArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", err
		}
		return r.findEntries(ctx, ownerID, a)
	case KindUpdateEntry:
		var a UpdateEntryArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", err
		}
		return r.updateEntry(ctx, ownerID, a)
	case KindShiftEntry:
		var a ShiftEntryArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", err
		}
		return r.shiftEntry(ctx, ownerID, a)
	case KindCompleteEntry:
		var a CompleteEntryArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", err
		}
		if err := r.svc.CompleteEntry(ctx, ownerID, a.ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Marked entry %s as completed.", a.ID), nil
	case KindDeleteEntry:
		var a DeleteEntryArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", err
		}
		if err := r.svc.DeleteEntry(ctx, ownerID, a.ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deleted entry %s.", a.ID), nil
	case KindGetSettings:
		return r.getSettings(ctx, ownerID)
	case KindUpdateSettings:
		var a UpdateSettingsArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "", err
		}
		return r.updateSettings(ctx, ownerID, a)
	case KindCurrentTime:
		now, err := r.svc.CurrentTime(ctx, ownerID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("It is %s (%s).", now.Format("Monday, 2 January 2006 15:04"), now.Location()), nil
	}
	// Unreachable: kindByName covers every Kind.
	return "", fmt.Errorf("unhandled tool kind %v", kind)
}

func (r *Registry) createEntry(ctx context.Context, ownerID string, a CreateEntryArgs) (string, error) {
	entry, err := r.svc.CreateEntry(ctx, ownerID, a.Title, a.When, a.Notes, a.ReminderMinutes)
	if err != nil {
		return "", err
	}
	loc, _ := r.svc.Location(ctx, ownerID)
	return fmt.Sprintf("Created %s (id %s).", describeEntry(entry, loc), entry.ID), nil
}

func (r *Registry) listEntries(ctx context.Context, ownerID string, a ListEntriesArgs) (string, error) {
	day := a.Day
	if day == "" {
		day = "today"
	}
	entries, err := r.svc.QueryDay(ctx, ownerID, day)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No entries scheduled for %s.", day), nil
	}
	loc, _ := r.svc.Location(ctx, ownerID)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Entries for %s:\n", day)
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. %s (id %s)\n", i+1, describeEntry(&e, loc), e.ID)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (r *Registry) findEntries(ctx context.Context, ownerID string, a FindEntriesArgs) (string, error) {
	entries, err := r.svc.FindByKeyword(ctx, ownerID, a.Keyword)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No active entries match %q.", a.Keyword), nil
	}
	loc, _ := r.svc.Location(ctx, ownerID)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Matches for %q:\n", a.Keyword)
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. %s (id %s)\n", i+1, describeEntry(&e, loc), e.ID)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (r *Registry) updateEntry(ctx context.Context, ownerID string, a UpdateEntryArgs) (string, error) {
	if a.Title == "" && a.When == "" && a.Notes == "" {
		return "", fmt.Errorf("nothing to update: provide title, when, or notes")
	}
	entry, err := r.svc.UpdateEntry(ctx, ownerID, a.ID, a.Title, a.When, a.Notes)
	if err != nil {
		return "", err
	}
	loc, _ := r.svc.Location(ctx, ownerID)
	return fmt.Sprintf("Updated: %s.", describeEntry(entry, loc)), nil
}

func (r *Registry) shiftEntry(ctx context.Context, ownerID string, a ShiftEntryArgs) (string, error) {
	if a.Minutes == 0 {
		return "", fmt.Errorf("minutes must be non-zero")
	}
	entry, err := r.svc.ShiftEntry(ctx, ownerID, a.ID, time.Duration(a.Minutes)*time.Minute)
	if err != nil {
		return "", err
	}
	loc, _ := r.svc.Location(ctx, ownerID)
	return fmt.Sprintf("Moved: %s.", describeEntry(entry, loc)), nil
}

func (r *Registry) getSettings(ctx context.Context, ownerID string) (string, error) {
	prefs, err := r.svc.Preferences(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return "Your settings: " + describeSettings(prefs), nil
}

func (r *Registry) updateSettings(ctx context.Context, ownerID string, a UpdateSettingsArgs) (string, error) {
	upd := persistence.PreferencesUpdate{
		DailyDigestEnabled: a.DailyDigest,
		PreEventEnabled:    a.PreEventAlerts,
	}
	if a.Timezone != "" {
		upd.Timezone = &a.Timezone
	}
	if a.ReminderMinutes != 0 {
		upd.PreEventOffsetMinutes = &a.ReminderMinutes
	}
	if a.DailyDigestTime != "" {
		upd.DailyDigestTime = &a.DailyDigestTime
	}
	if upd.Timezone == nil && upd.PreEventOffsetMinutes == nil && upd.DailyDigestEnabled == nil &&
		upd.PreEventEnabled == nil && upd.DailyDigestTime == nil {
		return "", fmt.Errorf("nothing to update: provide timezone, reminder_minutes, pre_event_alerts, daily_digest, or daily_digest_time")
	}
	prefs, err := r.svc.UpdatePreferences(ctx, ownerID, upd)
	if err != nil {
		return "", err
	}
	return "Settings saved: " + describeSettings(prefs), nil
}

func describeSettings(prefs *persistence.Preferences) string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	return fmt.Sprintf("timezone %s, pre-event reminders %s (%d minutes before events), daily digest %s at %s.",
		prefs.Timezone, onOff(prefs.PreEventEnabled), prefs.PreEventOffsetMinutes,
		onOff(prefs.DailyDigestEnabled), prefs.DailyDigestTime)
}

func describeEntry(e *persistence.Entry, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	s := fmt.Sprintf("%q on %s", e.Title, e.ScheduledAt.In(loc).Format("Mon, 2 Jan 2006 at 15:04"))
	if e.Notes != "" {
		s += fmt.Sprintf(" (%s)", e.Notes)
	}
	return s
}
