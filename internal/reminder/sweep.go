package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/minder/internal/persistence"
)

// RunSweep finds entries whose reminder lead time has arrived, claims each
// one with a conditional marker write, and notifies the winner's owner. The
// marker is set before the send: a delivery failure costs that one reminder
// rather than risking duplicates on the next tick. Returns the number of
// reminders delivered.
func (e *Engine) RunSweep(ctx context.Context, now time.Time) (int, error) {
	// Window covers the largest configured offset so no owner's reminder is
	// found late; one extra sweep interval of slack absorbs tick drift.
	window, err := e.store.MaxPreEventOffset(ctx, e.cfg.DefaultWindow)
	if err != nil {
		return 0, err
	}
	window += e.cfg.SweepInterval

	candidates, err := e.store.ListPreEventCandidates(ctx, now, now.Add(window))
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	prefsCache := make(map[string]*persistence.Preferences)
	sent := 0
	for _, entry := range candidates {
		prefs, ok := prefsCache[entry.OwnerID]
		if !ok {
			prefs, err = e.store.GetPreferences(ctx, entry.OwnerID)
			if err != nil {
				e.logger.Error("sweep: load preferences failed", "owner_id", entry.OwnerID, "error", err)
				continue
			}
			prefsCache[entry.OwnerID] = prefs
		}

		if !prefs.PreEventEnabled {
			continue
		}

		offsetMinutes := prefs.PreEventOffsetMinutes
		if entry.ReminderOffsetMinutes != nil {
			offsetMinutes = *entry.ReminderOffsetMinutes
		}
		offset := time.Duration(offsetMinutes) * time.Minute
		remaining := entry.ScheduledAt.Sub(now)
		if remaining > offset {
			continue
		}

		claimed, err := e.store.MarkPreEventNotified(ctx, entry.ID)
		if err != nil {
			e.logger.Error("sweep: marker write failed", "entry_id", entry.ID, "error", err)
			continue
		}
		if !claimed {
			// A concurrent tick or a just-landed edit got there first.
			if e.metrics != nil {
				e.metrics.MarkerConflicts.Add(ctx, 1)
			}
			continue
		}

		text := formatReminder(&entry, remaining, prefs.Location())
		if err := e.notifier.Notify(ctx, entry.OwnerID, text); err != nil {
			// At-most-once: the marker stays set, this reminder is lost.
			if e.metrics != nil {
				e.metrics.NotifyFailures.Add(ctx, 1)
			}
			e.logger.Error("reminder delivery failed", "entry_id", entry.ID, "owner_id", entry.OwnerID, "error", err)
			continue
		}
		if e.metrics != nil {
			e.metrics.RemindersSent.Add(ctx, 1)
		}
		sent++
	}
	return sent, nil
}

func formatReminder(entry *persistence.Entry, remaining time.Duration, loc *time.Location) string {
	minutes := int(remaining.Round(time.Minute) / time.Minute)
	when := entry.ScheduledAt.In(loc).Format("15:04")
	if minutes <= 0 {
		return fmt.Sprintf("Reminder: %q is starting now (%s).", entry.Title, when)
	}
	return fmt.Sprintf("Reminder: %q at %s, in %d minutes.", entry.Title, when, minutes)
}
