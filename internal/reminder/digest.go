package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/basket/minder/internal/persistence"
)

// RunDigest sends each opted-in owner a summary of their active entries for
// "today" in that owner's timezone, including ones already past when the
// digest fires. Owners with nothing today get nothing: an empty digest is
// noise, not news. Returns the number of digests delivered.
func (e *Engine) RunDigest(ctx context.Context, now time.Time) (int, error) {
	// Candidate owners come from a wide UTC envelope; the precise "today"
	// filter below is per-owner because day bounds depend on timezone. The
	// envelope reaches back a day so owners whose entries already passed are
	// still enumerated.
	owners, err := e.store.OwnersWithActiveEntriesBetween(ctx, now.Add(-24*time.Hour), now.Add(48*time.Hour))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, owner := range owners {
		prefs, err := e.store.GetPreferences(ctx, owner)
		if err != nil {
			e.logger.Error("digest: load preferences failed", "owner_id", owner, "error", err)
			continue
		}
		if !prefs.DailyDigestEnabled {
			continue
		}

		loc := prefs.Location()
		local := now.In(loc)
		dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		dayEnd := dayStart.AddDate(0, 0, 1)

		entries, err := e.store.ListEntriesByOwner(ctx, owner, dayStart, dayEnd, persistence.EntryStatusActive)
		if err != nil {
			e.logger.Error("digest: list entries failed", "owner_id", owner, "error", err)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		text := formatDigest(entries, local, loc)
		if err := e.notifier.Notify(ctx, owner, text); err != nil {
			if e.metrics != nil {
				e.metrics.NotifyFailures.Add(ctx, 1)
			}
			e.logger.Error("digest delivery failed", "owner_id", owner, "error", err)
			continue
		}
		if e.metrics != nil {
			e.metrics.DigestsSent.Add(ctx, 1)
		}
		sent++
	}
	return sent, nil
}

func formatDigest(entries []persistence.Entry, local time.Time, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Good morning! Your schedule for %s:\n", local.Format("Monday, 2 January"))
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. %s - %s", i+1, e.ScheduledAt.In(loc).Format("15:04"), e.Title)
		if e.Notes != "" {
			fmt.Fprintf(&sb, " (%s)", e.Notes)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
