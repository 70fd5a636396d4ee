package tools

import (
	"encoding/json"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// RegisterAll declares the catalog with Genkit so the model sees every tool
// and its argument shape. The loop runs with WithReturnToolRequests, so these
// handlers normally never fire; they delegate to Dispatch anyway so direct
// Generate calls behave identically.
func (r *Registry) RegisterAll(g *genkit.Genkit) []ai.ToolRef {
	defineVia := func(name, description string) ai.ToolRef {
		return genkit.DefineTool(g, name, description,
			func(ctx *ai.ToolContext, input map[string]any) (string, error) {
				args, err := json.Marshal(input)
				if err != nil {
					return "", err
				}
				return r.Dispatch(ctx, name, args)
			},
		)
	}

	return []ai.ToolRef{
		defineVia("create_entry",
			"Create a schedule entry. 'when' accepts phrases like 'tomorrow 15:00', 'friday 10:00', 'in 2 hours', or '2026-09-01 15:00'. The time must be in the future. Optional reminder_minutes overrides the user's reminder lead time for this entry."),
		defineVia("list_entries",
			"List the user's active entries for one day. 'day' accepts 'today' (default), 'tomorrow', or a date like '2026-09-01'."),
		defineVia("find_entries",
			"Find active entries whose title or notes contain a keyword. Use this to get an entry id before updating, moving, completing, or deleting it."),
		defineVia("update_entry",
			"Change the title, time, and/or notes of an entry by id. Omitted fields stay unchanged. A new time must be in the future."),
		defineVia("shift_entry",
			"Move an entry by a relative number of minutes (negative moves it earlier). The result must be in the future."),
		defineVia("complete_entry",
			"Mark an active entry as completed by id."),
		defineVia("delete_entry",
			"Delete an entry permanently by id."),
		defineVia("get_settings",
			"Read the user's settings: timezone, pre-event reminders and their lead time, and the daily digest toggle and time."),
		defineVia("update_settings",
			"Change the user's settings. Any of: timezone (IANA name like 'Europe/Berlin'), reminder_minutes (lead time before events), pre_event_alerts (on/off), daily_digest (on/off), daily_digest_time (HH:MM)."),
		defineVia("current_time",
			"Get the current date and time in the user's timezone."),
	}
}
