package persistence

import (
	"context"
	"testing"
)

func TestAppendTurnAndListMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	turn := []Message{
		{Role: "user", Content: "remind me about the dentist tomorrow at 3pm"},
		{Role: "assistant", Content: "", ToolCalls: `[{"id":"t1","name":"create_entry"}]`},
		{Role: "tool", Content: `Created "dentist" for 2026-08-24 15:00.`, ToolCallID: "t1", ToolName: "create_entry"},
		{Role: "assistant", Content: "Done, I'll remind you."},
	}
	if err := store.AppendTurn(ctx, "sess-1", turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	got, err := store.ListMessages(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[1].ToolCalls == "" {
		t.Error("assistant tool_calls not persisted")
	}
	if got[2].Role != "tool" || got[2].ToolCallID != "t1" {
		t.Errorf("tool message = %+v", got[2])
	}
	// Other sessions see nothing.
	other, err := store.ListMessages(ctx, "sess-2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("cross-session leak: %d messages", len(other))
	}
}

func TestAppendTurnRejectsBadRole(t *testing.T) {
	store := openTestStore(t)
	err := store.AppendTurn(context.Background(), "sess-1", []Message{{Role: "oracle", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestListMessagesLimitKeepsMostRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		msg := Message{Role: "user", Content: string(rune('a' + i))}
		if err := store.AppendTurn(ctx, "sess-1", []Message{msg}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.ListMessages(ctx, "sess-1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Chronological order, tail of the history.
	if got[0].Content != "h" || got[2].Content != "j" {
		t.Errorf("got window %q..%q, want h..j", got[0].Content, got[2].Content)
	}
}
