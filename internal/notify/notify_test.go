package notify

import "testing"

func TestTelegramChatID(t *testing.T) {
	id, err := TelegramChatID("telegram-123456789")
	if err != nil {
		t.Fatalf("TelegramChatID: %v", err)
	}
	if id != 123456789 {
		t.Errorf("id = %d", id)
	}

	for _, bad := range []string{"slack-1", "telegram-", "telegram-abc", "123"} {
		if _, err := TelegramChatID(bad); err == nil {
			t.Errorf("TelegramChatID(%q): expected error", bad)
		}
	}
}

func TestTelegramOwnerIDRoundTrip(t *testing.T) {
	owner := TelegramOwnerID(42)
	if owner != "telegram-42" {
		t.Fatalf("owner = %q", owner)
	}
	id, err := TelegramChatID(owner)
	if err != nil || id != 42 {
		t.Fatalf("round trip: id=%d err=%v", id, err)
	}
}
