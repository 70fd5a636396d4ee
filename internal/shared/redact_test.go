package shared

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		name string
		in   string
		leak string // must not survive
		keep string // must survive
	}{
		{
			name: "key value assignment",
			in:   `retry with api_key=0123456789abcdef0123 later`,
			leak: "0123456789abcdef0123",
			keep: "retry with",
		},
		{
			name: "bearer header",
			in:   "Bearer sk-abcdefghijklmnopqrst",
			leak: "sk-abcdefghijklmnopqrst",
			keep: "Bearer",
		},
		{
			name: "google api key",
			in:   "google rejected key AIzaSyA1b2C3d4E5f6G7h8I9j0K1l2M3n4O5",
			leak: "AIzaSy",
			keep: "google rejected key",
		},
		{
			name: "telegram bot token",
			in:   "connect failed for 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1",
			leak: "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1",
			keep: "connect failed",
		},
		{
			name: "token uuid",
			in:   `token=3f2504e0-4f89-41d3-9a0c-0305e82c3301`,
			leak: "3f2504e0",
			keep: "token",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Redact(tc.in)
			if strings.Contains(got, tc.leak) {
				t.Errorf("secret survived: %q", got)
			}
			if !strings.Contains(got, "[REDACTED]") {
				t.Errorf("no redaction marker: %q", got)
			}
			if !strings.Contains(got, tc.keep) {
				t.Errorf("surrounding text lost: %q", got)
			}
		})
	}
}

func TestRedactLeavesCleanStrings(t *testing.T) {
	for _, in := range []string{"", "dentist at 15:00", "owner telegram-42 has 3 entries"} {
		if got := Redact(in); got != in {
			t.Errorf("Redact(%q) = %q, want unchanged", in, got)
		}
	}
}
