package channels

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeResponder struct {
	mu       sync.Mutex
	sessions []string
	texts    []string
	reply    string
}

func (f *fakeResponder) Process(_ context.Context, sessionID, userMessage string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	f.texts = append(f.texts, userMessage)
	return f.reply
}

type sentReply struct {
	chatID int64
	text   string
}

func newTestChannel(t *testing.T, allowed []int64, responder *fakeResponder) (*TelegramChannel, chan sentReply) {
	t.Helper()
	ch := NewTelegramChannel("test-token", allowed, responder, slog.New(slog.NewTextHandler(io.Discard, nil)))
	replies := make(chan sentReply, 8)
	ch.send = func(chatID int64, text string) error {
		replies <- sentReply{chatID: chatID, text: text}
		return nil
	}
	return ch, replies
}

func messageUpdate(userID, chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: text,
			From: &tgbotapi.User{ID: userID, UserName: "tester"},
			Chat: &tgbotapi.Chat{ID: chatID},
		},
	}
}

func TestHandleMessageRoutesToResponder(t *testing.T) {
	responder := &fakeResponder{reply: "done"}
	ch, replies := newTestChannel(t, []int64{42}, responder)

	msg := messageUpdate(42, 42, "  remind me tomorrow  ").Message
	ch.handleMessage(context.Background(), msg)

	select {
	case got := <-replies:
		if got.chatID != 42 {
			t.Fatalf("reply chat id = %d, want 42", got.chatID)
		}
		if got.text != "done" {
			t.Fatalf("reply text = %q, want %q", got.text, "done")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply sent")
	}

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.sessions) != 1 || responder.sessions[0] != "telegram-42" {
		t.Fatalf("sessions = %v, want [telegram-42]", responder.sessions)
	}
	if responder.texts[0] != "remind me tomorrow" {
		t.Fatalf("text = %q, want trimmed input", responder.texts[0])
	}
}

func TestHandleMessageSkipsEmptyAndBlankReplies(t *testing.T) {
	responder := &fakeResponder{reply: ""}
	ch, replies := newTestChannel(t, []int64{42}, responder)

	ch.handleMessage(context.Background(), messageUpdate(42, 42, "   ").Message)
	ch.handleMessage(context.Background(), messageUpdate(42, 42, "hello").Message)

	// The blank message never reaches the responder; the empty reply is
	// swallowed rather than sent as an empty bubble.
	deadline := time.After(2 * time.Second)
	for {
		responder.mu.Lock()
		n := len(responder.texts)
		responder.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("responder saw %d messages, want 1", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case got := <-replies:
		t.Fatalf("unexpected reply sent: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPollUpdatesEnforcesAllowlist(t *testing.T) {
	responder := &fakeResponder{reply: "ok"}
	ch, replies := newTestChannel(t, []int64{42}, responder)

	updates := make(chan tgbotapi.Update, 4)
	updates <- messageUpdate(99, 99, "let me in")
	updates <- messageUpdate(42, 42, "hi")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.pollUpdates(ctx, updates) }()

	select {
	case got := <-replies:
		if got.chatID != 42 {
			t.Fatalf("reply went to chat %d, want 42", got.chatID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("allowed user's message was not handled")
	}

	responder.mu.Lock()
	if len(responder.sessions) != 1 || responder.sessions[0] != "telegram-42" {
		t.Fatalf("sessions = %v, want only telegram-42", responder.sessions)
	}
	responder.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pollUpdates returned %v on cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pollUpdates did not stop on cancel")
	}
}

func TestPollUpdatesReportsClosedChannel(t *testing.T) {
	ch, _ := newTestChannel(t, nil, &fakeResponder{})

	updates := make(chan tgbotapi.Update)
	close(updates)

	err := ch.pollUpdates(context.Background(), updates)
	if err == nil {
		t.Fatal("expected error on closed update channel")
	}
}

func TestPollUpdatesIgnoresNonMessageUpdates(t *testing.T) {
	responder := &fakeResponder{reply: "ok"}
	ch, _ := newTestChannel(t, []int64{42}, responder)

	updates := make(chan tgbotapi.Update, 2)
	updates <- tgbotapi.Update{}
	close(updates)

	if err := ch.pollUpdates(context.Background(), updates); err == nil {
		t.Fatal("expected closed-channel error")
	}
	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.texts) != 0 {
		t.Fatalf("responder saw %v, want nothing", responder.texts)
	}
}
