// Package notify delivers proactive messages (digests, reminders) to owners
// outside of any chat turn.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier pushes one message to one owner.
type Notifier interface {
	Notify(ctx context.Context, ownerID, text string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ownerID, text string) error

func (f Func) Notify(ctx context.Context, ownerID, text string) error {
	return f(ctx, ownerID, text)
}

const telegramOwnerPrefix = "telegram-"

// TelegramChatID extracts the chat id from a telegram owner id
// ("telegram-123456789").
func TelegramChatID(ownerID string) (int64, error) {
	raw, ok := strings.CutPrefix(ownerID, telegramOwnerPrefix)
	if !ok {
		return 0, fmt.Errorf("owner %q is not a telegram owner", ownerID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("owner %q has malformed chat id: %w", ownerID, err)
	}
	return id, nil
}

// TelegramOwnerID builds the owner id for a telegram chat.
func TelegramOwnerID(chatID int64) string {
	return telegramOwnerPrefix + strconv.FormatInt(chatID, 10)
}

// Telegram sends notifications through the bot API.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	return &Telegram{bot: bot}
}

func (t *Telegram) Notify(_ context.Context, ownerID, text string) error {
	chatID, err := TelegramChatID(ownerID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %s: %w", ownerID, err)
	}
	return nil
}
