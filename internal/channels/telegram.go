package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/minder/internal/notify"
)

// TelegramChannel long-polls the bot API and routes each allowed user's
// messages into the loop. The telegram user id doubles as session and owner
// id, so reminders reach the same chat the user talks in.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	responder  Responder
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI

	// send is swappable for tests.
	send func(chatID int64, text string) error
}

func NewTelegramChannel(token string, allowedIDs []int64, responder Responder, logger *slog.Logger) *TelegramChannel {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	t := &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		responder:  responder,
		logger:     logger,
	}
	t.send = t.sendViaBot
	return t
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Bot exposes the connected bot for the push notifier. Valid after Start.
func (t *TelegramChannel) Bot() *tgbotapi.BotAPI {
	return t.bot
}

// Connect initializes the bot API without starting the poll loop, so the
// notifier can be built before Start runs in its own goroutine.
func (t *TelegramChannel) Connect() error {
	if t.bot != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "user", bot.Self.UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.Connect(); err != nil {
		return err
	}

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2.5x the long-poll timeout (stall
// detection: the library blocks rather than closing the channel when the
// connection dies).
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
				t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleMessage(ctx, update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	sessionID := notify.TelegramOwnerID(msg.From.ID)

	// Each message gets its own goroutine: the loop serializes turns per
	// session, and one slow turn must not stall the poll loop.
	go func() {
		reply := t.responder.Process(ctx, sessionID, content)
		if reply == "" {
			return
		}
		if err := t.send(msg.Chat.ID, reply); err != nil {
			t.logger.Error("failed to send telegram reply", "chat_id", msg.Chat.ID, "error", err)
		}
	}()
}

func (t *TelegramChannel) sendViaBot(chatID int64, text string) error {
	_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
