package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/metrics"
)

// offsetKey is the kv_store key holding the last processed update_id
const offsetKey = "telegram_offset"

const pollInterval = 2 * time.Second

// OffsetStore persists the Telegram update offset across restarts so
// APPROVE/REJECT replies are never replayed.
type OffsetStore interface {
	GetInt64(key string) (int64, bool, error)
	SetInt64(key string, value int64) error
}

// Message is one incoming chat message from the configured operator chat
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
	Username  string
}

// Handler processes an incoming message
type Handler func(Message)

// Telegram sends notifications to and receives replies from a single
// operator chat.
type Telegram struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	store    OffsetStore
	log      zerolog.Logger
	handlers []Handler

	lastUpdateID int64
}

// NewTelegram creates the Telegram chat transport. The token is not
// verified against the API here so the agent can start while offline;
// use TestConnection for an explicit check.
func NewTelegram(token string, chatID int64, store OffsetStore, log zerolog.Logger) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat ID is required")
	}

	bot := &tgbotapi.BotAPI{
		Token: token,
		// Above Telegram's long-poll window
		Client: &http.Client{Timeout: 35 * time.Second},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(tgbotapi.APIEndpoint)

	t := &Telegram{
		bot:    bot,
		chatID: chatID,
		store:  store,
		log:    log.With().Str("component", "telegram").Logger(),
	}

	if store != nil {
		if offset, ok, err := store.GetInt64(offsetKey); err != nil {
			t.log.Warn().Err(err).Msg("Could not restore update offset, starting from 0")
		} else if ok {
			t.lastUpdateID = offset
			t.log.Info().Int64("offset", offset).Msg("Restored Telegram update offset")
		}
	}

	return t, nil
}

// Send delivers a message to the operator chat. HTML parse mode so
// report titles can carry <b> tags.
func (t *Telegram) Send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := t.bot.Send(msg); err != nil {
		metrics.ChatMessages.WithLabelValues("failed").Inc()
		t.log.Error().Err(err).Msg("Failed to send Telegram message")
		return fmt.Errorf("telegram send failed: %w", err)
	}

	metrics.ChatMessages.WithLabelValues("sent").Inc()
	return nil
}

// TestConnection verifies the bot token against the Telegram API
func (t *Telegram) TestConnection() error {
	user, err := t.bot.GetMe()
	if err != nil {
		return fmt.Errorf("telegram getMe failed: %w", err)
	}
	t.log.Info().Str("bot", user.UserName).Msg("Telegram bot reachable")
	return nil
}

// AddHandler registers a handler for incoming messages. Handlers must be
// registered before StartPolling.
func (t *Telegram) AddHandler(h Handler) {
	t.handlers = append(t.handlers, h)
}

// StartPolling polls getUpdates until the context is cancelled. Runs in
// its own goroutine; replies arrive within a couple of seconds.
func (t *Telegram) StartPolling(ctx context.Context) {
	t.log.Info().Msg("Telegram polling started")
	for {
		t.pollOnce()
		select {
		case <-ctx.Done():
			t.log.Info().Msg("Telegram polling stopped")
			return
		case <-time.After(pollInterval):
		}
	}
}

func (t *Telegram) pollOnce() {
	u := tgbotapi.NewUpdate(int(t.lastUpdateID + 1))
	u.Timeout = 2

	updates, err := t.bot.GetUpdates(u)
	if err != nil {
		// Transient network errors are expected; next tick retries
		t.log.Debug().Err(err).Msg("Telegram poll error")
		return
	}

	highest := t.lastUpdateID
	for _, update := range updates {
		if int64(update.UpdateID) > highest {
			highest = int64(update.UpdateID)
		}
		if update.Message == nil {
			continue
		}
		if update.Message.Chat.ID != t.chatID {
			t.log.Warn().
				Int64("chat_id", update.Message.Chat.ID).
				Msg("Ignoring message from unknown chat")
			continue
		}

		text := strings.TrimSpace(update.Message.Text)
		if text == "" {
			continue
		}

		msg := Message{
			ChatID:    update.Message.Chat.ID,
			MessageID: update.Message.MessageID,
			Text:      text,
		}
		if update.Message.From != nil {
			msg.Username = update.Message.From.UserName
		}

		for _, h := range t.handlers {
			h(msg)
		}
	}

	// Persist the highest seen update_id so restarts resume past it
	if highest > t.lastUpdateID {
		t.lastUpdateID = highest
		if t.store != nil {
			if err := t.store.SetInt64(offsetKey, highest); err != nil {
				t.log.Warn().Err(err).Msg("Could not persist Telegram offset")
			}
		}
	}
}
