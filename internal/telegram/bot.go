// Package telegram wraps the Bot API transport and the presentation of
// account state: status text, the QR account card, and the inline action
// menu. It holds no lifecycle state of its own.
package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/davron/xuigram/internal/config"
	"github.com/davron/xuigram/internal/metrics"
)

// Bot wraps a Telegram Bot API connection.
type Bot struct {
	api     *tgbotapi.BotAPI
	name    string
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a bot from configuration, authenticating against the Bot API.
func New(cfg *config.TelegramConfig, log zerolog.Logger, m *metrics.Metrics) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	return newFromAPI(api, cfg.BotName, log, m), nil
}

// NewWithEndpoint creates a bot against a non-default API endpoint. Used by
// tests to point the transport at a local fake.
func NewWithEndpoint(cfg *config.TelegramConfig, endpoint string, log zerolog.Logger, m *metrics.Metrics) (*Bot, error) {
	if cfg == nil || cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	return newFromAPI(api, cfg.BotName, log, m), nil
}

func newFromAPI(api *tgbotapi.BotAPI, name string, log zerolog.Logger, m *metrics.Metrics) *Bot {
	bot := &Bot{
		api:     api,
		name:    name,
		logger:  log.With().Str("component", "telegram").Logger(),
		metrics: m,
	}

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot
}

// Name returns the configured bot name used in connection-string labels.
func (b *Bot) Name() string {
	return b.name
}

// GetUpdates long-polls for updates past the given offset.
func (b *Bot) GetUpdates(offset, timeoutSeconds int) ([]tgbotapi.Update, error) {
	updates, err := b.api.GetUpdates(tgbotapi.UpdateConfig{
		Offset:  offset,
		Timeout: timeoutSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends a plain text message.
func (b *Bot) SendMessage(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		b.countError()
		return fmt.Errorf("failed to send message: %w", err)
	}
	b.countSent()

	b.logger.Debug().Int64("chat_id", chatID).Msg("Message sent")
	return nil
}

// DeleteMessage removes a previously sent message.
func (b *Bot) DeleteMessage(chatID int64, messageID int) error {
	_, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query, optionally as a modal alert.
func (b *Bot) AnswerCallback(queryID, text string, alert bool) error {
	callback := tgbotapi.NewCallback(queryID, text)
	callback.ShowAlert = alert

	_, err := b.api.Request(callback)
	if err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

// SendAccountCard sends the QR image with the caption and action menu in
// one message. The PNG exists only in memory for the duration of the send.
func (b *Bot) SendAccountCard(chatID int64, caption string, png []byte, keyboard tgbotapi.InlineKeyboardMarkup) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  "account.png",
		Bytes: png,
	})
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdown
	photo.ReplyMarkup = keyboard

	_, err := b.api.Send(photo)
	if err != nil {
		b.countError()
		return fmt.Errorf("failed to send account card: %w", err)
	}
	b.countSent()

	b.logger.Debug().Int64("chat_id", chatID).Msg("Account card sent")
	return nil
}

func (b *Bot) countSent() {
	if b.metrics != nil {
		b.metrics.TelegramMessagesSentTotal.Inc()
	}
}

func (b *Bot) countError() {
	if b.metrics != nil {
		b.metrics.TelegramErrorsTotal.Inc()
	}
}
