// ABOUTME: Telegram Bot API sender built on go-telegram-bot-api
// ABOUTME: Resolves chat ids or @channel usernames and reports provider-confirmed delivery

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/MuhtaT/famlogger-server/internal/dedupe"
	"github.com/MuhtaT/famlogger-server/internal/transport"
)

// ErrMissingToken is returned when no bot token is configured.
var ErrMissingToken = errors.New("telegram bot token is required")

// Config holds the Telegram sender settings.
type Config struct {
	Token string
	// APIEndpoint is a fmt pattern taking the token and method name.
	// Defaults to tgbotapi.APIEndpoint.
	APIEndpoint string
	Timeout     time.Duration
}

// Sender sends messages through the Telegram Bot API.
type Sender struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// New creates a Sender and verifies the token with getMe.
func New(cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return &Sender{bot: bot, logger: logger}, nil
}

// Name implements transport.Sender.
func (s *Sender) Name() string { return "telegram" }

// Send implements transport.Sender.
func (s *Sender) Send(ctx context.Context, msg transport.Message) (*transport.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := newMessageConfig(msg.ConversationID, msg.Text)
	cfg.ParseMode = msg.ParseMode

	s.logger.Debug("sending telegram message",
		"chat_id", msg.ConversationID,
		"parse_mode", msg.ParseMode,
		"text", dedupe.Preview(msg.Text),
	)

	sent, err := s.bot.Send(cfg)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return nil, &transport.Error{Code: apiErr.Code, Description: apiErr.Message, Err: err}
		}
		return nil, &transport.Error{Description: err.Error(), Err: err}
	}
	if sent.MessageID == 0 || sent.Chat == nil {
		return nil, &transport.Error{Description: "Telegram API did not return a message object", Err: transport.ErrNoConfirmation}
	}

	return &transport.Delivery{
		ConversationID: strconv.FormatInt(sent.Chat.ID, 10),
		MessageID:      strconv.Itoa(sent.MessageID),
		SentAt:         time.Unix(int64(sent.Date), 0),
		Raw:            sent,
	}, nil
}

// Close implements transport.Sender. The Bot API client holds no connections
// that need releasing.
func (s *Sender) Close() error {
	return nil
}

// newMessageConfig addresses numeric chat ids directly and anything else as
// a channel username.
func newMessageConfig(chatID, text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	return tgbotapi.NewMessageToChannel(chatID, text)
}
