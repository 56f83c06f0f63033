// ABOUTME: Matrix sender built on mautrix for delivering messages to rooms
// ABOUTME: Resolves room aliases, renders Markdown with goldmark and maps homeserver errors

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/MuhtaT/famlogger-server/internal/dedupe"
	"github.com/MuhtaT/famlogger-server/internal/transport"
)

// Config holds the Matrix sender settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Timeout     time.Duration
	// LogOutput receives mautrix's own zerolog output. Nil discards it.
	LogOutput io.Writer
}

// Validate checks that the required fields are present.
func (c Config) Validate() error {
	if c.Homeserver == "" {
		return errors.New("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.UserID == "" {
		return errors.New("matrix.user_id is required")
	}
	if c.AccessToken == "" {
		return errors.New("matrix.access_token is required")
	}
	return nil
}

// Sender sends messages to Matrix rooms.
type Sender struct {
	client *mautrix.Client
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Matrix sender. No network traffic happens until Send.
func New(cfg Config, logger *slog.Logger) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if cfg.Timeout > 0 {
		client.Client.Timeout = cfg.Timeout
	}
	if cfg.LogOutput != nil {
		client.Log = zerolog.New(cfg.LogOutput).With().Timestamp().Str("component", "mautrix").Logger()
	} else {
		client.Log = zerolog.Nop()
	}

	return &Sender{client: client, logger: logger, now: time.Now}, nil
}

// Name implements transport.Sender.
func (s *Sender) Name() string { return "matrix" }

// Send implements transport.Sender. Matrix only returns an event id, so the
// delivery time is the local clock at confirmation.
func (s *Sender) Send(ctx context.Context, msg transport.Message) (*transport.Delivery, error) {
	roomID, err := s.resolveRoom(ctx, msg.ConversationID)
	if err != nil {
		return nil, mapError(err)
	}

	content, err := buildContent(msg)
	if err != nil {
		return nil, &transport.Error{Description: err.Error(), Err: err}
	}

	s.logger.Debug("sending matrix message",
		"room", roomID.String(),
		"parse_mode", msg.ParseMode,
		"text", dedupe.Preview(msg.Text),
	)

	resp, err := s.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return nil, mapError(err)
	}
	if resp == nil || resp.EventID == "" {
		return nil, &transport.Error{Description: "homeserver did not return an event id", Err: transport.ErrNoConfirmation}
	}

	return &transport.Delivery{
		ConversationID: roomID.String(),
		MessageID:      resp.EventID.String(),
		SentAt:         s.now(),
		Raw: map[string]any{
			"event_id": resp.EventID.String(),
			"room_id":  roomID.String(),
		},
	}, nil
}

// Close implements transport.Sender.
func (s *Sender) Close() error {
	s.client.StopSync()
	return nil
}

// resolveRoom turns a #alias:server into its room id; room ids pass through.
func (s *Sender) resolveRoom(ctx context.Context, conversationID string) (id.RoomID, error) {
	if !strings.HasPrefix(conversationID, "#") {
		return id.RoomID(conversationID), nil
	}
	resp, err := s.client.ResolveAlias(ctx, id.RoomAlias(conversationID))
	if err != nil {
		return "", fmt.Errorf("resolving alias %s: %w", conversationID, err)
	}
	return resp.RoomID, nil
}

// buildContent builds an m.text event. HTML text is sent as the formatted
// body as-is; MarkdownV2 text is rendered to HTML first.
func buildContent(msg transport.Message) (*event.MessageEventContent, error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    msg.Text,
	}
	switch msg.ParseMode {
	case transport.ParseModeHTML:
		content.Format = event.FormatHTML
		content.FormattedBody = msg.Text
	case transport.ParseModeMarkdownV2:
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(msg.Text), &buf); err != nil {
			return nil, fmt.Errorf("rendering markdown: %w", err)
		}
		content.Format = event.FormatHTML
		content.FormattedBody = strings.TrimSpace(buf.String())
	}
	return content, nil
}

// mapError converts a mautrix error into a transport.Error carrying the
// homeserver's HTTP status.
func mapError(err error) error {
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) {
		te := &transport.Error{Description: err.Error(), Err: err}
		if httpErr.Response != nil {
			te.Code = httpErr.Response.StatusCode
		}
		if httpErr.RespError != nil && httpErr.RespError.Err != "" {
			te.Description = httpErr.RespError.Err
		}
		return te
	}
	return &transport.Error{Description: err.Error(), Err: err}
}
