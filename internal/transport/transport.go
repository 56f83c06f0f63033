// ABOUTME: Outbound messaging transport contract shared by Telegram and Matrix senders
// ABOUTME: Defines Message, Delivery and the structured Error returned on provider failures

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Parse modes understood by the senders.
const (
	ParseModeHTML       = "HTML"
	ParseModeMarkdownV2 = "MarkdownV2"
	ParseModePlain      = ""
)

// ErrNoConfirmation is returned when a provider accepted the request but
// returned nothing that identifies the sent message.
var ErrNoConfirmation = errors.New("provider did not confirm the message")

// Message is one outbound text for a conversation.
type Message struct {
	ConversationID string
	Text           string
	ParseMode      string
}

// Delivery is the provider's confirmation of a sent message.
type Delivery struct {
	// ConversationID is the id the provider reports, which can differ from
	// the requested one (a channel username resolves to a numeric id).
	ConversationID string
	MessageID      string
	SentAt         time.Time
	// Raw is the provider's own message object, returned to API callers.
	Raw any
}

// Sender delivers messages to a chat provider.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) (*Delivery, error)
	Close() error
}

// Error is a provider failure with the provider's code and description.
type Error struct {
	Code        int
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Description, e.Code)
	}
	return e.Description
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a transport Error from err. A plain error becomes an
// Error with code 0 and the error text as description.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Description: err.Error(), Err: err}
}

// ValidParseMode reports whether mode is one of the supported parse modes.
func ValidParseMode(mode string) bool {
	switch mode {
	case ParseModeHTML, ParseModeMarkdownV2, ParseModePlain:
		return true
	}
	return false
}
