// ABOUTME: Dispatch ledger interface and data types for famlogger-server
// ABOUTME: Records every send attempt for audit; never feeds the dedupe cache

package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownDriver is returned for a database driver other than sqlite or postgres.
var ErrUnknownDriver = errors.New("unknown database driver")

// AttemptStatus values
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Attempt is one call to the outbound transport, successful or not.
type Attempt struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Text           string    `json:"text"`
	Transport      string    `json:"transport"`
	Status         string    `json:"status"`
	MessageID      string    `json:"messageId,omitempty"` // provider message id, empty on failure
	ErrorCode      int       `json:"errorCode,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AttemptFilter narrows ListAttempts. Zero values mean "any".
type AttemptFilter struct {
	ConversationID string
	Status         string
	Limit          int
}

// Ledger persists send attempts.
type Ledger interface {
	SaveAttempt(ctx context.Context, a *Attempt) error
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]*Attempt, error)
	Close() error
}
