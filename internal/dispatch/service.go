// ABOUTME: Dispatch orchestrator: sends through the transport, then records confirmed sends
// ABOUTME: Owns the only write path into the dedupe cache and the optional ledger

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MuhtaT/famlogger-server/internal/dedupe"
	"github.com/MuhtaT/famlogger-server/internal/store"
	"github.com/MuhtaT/famlogger-server/internal/transport"
)

// Validation errors returned before anything is sent.
var (
	ErrEmptyConversation = errors.New("conversation id is required")
	ErrEmptyText         = errors.New("message text is required")
	ErrParseMode         = errors.New("unsupported parse mode")
)

// ErrNoLedger is returned by Attempts when the ledger is disabled.
var ErrNoLedger = errors.New("dispatch ledger is disabled")

// Recorder is the cache surface the orchestrator needs.
type Recorder interface {
	Record(d dedupe.Dispatch)
	IsDuplicate(conversationID, text string, windowSeconds int64) bool
	Size() int
}

// Result is a confirmed send.
type Result struct {
	Delivery *transport.Delivery
	Dispatch dedupe.Dispatch
}

// Service sends messages and keeps the dedupe cache in step with what was
// actually transmitted.
type Service struct {
	sender           transport.Sender
	cache            Recorder
	ledger           store.Ledger
	logger           *slog.Logger
	defaultParseMode string
}

// Config wires a Service.
type Config struct {
	Sender transport.Sender
	Cache  Recorder
	// Ledger is optional.
	Ledger           store.Ledger
	DefaultParseMode string
	Logger           *slog.Logger
}

// New creates a dispatch Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sender:           cfg.Sender,
		cache:            cfg.Cache,
		ledger:           cfg.Ledger,
		logger:           logger,
		defaultParseMode: cfg.DefaultParseMode,
	}
}

// Send transmits text to the conversation. On success the confirmed send is
// recorded in the cache exactly once, keyed by the provider-confirmed
// conversation id, text and timestamp. On failure the cache is untouched and
// the returned error wraps a *transport.Error.
//
// An empty parseMode (or "default") uses the service default; "plain" sends
// without formatting.
func (s *Service) Send(ctx context.Context, conversationID, text, parseMode string) (*Result, error) {
	if conversationID == "" {
		return nil, ErrEmptyConversation
	}
	if text == "" {
		return nil, ErrEmptyText
	}
	parseMode = s.resolveParseMode(parseMode)
	if !transport.ValidParseMode(parseMode) {
		return nil, fmt.Errorf("%w: %q", ErrParseMode, parseMode)
	}

	delivery, err := s.sender.Send(ctx, transport.Message{
		ConversationID: conversationID,
		Text:           text,
		ParseMode:      parseMode,
	})
	if err != nil {
		te := transport.AsError(err)
		s.logger.Warn("send failed",
			"conversation", conversationID,
			"transport", s.sender.Name(),
			"error", te.Description,
			"code", te.Code,
		)
		s.saveAttempt(ctx, &store.Attempt{
			ConversationID: conversationID,
			Text:           text,
			Transport:      s.sender.Name(),
			Status:         store.StatusFailed,
			ErrorCode:      te.Code,
			Error:          te.Description,
		})
		return nil, fmt.Errorf("sending to %s: %w", conversationID, te)
	}

	confirmed := delivery.ConversationID
	if confirmed == "" {
		confirmed = conversationID
	}
	if confirmed != conversationID {
		s.logger.Debug("provider resolved conversation id",
			"requested", conversationID,
			"confirmed", confirmed,
		)
	}

	d := dedupe.Dispatch{
		ConversationID: confirmed,
		Text:           text,
		SentAt:         delivery.SentAt.Unix(),
		DispatchID:     delivery.MessageID,
	}
	s.cache.Record(d)

	s.logger.Info("message sent",
		"conversation", confirmed,
		"message_id", delivery.MessageID,
		"transport", s.sender.Name(),
	)

	s.saveAttempt(ctx, &store.Attempt{
		ConversationID: confirmed,
		Text:           text,
		Transport:      s.sender.Name(),
		Status:         store.StatusDelivered,
		MessageID:      delivery.MessageID,
		CreatedAt:      delivery.SentAt.UTC(),
	})

	return &Result{Delivery: delivery, Dispatch: d}, nil
}

// IsDuplicate reports whether text was sent to conversationID within the
// last windowSeconds.
func (s *Service) IsDuplicate(conversationID, text string, windowSeconds int64) bool {
	dup := s.cache.IsDuplicate(conversationID, text, windowSeconds)
	if dup {
		s.logger.Info("duplicate found",
			"conversation", conversationID,
			"window", windowSeconds,
			"text", dedupe.Preview(text),
		)
	} else {
		s.logger.Info("no duplicate found",
			"conversation", conversationID,
			"window", windowSeconds,
			"text", dedupe.Preview(text),
		)
	}
	return dup
}

// CacheSize reports the number of live cache records.
func (s *Service) CacheSize() int {
	return s.cache.Size()
}

// Attempts lists ledger entries. It returns ErrNoLedger when none is configured.
func (s *Service) Attempts(ctx context.Context, filter store.AttemptFilter) ([]*store.Attempt, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	return s.ledger.ListAttempts(ctx, filter)
}

// saveAttempt writes to the ledger. Ledger failures are logged and never
// fail the send; the cache has already been updated.
func (s *Service) saveAttempt(ctx context.Context, a *store.Attempt) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.SaveAttempt(context.WithoutCancel(ctx), a); err != nil {
		s.logger.Error("failed to save dispatch attempt",
			"conversation", a.ConversationID,
			"status", a.Status,
			"error", err,
		)
	}
}

func (s *Service) resolveParseMode(mode string) string {
	switch {
	case mode == "" || strings.EqualFold(mode, "default"):
		return s.defaultParseMode
	case strings.EqualFold(mode, "plain") || strings.EqualFold(mode, "none"):
		return transport.ParseModePlain
	}
	return mode
}
