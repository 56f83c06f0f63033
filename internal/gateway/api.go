// ABOUTME: HTTP handlers for duplicate checks, message sends, ledger listing and health
// ABOUTME: Binds and validates requests with gin/validator and shapes the JSON replies

package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/MuhtaT/famlogger-server/internal/dedupe"
	"github.com/MuhtaT/famlogger-server/internal/dispatch"
	"github.com/MuhtaT/famlogger-server/internal/store"
	"github.com/MuhtaT/famlogger-server/internal/transport"
)

// fieldErrors maps a request field to its validation messages.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}

// fieldMessages gives each validated field its client-facing name and message.
var fieldMessages = map[string]struct{ name, msg string }{
	"ChatID":    {"chatId", "chatId is required"},
	"Timeframe": {"timeframe", "timeframe must be a positive integer (seconds)"},
	"Message":   {"message", "message is required (UTF-8 string)"},
	"ParseMode": {"parseMode", "parseMode must be HTML, MarkdownV2, plain or default"},
	"Limit":     {"limit", "limit must be between 1 and 1000"},
	"Status":    {"status", "status must be delivered or failed"},
	"body":      {"body", "request body must be JSON or form-encoded"},
}

// collect adds a binding error to f. It reports false for errors that are
// not about request content.
func (f fieldErrors) collect(err error, fallbackField string) bool {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if m, ok := fieldMessages[fe.Field()]; ok {
				f.add(m.name, m.msg)
			} else {
				f.add(fe.Field(), fe.Error())
			}
		}
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return false
	}

	// Type conversion and decoding errors carry no field; report them against
	// the field the caller names.
	if m, ok := fieldMessages[fallbackField]; ok {
		f.add(m.name, m.msg)
	} else {
		f.add(fallbackField, err.Error())
	}
	return true
}

func validationFailed(c *gin.Context, errs fieldErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"message": "Validation failed",
		"errors":  errs,
	})
}

func internalError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
}

// bindError answers a failed bind: 413 for oversized bodies, 400 otherwise.
func bindError(c *gin.Context, err error, errs fieldErrors, fallbackField string) {
	if !errs.collect(err, fallbackField) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "Request body too large"})
		return
	}
	validationFailed(c, errs)
}

type duplicatesQuery struct {
	ChatID    string `form:"chatId" binding:"required"`
	Timeframe string `form:"timeframe" binding:"required"`
	Message   string `form:"message" binding:"required"`
}

// parseSeconds reads the leading integer of s, so "30abc" is 30 and "1.5"
// is 1. It reports false unless that integer is positive.
func parseSeconds(s string) (int64, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// handleGetDuplicates reports whether message was sent to chatId within timeframe seconds.
func (g *Gateway) handleGetDuplicates(c *gin.Context) {
	var (
		q    duplicatesQuery
		errs = fieldErrors{}
	)
	if err := c.ShouldBindQuery(&q); err != nil {
		errs.collect(err, "Timeframe")
	}
	window, ok := parseSeconds(q.Timeframe)
	if !ok && q.Timeframe != "" {
		m := fieldMessages["Timeframe"]
		errs.add(m.name, m.msg)
	}
	if len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"isDuplicate": g.dispatcher.IsDuplicate(q.ChatID, q.Message, window),
	})
}

type sendQuery struct {
	ChatID string `form:"chatId" binding:"required"`
}

type sendBody struct {
	Message   string `json:"message" form:"message" binding:"required"`
	ParseMode string `json:"parseMode" form:"parseMode" binding:"omitempty,oneof=HTML MarkdownV2 plain default"`
}

// bodyBinding picks the body decoder from Content-Type. Form posts bind
// from the body only, so a query parameter never fills message.
func bodyBinding(c *gin.Context) binding.Binding {
	switch c.ContentType() {
	case binding.MIMEPOSTForm:
		return binding.FormPost
	case binding.MIMEMultipartPOSTForm:
		return binding.FormMultipart
	default:
		return binding.JSON
	}
}

// handleSendMessage sends a message and records it for later duplicate checks.
func (g *Gateway) handleSendMessage(c *gin.Context) {
	var (
		q    sendQuery
		body sendBody
		errs = fieldErrors{}
	)
	if err := c.ShouldBindQuery(&q); err != nil {
		errs.collect(err, "ChatID")
	}
	if err := c.ShouldBindWith(&body, bodyBinding(c)); err != nil {
		field := "body"
		if errors.Is(err, io.EOF) {
			field = "Message"
		}
		if !errs.collect(err, field) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "Request body too large"})
			return
		}
	}
	if len(errs) > 0 {
		validationFailed(c, errs)
		return
	}

	g.logger.Debug("handling sendMessage", "chat_id", q.ChatID, "text", dedupe.Preview(body.Message))

	res, err := g.dispatcher.Send(c.Request.Context(), q.ChatID, body.Message, body.ParseMode)
	if err != nil {
		g.sendFailed(c, err)
		return
	}

	data := res.Delivery.Raw
	if data == nil {
		data = gin.H{
			"message_id": res.Delivery.MessageID,
			"chat_id":    res.Delivery.ConversationID,
			"date":       res.Dispatch.SentAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// sendFailed maps a dispatch error onto the HTTP reply.
func (g *Gateway) sendFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrParseMode):
		validationFailed(c, fieldErrors{"parseMode": {fieldMessages["ParseMode"].msg}})
		return
	case errors.Is(err, dispatch.ErrEmptyConversation), errors.Is(err, dispatch.ErrEmptyText):
		validationFailed(c, fieldErrors{"request": {err.Error()}})
		return
	}

	var te *transport.Error
	if !errors.As(err, &te) {
		g.logger.Error("unexpected send error", "error", err)
		internalError(c)
		return
	}

	status := http.StatusBadRequest
	if te.Code >= 400 && te.Code < 500 {
		status = te.Code
	}
	resp := gin.H{"success": false, "error": te.Description}
	if te.Code != 0 {
		resp["errorCode"] = te.Code
	}
	c.JSON(status, resp)
}

type dispatchesQuery struct {
	ChatID string `form:"chatId"`
	Status string `form:"status" binding:"omitempty,oneof=delivered failed"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// handleDispatches lists ledger entries, newest first.
func (g *Gateway) handleDispatches(c *gin.Context) {
	var q dispatchesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err, fieldErrors{}, "Limit")
		return
	}

	attempts, err := g.dispatcher.Attempts(c.Request.Context(), store.AttemptFilter{
		ConversationID: q.ChatID,
		Status:         q.Status,
		Limit:          q.Limit,
	})
	if errors.Is(err, dispatch.ErrNoLedger) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Dispatch ledger is disabled."})
		return
	}
	if err != nil {
		g.logger.Error("listing dispatches failed", "error", err)
		internalError(c)
		return
	}

	if attempts == nil {
		attempts = []*store.Attempt{}
	}
	c.JSON(http.StatusOK, gin.H{"dispatches": attempts})
}

// handleHealth reports liveness and the live cache size.
func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "UP",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"uptime":    time.Since(g.startedAt).Seconds(),
		"cacheSize": g.dispatcher.CacheSize(),
	})
}
