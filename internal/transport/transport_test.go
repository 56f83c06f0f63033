package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	assert.Equal(t, "Bad Request: chat not found (code 400)",
		(&Error{Code: 400, Description: "Bad Request: chat not found"}).Error())
	assert.Equal(t, "boom", (&Error{Description: "boom"}).Error())
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	wrapped := fmt.Errorf("sending: %w", &Error{Code: 403, Description: "Forbidden"})
	te := AsError(wrapped)
	assert.Equal(t, 403, te.Code)
	assert.Equal(t, "Forbidden", te.Description)

	plain := errors.New("dial tcp: timeout")
	te = AsError(plain)
	assert.Equal(t, 0, te.Code)
	assert.Equal(t, "dial tcp: timeout", te.Description)
	assert.ErrorIs(t, te, plain)
}

func TestValidParseMode(t *testing.T) {
	assert.True(t, ValidParseMode("HTML"))
	assert.True(t, ValidParseMode("MarkdownV2"))
	assert.True(t, ValidParseMode(""))
	assert.False(t, ValidParseMode("Markdown"))
}
