package mailer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMIME(t *testing.T) {
	payload := string(buildMIME("Auth Core", "no-reply@example.com", Message{
		To:       "user@example.com",
		Subject:  "Verify Your Email Address",
		TextBody: "code: 123456",
		HTMLBody: "<b>123456</b>",
	}))

	assert.True(t, strings.HasPrefix(payload, "From: Auth Core <no-reply@example.com>\r\n"))
	assert.Contains(t, payload, "To: user@example.com\r\n")
	assert.Contains(t, payload, "Subject: Verify Your Email Address\r\n")
	assert.Contains(t, payload, "multipart/alternative")
	assert.Contains(t, payload, "text/plain; charset=utf-8")
	assert.Contains(t, payload, "text/html; charset=utf-8")
	assert.Contains(t, payload, "code: 123456")
	assert.Contains(t, payload, "<b>123456</b>")
	// Closing boundary terminates the payload.
	assert.True(t, strings.HasSuffix(payload, "--\r\n"))
}
