package mail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplatesRender(t *testing.T) {
	tpl, err := NewTemplates(DefaultDefinitions())
	require.NoError(t, err)

	msg, err := tpl.Render(TemplatePasswordReset, "admin@example.com", map[string]string{
		"AppName": "Faith Community",
		"Link":    "https://example.com/reset?token=abc&x=<y>",
		"TTL":     "30m0s",
	})
	require.NoError(t, err)

	assert.Equal(t, "admin@example.com", msg.To)
	assert.Equal(t, "Faith Community password reset", msg.Subject)
	assert.Contains(t, msg.Text, "token=abc&x=<y>")
	assert.Contains(t, msg.HTML, "x=%3cy%3e")
	assert.Equal(t, TemplatePasswordReset, msg.Kind)
}

func TestRenderFailsOnMissingKey(t *testing.T) {
	tpl, err := NewTemplates(DefaultDefinitions())
	require.NoError(t, err)

	_, err = tpl.Render(TemplateEmailChange, "a@example.com", map[string]string{"AppName": "x"})
	assert.Error(t, err)

	_, err = tpl.Render("unknown", "a@example.com", nil)
	assert.Error(t, err)
}

func TestNewTemplatesRejectsEmptyDefinitions(t *testing.T) {
	_, err := NewTemplates(map[string]Definition{"x": {Subject: " "}})
	assert.Error(t, err)
}

func TestOutboxFailNext(t *testing.T) {
	o := NewOutbox()
	ctx := context.Background()
	boom := errors.New("relay down")

	o.FailNext(boom)
	assert.ErrorIs(t, o.Send(ctx, Message{To: "a@example.com"}), boom)
	require.NoError(t, o.Send(ctx, Message{To: "a@example.com", Subject: "second"}))

	last, ok := o.Last("a@example.com")
	require.True(t, ok)
	assert.Equal(t, "second", last.Subject)
	assert.Len(t, o.Messages(), 1)
}

func TestNewSMTPMailerValidates(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{Port: 25, From: "x@example.com"}, nil)
	assert.Error(t, err)
	_, err = NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 25}, nil)
	assert.Error(t, err)

	m, err := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 2525, From: "x@example.com"}, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.cfg.From, "x@"))
	m.Close()
}
