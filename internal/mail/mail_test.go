package mail

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutribin-backend/config"
)

func TestRender(t *testing.T) {
	html, err := Render("code", map[string]any{"Code": "123456", "Minutes": 10})
	require.NoError(t, err)
	assert.Contains(t, html, "123456")
	assert.Contains(t, html, "10 minutes")

	html, err = Render("repair_status", map[string]any{"Name": "<Ana>", "ID": 9, "MachineID": "NB-1", "Status": "accepted"})
	require.NoError(t, err)
	assert.Contains(t, html, "&lt;Ana&gt;")
	assert.Contains(t, html, "<strong>accepted</strong>")

	_, err = Render("missing", nil)
	assert.Error(t, err)
}

func TestSMTPSender_Build(t *testing.T) {
	s := NewSMTPSender(config.MailConfig{From: "no-reply@nutribin.app", FromName: "NutriBin"})
	raw := s.build(Message{To: "a@b.test", Subject: "Hello", HTML: "<p>x</p>"})

	assert.True(t, strings.HasPrefix(raw, "From: NutriBin <no-reply@nutribin.app>\r\n"))
	assert.Contains(t, raw, "To: a@b.test\r\n")
	assert.Contains(t, raw, "Content-Type: text/html; charset=UTF-8\r\n\r\n<p>x</p>")
}

func TestSMTPSender_RequiresHost(t *testing.T) {
	s := NewSMTPSender(config.MailConfig{})
	assert.Error(t, s.Send(context.Background(), Message{To: "a@b.test"}))
}
