package emailsvc

import (
	"bytes"
	"log"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	logsvc "github.com/trezcool/shule/services/logger"
)

func TestConsoleServiceMock(t *testing.T) {
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(&bytes.Buffer{}, "", 0), conf)
	core.ParseEmailTemplates(conf, logger)
	svc := NewConsoleServiceMock(conf, logger)

	svc.SendMessages(
		&core.EmailMessage{
			To:           []mail.Address{{Name: "Amy", Address: "amy@school.test"}},
			Subject:      "Password Reset",
			TemplateName: "password_reset",
			TemplateData: map[string]string{"Name": "Amy", "UID": "dTE", "Token": "tok-en"},
		},
		&core.EmailMessage{Subject: "nobody to send to", BodyStr: "hi"},
	)

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextContent, "Hello Amy,")
	assert.Contains(t, sent[0].TextContent, "http://localhost:3000/password-reset/dTE/tok-en")
	assert.Contains(t, sent[0].HTMLContent, `href="http://localhost:3000/password-reset/dTE/tok-en"`)

	svc.Reset()
	assert.Empty(t, svc.SentMessages())
}

func TestSendgridService_prepare(t *testing.T) {
	conf := core.NewTestConfig()
	svc := NewSendgridService(conf, nil)

	m := svc.prepare(core.EmailMessage{
		To:          []mail.Address{{Name: "Amy", Address: "amy@school.test"}},
		Cc:          []mail.Address{{Address: "office@school.test"}},
		Subject:     "Hello",
		TextContent: "hi",
	})

	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[Shule TEST] Hello", p.Subject)
	assert.Equal(t, map[string]string{"env": "TEST"}, p.CustomArgs)
	assert.Equal(t, []string{"general"}, m.Categories)
	require.Len(t, p.To, 1)
	assert.Equal(t, "amy@school.test", p.To[0].Address)
	require.Len(t, p.CC, 1)
	assert.Equal(t, "noreply@localhost", m.From.Address)
	require.Len(t, m.Content, 1, "no html part without html content")
	assert.Equal(t, "text/plain", m.Content[0].Type)
}

func TestSendgridService_templateCategory(t *testing.T) {
	svc := NewSendgridService(core.NewTestConfig(), nil)
	m := svc.prepare(core.EmailMessage{
		To:           []mail.Address{{Address: "amy@school.test"}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TextContent:  "hi",
		HTMLContent:  "<p>hi</p>",
	})
	assert.Equal(t, []string{"password_reset"}, m.Categories)
	assert.Len(t, m.Content, 2)
}

func TestSubjectPrefix(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{env: "PROD", want: "[Shule] "},
		{env: "", want: "[Shule] "},
		{env: "qa", want: "[Shule QA] "},
		{env: "DEV", want: "[Shule DEV] "},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			assert.Equal(t, tt.want, subjectPrefix("Shule", tt.env))
		})
	}
}

func TestSendgridService_sendWithoutKey(t *testing.T) {
	conf := core.NewTestConfig()
	conf.SendgridApiKey = ""
	err := NewSendgridService(conf, nil).send(core.EmailMessage{Subject: "Hello", TextContent: "hi"})
	assert.EqualError(t, err, "sendgrid api key is not configured")
}
