package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/shule/core"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

// SendgridService delivers school mail (password resets and the like) through the SendGrid v3 API.
// Every message is tagged with its template and the running environment so deliveries can be
// told apart in the SendGrid dashboard.
type SendgridService struct {
	key     string
	env     string
	from    *sgmail.Email
	subject string
	logger  core.Logger
}

var _ core.EmailService = (*SendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *SendgridService {
	from := conf.DefaultFromEmail()
	return &SendgridService{
		key:     conf.SendgridApiKey,
		env:     strings.ToUpper(conf.Env),
		from:    sgmail.NewEmail(from.Name, from.Address),
		subject: subjectPrefix(conf.AppName, conf.Env),
		logger:  logger,
	}
}

// subjectPrefix marks mail sent outside production, e.g. "[Shule QA] ".
func subjectPrefix(appName, env string) string {
	env = strings.ToUpper(env)
	if env == "" || env == "PROD" {
		return "[" + appName + "] "
	}
	return "[" + appName + " " + env + "] "
}

func (svc SendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := msg.Render(); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering %s email: %v", category(*msg), err), err)
				return
			}
			if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
				return
			}
			if err := svc.send(*msg); err != nil {
				svc.logger.Error(fmt.Sprintf("sending %s email: %v", category(*msg), err), err)
			}
		}()
	}
}

// category names a message after its template; ad-hoc messages are "general".
func category(msg core.EmailMessage) string {
	if msg.TemplateName == "" {
		return "general"
	}
	return msg.TemplateName
}

func (svc SendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subject + msg.Subject
	p.AddTos(sgEmails(msg.To)...)
	p.AddCCs(sgEmails(msg.Cc)...)
	p.AddBCCs(sgEmails(msg.Bcc)...)
	p.SetCustomArg("env", svc.env)

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddCategories(category(msg))

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	for _, at := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     at.Content.String(),
			Type:        at.ContentType,
			Filename:    at.Filename,
			Disposition: "attachment",
		})
	}
	return m
}

func sgEmails(addrs []mail.Address) []*sgmail.Email {
	emails := make([]*sgmail.Email, 0, len(addrs))
	for _, addr := range addrs {
		emails = append(emails, sgmail.NewEmail(addr.Name, addr.Address))
	}
	return emails
}

func (svc SendgridService) send(msg core.EmailMessage) error {
	if svc.key == "" {
		return errors.New("sendgrid api key is not configured")
	}
	req := sendgrid.GetRequest(svc.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return errors.Wrap(err, "calling sendgrid")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
