package notify

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/dealradar/internal/config"
)

// DefaultEmailTimeout bounds one SMTP delivery when none is configured.
const DefaultEmailTimeout = 30 * time.Second

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender sends notifications over SMTP.
type EmailSender struct {
	from    string
	dialer  mailDialer
	timeout time.Duration
}

// NewEmailSender creates an EmailSender from SMTP settings.
func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{
		from:    cfg.From,
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}

// Send implements Sender. The body is sent as plain text with an HTML
// alternative.
func (s *EmailSender) Send(ctx context.Context, recipient, subject, body string) error {
	if s.from == "" {
		return eris.New("notify: email sender has no from address")
	}
	if strings.TrimSpace(recipient) == "" {
		return eris.New("notify: email recipient is empty")
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "notify: email")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	m.AddAlternative("text/html", htmlBody(subject, body))

	timeout := s.timeout
	if timeout <= 0 {
		timeout = DefaultEmailTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// gomail has no I/O deadline, so an abandoned send finishes in the
	// background and its result is dropped.
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return eris.Wrap(err, "notify: send email")
		}
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "notify: send email to %s", recipient)
	}
}

func htmlBody(subject, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<body style=\"font-family: Arial, sans-serif;\">\n")
	b.WriteString("<div style=\"max-width: 600px; margin: 0 auto; padding: 16px;\">\n")
	b.WriteString("<h2>" + html.EscapeString(subject) + "</h2>\n")
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString("<p>" + html.EscapeString(line) + "</p>\n")
	}
	b.WriteString("</div>\n</body>\n</html>\n")
	return b.String()
}
