// Package email sends transactional notifications over SMTP.
package email

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/featherauth/featherauth/internal/observability/logger"
)

// Sender delivers a single message. Implemented by SMTPSender and by
// test doubles.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// SMTPSender implements Sender over SMTP with STARTTLS.
type SMTPSender struct {
	Host string
	Port int
	From string
	User string
	Pass string
}

// NewSMTPSender builds an SMTPSender.
func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{Host: host, Port: port, From: from, User: user, Pass: pass}
}

// Send delivers the message, preferring multipart/alternative when both
// bodies are given.
func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	log := logger.L().With(
		logger.String("component", "SMTPSender"),
		logger.String("host", s.Host),
		logger.String("to", to),
	)

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host}

	if err := d.DialAndSend(m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Debug("email sent")
	return nil
}

// Notifier sends the product notifications this server emits. A nil
// Notifier is valid and sends nothing.
type Notifier struct {
	Sender      Sender
	ServiceName string
}

// FirstAuthorization notifies a user the first time an application is
// authorized on their account. Failures are logged, never surfaced; email
// is best effort and must not block the OAuth flow.
func (n *Notifier) FirstAuthorization(toEmail, appName string, scopes []string) {
	if n == nil || n.Sender == nil || toEmail == "" {
		return
	}
	go func() {
		subject := fmt.Sprintf("%s was connected to your %s account", appName, n.ServiceName)
		text := fmt.Sprintf(
			"The application %q was granted access to your account.\n\nScopes: %v\n\nIf you did not authorize this, revoke its access from your account settings.",
			appName, scopes)
		if err := n.Sender.Send(toEmail, subject, "", text); err != nil {
			logger.Named("email").Warn("first authorization notice failed", logger.Err(err))
		}
	}()
}
