package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPEmailSender delivers mail through a plain SMTP relay. Addr is
// host:port; Username/Password are optional for relays without auth.
type SMTPEmailSender struct {
	Addr     string
	From     string
	Username string
	Password string
}

func NewSMTPEmailSender(addr, from, username, password string) *SMTPEmailSender {
	return &SMTPEmailSender{Addr: addr, From: from, Username: username, Password: password}
}

func (s *SMTPEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	if s.Addr == "" || s.From == "" {
		return fmt.Errorf("smtp sender not configured")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	if err := smtp.SendMail(s.Addr, auth, s.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
