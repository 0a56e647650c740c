// Package notification delivers transactional email to patients and
// guardians. It defines the EmailSender interface, a template engine for the
// messages the signing flow sends, and test doubles.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// EmailSender sends a single email message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template is a named message with {{placeholder}} substitution.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	e.RegisterTemplate(Template{
		ID:      "otp-code",
		Subject: "Código de verificação - {{clinic_name}}",
		Body: "Olá {{patient_name}},\n\n" +
			"Seu código para assinatura do registro clínico é: {{code}}\n\n" +
			"O código expira em {{ttl_minutes}} minutos. " +
			"Se você não solicitou esta assinatura, ignore este email.",
	})
	e.RegisterTemplate(Template{
		ID:      "otp-code-guardian",
		Subject: "Código de verificação - {{clinic_name}}",
		Body: "Olá,\n\n" +
			"Como responsável por {{patient_name}}, seu código para assinatura " +
			"do registro clínico é: {{code}}\n\n" +
			"O código expira em {{ttl_minutes}} minutos.",
	})
	e.RegisterTemplate(Template{
		ID:      "batch-signed",
		Subject: "Lote {{batch_number}} assinado",
		Body: "O lote {{batch_number}} com {{record_count}} registro(s) foi " +
			"assinado digitalmente.",
	})
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes {{key}} placeholders from data into the template.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not registered", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// EmailCall records a single send for assertions in tests.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records calls instead of delivering anything.
type MockEmailSender struct {
	mu    sync.Mutex
	calls []EmailCall
	// Err, when set, is returned by every SendEmail call.
	Err error
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	return nil
}

func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LogEmailSender writes messages to the log instead of sending them. Used in
// development when no SMTP host is configured. Message bodies are not logged
// because they carry verification codes.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.Logger.Info().
		Str("to", to).
		Str("subject", subject).
		Msg("email delivery skipped (no SMTP configured)")
	return nil
}
