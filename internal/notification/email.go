package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/smallbiznis/payflow/internal/config"
)

// Sender transmits a plain text message.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

type SMTPSender struct {
	cfg config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (p *SMTPSender) Send(ctx context.Context, to []string, subject string, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(to) == 0 {
		return nil
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		p.cfg.From,
		strings.Join(to, ", "),
		subject,
		body,
	))

	return smtp.SendMail(addr, auth, p.cfg.From, to, msg)
}

// RoleResolver maps an event to e-mail recipients.
type RoleResolver interface {
	Recipients(event Event) []string
}

// ConfigResolver reads recipients from the workflow config on every call,
// so reloads apply to the next event.
type ConfigResolver struct {
	holder *config.WorkflowConfigHolder
}

func NewConfigResolver(holder *config.WorkflowConfigHolder) *ConfigResolver {
	return &ConfigResolver{holder: holder}
}

func (r *ConfigResolver) Recipients(event Event) []string {
	rules := r.holder.Get().Notification
	if event.RecipientUserID != "" {
		// viper lowercases map keys
		if addr, ok := rules.Users[strings.ToLower(event.RecipientUserID)]; ok && addr != "" {
			return []string{addr}
		}
		if addr, ok := rules.Users[event.RecipientUserID]; ok && addr != "" {
			return []string{addr}
		}
		return nil
	}
	return rules.RoleRecipients(event.RecipientLevel)
}

// EmailSink mails each event to its resolved recipients. Events without
// recipients are skipped.
type EmailSink struct {
	sender   Sender
	resolver RoleResolver
}

func NewEmailSink(sender Sender, resolver RoleResolver) *EmailSink {
	return &EmailSink{sender: sender, resolver: resolver}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, event Event) error {
	to := s.resolver.Recipients(event)
	if len(to) == 0 {
		return nil
	}
	return s.sender.Send(ctx, to, event.Subject(), event.Body())
}
