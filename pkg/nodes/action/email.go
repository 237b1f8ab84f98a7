package action

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

// ErrNoEmailSender is returned by email actions when none is configured.
var ErrNoEmailSender = errors.New("email actions are not configured")

// EmailMessage is a plain text email.
type EmailMessage struct {
	To      []string
	Subject string
	Body    string
}

// EmailSender delivers messages.
type EmailSender interface {
	Send(ctx context.Context, message EmailMessage) error
}

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

// NewSMTPSender creates a sender. Empty username disables authentication.
func NewSMTPSender(addr, from, username, password string) *SMTPSender {
	sender := &SMTPSender{Addr: addr, From: from}

	if username != "" {
		host, _, _ := strings.Cut(addr, ":")
		sender.Auth = smtp.PlainAuth("", username, password, host)
	}

	return sender
}

func (s *SMTPSender) Send(ctx context.Context, message EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body strings.Builder

	fmt.Fprintf(&body, "From: %s\r\n", s.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(message.To, ", "))
	fmt.Fprintf(&body, "Subject: %s\r\n", message.Subject)
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	body.WriteString(message.Body)

	if err := smtp.SendMail(s.Addr, s.Auth, s.From, message.To, []byte(body.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func (e *Executor) executeEmail(ctx context.Context, config *models.EmailActionConfig) (*protocol.Output, error) {
	if config == nil {
		return nil, protocol.Permanent(errors.New("email action requires an email block"))
	}

	if e.mailer == nil {
		return nil, protocol.Permanent(ErrNoEmailSender)
	}

	for _, recipient := range config.To {
		if !strings.Contains(recipient, "@") {
			return nil, protocol.Permanent(fmt.Errorf("invalid recipient %q", recipient))
		}
	}

	err := e.mailer.Send(ctx, EmailMessage{To: config.To, Subject: config.Subject, Body: config.Body})
	if err != nil {
		return nil, err
	}

	return protocol.NewOutput(map[string]any{
		"sent":       true,
		"recipients": len(config.To),
		"subject":    config.Subject,
	}), nil
}
