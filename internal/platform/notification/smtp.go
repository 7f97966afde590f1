package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPSender delivers mail through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	from string
	send func(ctx context.Context, msgs ...*mail.Msg) error
}

func NewSMTPSender(host string, port int, user, password, from string) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(user),
			mail.WithPassword(password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{from: from, send: client.DialAndSendWithContext}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	if err := s.send(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("smtp from %q: %w", s.from, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("smtp recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}
