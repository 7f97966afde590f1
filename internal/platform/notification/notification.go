// Package notification delivers transactional email. The backend is chosen
// from configuration: SMTP, the Resend HTTP API, a RabbitMQ job queue for an
// out-of-process mailer, or the logger in development.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/config"
)

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (m Message) validate() error {
	if m.To == "" {
		return errors.New("recipient is required")
	}
	if m.Subject == "" {
		return errors.New("subject is required")
	}
	return nil
}

// Sender is the interface for sending email messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New returns the Sender selected by cfg.EmailProvider. The returned close
// func releases any connection the backend holds.
func New(cfg *config.Config, logger zerolog.Logger) (Sender, func() error, error) {
	nop := func() error { return nil }

	switch cfg.EmailProvider {
	case "smtp":
		s, err := NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)
		if err != nil {
			return nil, nil, err
		}
		return s, nop, nil
	case "resend":
		return NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom), nop, nil
	case "queue":
		q, err := DialQueueSender(cfg.RabbitMQURL, cfg.EmailQueue)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	case "log", "":
		return NewLogSender(logger), nop, nil
	default:
		return nil, nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
}

// LogSender writes messages to the logger instead of delivering them.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.HTML).
		Msg("email (log provider)")
	return nil
}

// Recorder is a test double for Sender.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

// Send records the message and returns r.Err.
func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recent message, if any.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Message{}, false
	}
	return r.sent[len(r.sent)-1], true
}
