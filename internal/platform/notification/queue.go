package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher is the subset of *amqp.Channel the queue sender needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// EmailJob is the payload placed on the queue for the mailer worker.
type EmailJob struct {
	Message
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueSender hands messages to an out-of-process mailer over RabbitMQ.
type QueueSender struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
	now   func() time.Time
}

// DialQueueSender connects to RabbitMQ and declares a durable queue.
func DialQueueSender(url, queue string) (*QueueSender, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &QueueSender{conn: conn, ch: ch, queue: queue, now: time.Now}, nil
}

// NewQueueSender wraps an already-open channel.
func NewQueueSender(ch publisher, queue string) *QueueSender {
	return &QueueSender{ch: ch, queue: queue, now: time.Now}
}

func (s *QueueSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(EmailJob{Message: msg, EnqueuedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode email job: %w", err)
	}
	err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    s.now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish email job: %w", err)
	}
	return nil
}

func (s *QueueSender) Close() error {
	if err := s.ch.Close(); err != nil {
		return err
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
