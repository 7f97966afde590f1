// Package events publishes domain events to Kafka for downstream consumers
// such as analytics and audit pipelines.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	IdentityRegistered   = "identity.registered"
	IdentityDeactivated  = "identity.deactivated"
	PasswordChanged      = "identity.password_changed"
	SharingGranted       = "sharing.granted"
	SharingRevoked       = "sharing.revoked"
	AffiliationInvited   = "affiliation.invited"
	AffiliationAccepted  = "affiliation.accepted"
	AffiliationRejected  = "affiliation.rejected"
	AffiliationRemoved   = "affiliation.removed"
	AffiliationCancelled = "affiliation.cancelled"
	RecordUploaded       = "record.uploaded"
	ProfileUpdated       = "identity.profile_updated"
	VaccinationRecorded  = "vaccination.recorded"
	VaccinationDeleted   = "vaccination.deleted"
	FamilyMemberAdded    = "family.member_added"
	FamilyMemberRemoved  = "family.member_removed"
)

// Event is the envelope written to the topic. Key is used for partitioning.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Key        string      `json:"-"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// New builds an event with a fresh id.
func New(eventType, key string, data interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher is the interface used by services to publish events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages.
type KafkaPublisher struct {
	writer Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Key),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Emit publishes e and logs a failure instead of returning it. Domain writes
// have already committed when events are emitted.
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn().Err(err).Str("event_type", e.Type).Str("key", e.Key).Msg("event publish failed")
	}
}

// Recorder keeps published events in memory. Used in tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types returns the event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}
