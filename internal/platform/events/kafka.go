package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wearwise/checkout/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events keyed by correlation id, so every event of one
// checkout lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewKafkaPublisher builds a hash-balanced writer for topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}), nil
}

func newKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, now: time.Now}
}

// PublishOrderFinalized implements services.EventPublisher. The returned id is the event id.
func (p *KafkaPublisher) PublishOrderFinalized(ctx context.Context, event services.OrderFinalizedEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.CorrelationID),
		Value: data,
		Time:  p.now().UTC(),
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(EventTypeOrderFinalized)},
			{Key: "eventId", Value: []byte(event.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write order event: %w", err)
	}
	return event.EventID, nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Fanout publishes to every publisher in order and returns the first id. All publishers are
// attempted; their errors are joined.
type Fanout []services.EventPublisher

// PublishOrderFinalized implements services.EventPublisher.
func (f Fanout) PublishOrderFinalized(ctx context.Context, event services.OrderFinalizedEvent) (string, error) {
	var (
		first string
		errs  []error
	)
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		id, err := publisher.PublishOrderFinalized(ctx, event)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if first == "" {
			first = id
		}
	}
	return first, errors.Join(errs...)
}
