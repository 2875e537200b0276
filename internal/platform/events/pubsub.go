// Package events publishes checkout domain events to message brokers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/wearwise/checkout/internal/services"
)

// EventTypeOrderFinalized is carried in the eventType attribute or header of every message.
const EventTypeOrderFinalized = "order.finalized"

// PubSubPublisher publishes order events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderFinalized implements services.EventPublisher.
func (p *PubSubPublisher) PublishOrderFinalized(ctx context.Context, event services.OrderFinalizedEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{"eventType": EventTypeOrderFinalized}
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "correlationId", event.CorrelationID)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "provider", event.Provider)
	attrs["amount"] = strconv.FormatInt(event.Amount, 10)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
