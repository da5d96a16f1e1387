package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/stonemart/api/internal/services"
)

// PubSubEventPublisher fans domain events out to Pub/Sub topics. Order lifecycle
// events and catalog events (stock, reviews, ratings) use separate topics so
// downstream consumers can subscribe independently.
type PubSubEventPublisher struct {
	orderTopic   *pubsub.Topic
	catalogTopic *pubsub.Topic
	marshal      func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(orderTopic, catalogTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orderTopic == nil {
		return nil, errors.New("pubsub event publisher: order topic is required")
	}
	if catalogTopic == nil {
		return nil, errors.New("pubsub event publisher: catalog topic is required")
	}
	return &PubSubEventPublisher{
		orderTopic:   orderTopic,
		catalogTopic: catalogTopic,
		marshal:      json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order lifecycle event.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.EventMessage) (string, error) {
	if p == nil || p.orderTopic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	return p.publish(ctx, p.orderTopic, event)
}

// PublishCatalogEvent enqueues a catalog event (stock movements, reviews, ratings).
func (p *PubSubEventPublisher) PublishCatalogEvent(ctx context.Context, event services.EventMessage) (string, error) {
	if p == nil || p.catalogTopic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	return p.publish(ctx, p.catalogTopic, event)
}

func (p *PubSubEventPublisher) publish(ctx context.Context, topic *pubsub.Topic, event services.EventMessage) (string, error) {
	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", event.Type, err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "productId", event.ProductID)
	setAttr(attrs, "userId", event.UserID)

	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
