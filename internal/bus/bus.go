// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// MetaReplyTo is the message metadata key carrying the reply topic of a Request.
const MetaReplyTo = "reply_to"

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// Decode unmarshals a message payload into v.
func Decode(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", domain.ErrInvalidInput, msg.Topic, err)
	}
	return nil
}

// Reply answers a message sent with Request. Messages without a reply topic are ignored.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	replyTo := msg.Metadata[MetaReplyTo]
	if replyTo == "" {
		return nil
	}
	return b.Publish(ctx, msg.TenantID, replyTo, payload)
}

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return nil
}

// requestTimeout bounds a Request whose context has no deadline.
const requestTimeout = 30 * time.Second
