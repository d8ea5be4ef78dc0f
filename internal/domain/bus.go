package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds
}

// Standard topic names for the sampling pipeline.
const (
	TopicSamplingRequested = "kestrel.sampling.requested"
	TopicPlanGenerated     = "kestrel.plan.generated"
	TopicPopulationEmpty   = "kestrel.population.empty"
)

// SamplingRequest is the payload of TopicSamplingRequested and the body of plan requests.
type SamplingRequest struct {
	RequestID  string          `json:"requestId,omitempty"`
	Ledger     LedgerKey       `json:"ledger"`
	Scope      PopulationScope `json:"scope"`
	Parameters ParameterSpec   `json:"parameters"`
}

// PlanEvent is the payload of TopicPlanGenerated and TopicPopulationEmpty.
type PlanEvent struct {
	RequestID   string        `json:"requestId,omitempty"`
	PlanID      string        `json:"planId,omitempty"`
	Ledger      LedgerKey     `json:"ledger"`
	Method      Method        `json:"method"`
	ActualSize  int           `json:"actualSampleSize"`
	EmptyReason EmptyReason   `json:"emptyReason,omitempty"`
	Cached      bool          `json:"cached"`
	Error       string        `json:"error,omitempty"`
	Plan        *SamplingPlan `json:"plan,omitempty"`
}
