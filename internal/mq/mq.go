package mq

import "context"

// Topics for listing lifecycle events consumed by the external
// moderation pipeline.
const (
	TopicGemSubmitted     = "gems.submitted"
	TopicGemStatusChanged = "gems.status-changed"
)

// Broker defines the broker-agnostic publish operations used by the app.
type Broker interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Publisher wraps a broker backend with a stable API.
type Publisher struct {
	backend Broker
}

// NewPublisher constructs a Publisher for the provided backend.
func NewPublisher(backend Broker) *Publisher {
	return &Publisher{backend: backend}
}

// Publish sends an event to the named topic and returns the message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	return p.backend.Publish(ctx, topic, data, attrs)
}

// Close closes the underlying backend.
func (p *Publisher) Close() error {
	return p.backend.Close()
}
