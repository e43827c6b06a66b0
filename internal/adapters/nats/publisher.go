package natsadapter

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	js nats.JetStreamContext
}

// NewPublisher enables JetStream on conn and makes sure the POI stream
// exists.
func NewPublisher(conn *nats.Conn) (*Publisher, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStream(js); err != nil {
		return nil, err
	}
	return &Publisher{js: js}, nil
}

// PublishPOIsUpdated announces that the stored POIs of a category changed.
func (p *Publisher) PublishPOIsUpdated(ctx context.Context, category domain.Category) error {
	_, err := p.js.Publish(poisUpdatedPrefix+string(category), []byte(category), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish pois updated %s: %w", category, err)
	}
	return nil
}
