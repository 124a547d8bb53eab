// Package redis connects the bundler to redis pub/sub: engine events are published
// and opportunities from detectors are consumed
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flashbots/mev-bundler/bundler"
	"github.com/flashbots/mev-bundler/metrics"
	"github.com/redis/go-redis/v9"
)

// EventPublisher publishes pool and engine events as JSON to a pub/sub channel
type EventPublisher struct {
	client     *redis.Client
	pubChannel string
}

func NewEventPublisher(client *redis.Client, pubChannel string) *EventPublisher {
	return &EventPublisher{
		client:     client,
		pubChannel: pubChannel,
	}
}

func (p *EventPublisher) PublishEvent(ctx context.Context, event bundler.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.pubChannel, data).Err(); err != nil {
		metrics.IncEventPublishFailure()
		return fmt.Errorf("redis: publish %s: %w", p.pubChannel, err)
	}
	return nil
}

var _ bundler.EventBackend = (*EventPublisher)(nil)
