package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flashbots/mev-bundler/bundler"
	"github.com/flashbots/mev-bundler/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OpportunityFeed consumes opportunities that detectors publish on a pub/sub channel
type OpportunityFeed struct {
	log       *zap.Logger
	client    *redis.Client
	channel   string
	submitter bundler.OpportunitySubmitter
}

func NewOpportunityFeed(log *zap.Logger, client *redis.Client, channel string, submitter bundler.OpportunitySubmitter) *OpportunityFeed {
	return &OpportunityFeed{
		log:       log.Named("feed").With(zap.String("channel", channel)),
		client:    client,
		channel:   channel,
		submitter: submitter,
	}
}

// Run blocks until ctx is cancelled or the subscription is closed
func (f *OpportunityFeed) Run(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", f.channel, err)
	}
	f.log.Info("Subscribed to opportunity feed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.handleMessage([]byte(msg.Payload))
		}
	}
}

func (f *OpportunityFeed) handleMessage(payload []byte) {
	var args bundler.OpportunityArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		metrics.IncFeedMessagesInvalid()
		f.log.Debug("Failed to decode opportunity", zap.Error(err))
		return
	}
	id, err := f.submitter.SubmitOpportunity(&args)
	if err != nil {
		metrics.IncFeedMessagesInvalid()
		f.log.Debug("Invalid opportunity", zap.Error(err))
		return
	}
	f.log.Debug("Opportunity received", zap.String("opportunity", id))
}
