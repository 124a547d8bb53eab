package bundler

import (
	"context"
	"sync"
	"time"

	"github.com/flashbots/mev-bundler/metrics"
	"go.uber.org/zap"
)

// Signals emitted by the pool
const (
	EventOpportunityAdded   = "opportunity_added"
	EventOpportunityEvicted = "opportunity_evicted"
	EventOpportunityExpired = "opportunity_expired"
	EventBundleAccepted     = "bundle_accepted"
	EventBundleRejected     = "bundle_rejected"
)

var eventPublishTimeout = 500 * time.Millisecond

// Event is published to the EventBackend for observability
type Event struct {
	Type          string    `json:"type"`
	OpportunityID string    `json:"opportunityId,omitempty"`
	BundleHash    string    `json:"bundleHash,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventBackend receives pool and engine signals
type EventBackend interface {
	PublishEvent(ctx context.Context, event Event) error
}

type NoopEventBackend struct{}

func (NoopEventBackend) PublishEvent(context.Context, Event) error { return nil }

// Pool is a bounded FIFO of pending opportunities.
// When the pool is full the oldest opportunity is dropped.
type Pool struct {
	log    *zap.Logger
	events EventBackend

	mu       sync.Mutex
	items    []Opportunity
	capacity int
	ttl      time.Duration
}

func NewPool(log *zap.Logger, events EventBackend, capacity int, ttl time.Duration) *Pool {
	if events == nil {
		events = NoopEventBackend{}
	}
	return &Pool{
		log:      log.Named("pool"),
		events:   events,
		items:    make([]Opportunity, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

func (p *Pool) Add(opp Opportunity) {
	var evicted []Opportunity

	p.mu.Lock()
	// same id replaces the old entry
	for i := range p.items {
		if p.items[i].ID == opp.ID {
			p.items = append(p.items[:i], p.items[i+1:]...)
			break
		}
	}
	if over := len(p.items) + 1 - p.capacity; over > 0 {
		evicted = append(evicted, p.items[:over]...)
		p.items = append(p.items[:0], p.items[over:]...)
	}
	p.items = append(p.items, opp.clone())
	size := len(p.items)
	p.mu.Unlock()

	metrics.SetPoolSize(size)
	p.publish(Event{Type: EventOpportunityAdded, OpportunityID: opp.ID, Timestamp: time.Now()})
	for _, e := range evicted {
		metrics.IncOpportunitiesEvicted()
		p.log.Debug("Pool is full, evicted oldest opportunity", zap.String("opportunity", e.ID))
		p.publish(Event{Type: EventOpportunityEvicted, OpportunityID: e.ID, Timestamp: time.Now()})
	}
}

// Sweep removes opportunities discovered more than ttl before now
func (p *Pool) Sweep(now time.Time) []Opportunity {
	p.mu.Lock()
	var expired []Opportunity
	kept := p.items[:0]
	for _, opp := range p.items {
		if now.Sub(opp.DiscoveredAt) > p.ttl {
			expired = append(expired, opp)
			continue
		}
		kept = append(kept, opp)
	}
	p.items = kept
	size := len(p.items)
	p.mu.Unlock()

	metrics.SetPoolSize(size)
	for _, opp := range expired {
		metrics.IncOpportunitiesExpired()
		p.publish(Event{Type: EventOpportunityExpired, OpportunityID: opp.ID, Timestamp: now})
	}
	return expired
}

// Snapshot returns a copy of the pool content, entries older than ttl are not included
func (p *Pool) Snapshot(now time.Time) []Opportunity {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := make([]Opportunity, 0, len(p.items))
	for _, opp := range p.items {
		if now.Sub(opp.DiscoveredAt) > p.ttl {
			continue
		}
		res = append(res, opp.clone())
	}
	return res
}

// Remove drops consumed opportunities, returns the number of removed entries
func (p *Pool) Remove(ids ...string) int {
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}

	p.mu.Lock()
	kept := p.items[:0]
	for _, opp := range p.items {
		if _, ok := remove[opp.ID]; ok {
			continue
		}
		kept = append(kept, opp)
	}
	removed := len(p.items) - len(kept)
	p.items = kept
	size := len(p.items)
	p.mu.Unlock()

	metrics.SetPoolSize(size)
	return removed
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *Pool) publish(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()
	if err := p.events.PublishEvent(ctx, event); err != nil {
		p.log.Debug("Failed to publish pool event", zap.String("type", event.Type), zap.Error(err))
	}
}
