package bundler

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func leg(mint string, dir LegDirection, amount string) TokenLeg {
	return TokenLeg{Mint: mint, Direction: dir, Amount: decimal.RequireFromString(amount)}
}

func testOpportunity(id string, strategy StrategyKind, venue, profit, gas string, risk float64, legs ...TokenLeg) Opportunity {
	return Opportunity{
		ID:           id,
		Strategy:     strategy,
		Venue:        venue,
		Legs:         legs,
		Profit:       decimal.RequireFromString(profit),
		GasCost:      decimal.RequireFromString(gas),
		RiskScore:    risk,
		Slippage:     0.005,
		DiscoveredAt: testNow,
	}
}

func testArgs(opp Opportunity) *OpportunityArgs {
	profit, gas, risk := opp.Profit, opp.GasCost, opp.RiskScore
	discovered := opp.DiscoveredAt
	return &OpportunityArgs{
		ID:           opp.ID,
		Strategy:     opp.Strategy,
		Venue:        opp.Venue,
		Legs:         opp.Legs,
		Profit:       &profit,
		GasCost:      &gas,
		RiskScore:    &risk,
		Slippage:     opp.Slippage,
		DiscoveredAt: &discovered,
	}
}

func testEngineConfig() EngineConfig {
	return DefaultConfig().Engine
}

type recordingEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEvents) PublishEvent(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]string, len(r.events))
	for i, e := range r.events {
		res[i] = e.Type
	}
	return res
}
