package bundler

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field")
)

// ValidateOpportunity checks the wire opportunity and returns its normalized form.
// Opportunity without an id gets a random one, without discovery time gets now.
func ValidateOpportunity(args *OpportunityArgs, now time.Time) (Opportunity, error) {
	if args == nil {
		return Opportunity{}, fmt.Errorf("%w: opportunity", ErrMissingField)
	}
	if args.Strategy == StrategyUnknown {
		return Opportunity{}, fmt.Errorf("%w: strategy", ErrMissingField)
	}
	if _, ok := strategyNames[args.Strategy]; !ok {
		return Opportunity{}, fmt.Errorf("%w: strategy", ErrInvalidField)
	}
	if args.Profit == nil {
		return Opportunity{}, fmt.Errorf("%w: profit", ErrMissingField)
	}
	if args.GasCost == nil {
		return Opportunity{}, fmt.Errorf("%w: gasCost", ErrMissingField)
	}
	if args.RiskScore == nil {
		return Opportunity{}, fmt.Errorf("%w: riskScore", ErrMissingField)
	}
	if args.Venue == "" {
		return Opportunity{}, fmt.Errorf("%w: venue", ErrMissingField)
	}
	if len(args.Legs) == 0 {
		return Opportunity{}, fmt.Errorf("%w: legs", ErrMissingField)
	}

	if args.Profit.IsNegative() {
		return Opportunity{}, fmt.Errorf("%w: profit is negative", ErrInvalidField)
	}
	if args.GasCost.IsNegative() {
		return Opportunity{}, fmt.Errorf("%w: gasCost is negative", ErrInvalidField)
	}
	if risk := *args.RiskScore; math.IsNaN(risk) || risk < 0 || risk > MaxRiskScore {
		return Opportunity{}, fmt.Errorf("%w: riskScore %v out of [0,10]", ErrInvalidField, risk)
	}
	if args.Slippage < 0 {
		return Opportunity{}, fmt.Errorf("%w: slippage is negative", ErrInvalidField)
	}
	for i, leg := range args.Legs {
		if leg.Mint == "" {
			return Opportunity{}, fmt.Errorf("%w: legs[%d].mint", ErrMissingField, i)
		}
		if leg.Direction != LegIn && leg.Direction != LegOut {
			return Opportunity{}, fmt.Errorf("%w: legs[%d].direction", ErrInvalidField, i)
		}
		if leg.Amount.IsNegative() {
			return Opportunity{}, fmt.Errorf("%w: legs[%d].amount is negative", ErrInvalidField, i)
		}
	}

	opp := Opportunity{
		ID:           args.ID,
		Strategy:     args.Strategy,
		Venue:        args.Venue,
		Legs:         append([]TokenLeg(nil), args.Legs...),
		Profit:       *args.Profit,
		GasCost:      *args.GasCost,
		RiskScore:    *args.RiskScore,
		Slippage:     args.Slippage,
		DiscoveredAt: now,
	}
	if opp.ID == "" {
		opp.ID = uuid.Must(uuid.NewRandom()).String()
	}
	if args.DiscoveredAt != nil && !args.DiscoveredAt.IsZero() {
		opp.DiscoveredAt = *args.DiscoveredAt
	}
	return opp, nil
}
