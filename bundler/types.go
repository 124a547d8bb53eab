package bundler

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidStrategy  = errors.New("invalid strategy kind")
	ErrInvalidDirection = errors.New("invalid leg direction")
)

const (
	SubmitOpportunityEndpointName = "mev_submitOpportunity"
	GetBundleStatusEndpointName   = "mev_getBundleStatus"
)

// StrategyKind is the kind of strategy that produced an opportunity
// its marshalled as a string
type StrategyKind uint8

const (
	StrategyUnknown StrategyKind = iota
	StrategyArbitrage
	StrategySandwich
	StrategyLiquidation
	StrategyFlashLoan
	StrategySwap
)

var strategyNames = map[StrategyKind]string{
	StrategyArbitrage:   "arbitrage",
	StrategySandwich:    "sandwich",
	StrategyLiquidation: "liquidation",
	StrategyFlashLoan:   "flash-loan",
	StrategySwap:        "swap",
}

func (s StrategyKind) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

func ParseStrategyKind(str string) (StrategyKind, error) {
	for kind, name := range strategyNames {
		if name == str {
			return kind, nil
		}
	}
	return StrategyUnknown, ErrInvalidStrategy
}

func (s StrategyKind) MarshalJSON() ([]byte, error) {
	if s == StrategyUnknown {
		return json.Marshal("")
	}
	return json.Marshal(s.String())
}

func (s *StrategyKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = StrategyUnknown
		return nil
	}
	kind, err := ParseStrategyKind(str)
	if err != nil {
		return err
	}
	*s = kind
	return nil
}

// LegDirection tells if a token enters (is consumed by) or leaves (is produced by) a transaction
type LegDirection uint8

const (
	LegIn LegDirection = iota + 1
	LegOut
)

func (d LegDirection) String() string {
	switch d {
	case LegIn:
		return "in"
	case LegOut:
		return "out"
	default:
		return "unknown"
	}
}

func (d LegDirection) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *LegDirection) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "in":
		*d = LegIn
	case "out":
		*d = LegOut
	default:
		return ErrInvalidDirection
	}
	return nil
}

type TokenLeg struct {
	Mint      string          `json:"mint"`
	Direction LegDirection    `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
}

// Opportunity is a validated candidate action waiting in the pool
type Opportunity struct {
	ID           string          `json:"id"`
	Strategy     StrategyKind    `json:"strategy"`
	Venue        string          `json:"venue"`
	Legs         []TokenLeg      `json:"legs"`
	Profit       decimal.Decimal `json:"profit"`
	GasCost      decimal.Decimal `json:"gasCost"`
	RiskScore    float64         `json:"riskScore"`
	Slippage     float64         `json:"slippage"`
	DiscoveredAt time.Time       `json:"discoveredAt"`
}

func (o *Opportunity) profit() float64 {
	return o.Profit.InexactFloat64()
}

func (o *Opportunity) gas() float64 {
	return o.GasCost.InexactFloat64()
}

// Mints returns the distinct token mints touched by the opportunity
func (o *Opportunity) Mints() []string {
	seen := make(map[string]struct{}, len(o.Legs))
	mints := make([]string, 0, len(o.Legs))
	for _, leg := range o.Legs {
		if _, ok := seen[leg.Mint]; ok {
			continue
		}
		seen[leg.Mint] = struct{}{}
		mints = append(mints, leg.Mint)
	}
	return mints
}

func (o *Opportunity) mintsWithDirection(dir LegDirection) map[string]struct{} {
	res := make(map[string]struct{})
	for _, leg := range o.Legs {
		if leg.Direction == dir {
			res[leg.Mint] = struct{}{}
		}
	}
	return res
}

// SharesMint returns true if both opportunities touch at least one common token
func (o *Opportunity) SharesMint(other *Opportunity) bool {
	for _, a := range o.Legs {
		for _, b := range other.Legs {
			if a.Mint == b.Mint {
				return true
			}
		}
	}
	return false
}

// Produces returns true if o has an out leg whose mint is an in leg of other
func (o *Opportunity) Produces(other *Opportunity) bool {
	outs := o.mintsWithDirection(LegOut)
	if len(outs) == 0 {
		return false
	}
	for _, leg := range other.Legs {
		if leg.Direction != LegIn {
			continue
		}
		if _, ok := outs[leg.Mint]; ok {
			return true
		}
	}
	return false
}

func (o Opportunity) clone() Opportunity {
	res := o
	res.Legs = append([]TokenLeg(nil), o.Legs...)
	return res
}

// OpportunityArgs is the wire form of an opportunity as sent by detectors.
// Pointer fields are used to tell a missing value from a zero one.
type OpportunityArgs struct {
	ID           string           `json:"id,omitempty"`
	Strategy     StrategyKind     `json:"strategy"`
	Venue        string           `json:"venue"`
	Legs         []TokenLeg       `json:"legs"`
	Profit       *decimal.Decimal `json:"profit"`
	GasCost      *decimal.Decimal `json:"gasCost"`
	RiskScore    *float64         `json:"riskScore"`
	Slippage     float64          `json:"slippage,omitempty"`
	DiscoveredAt *time.Time       `json:"discoveredAt,omitempty"`
}

type SubmitOpportunityResponse struct {
	ID string `json:"id"`
}

// BundleStatus is the lifecycle state of a bundle
type BundleStatus string

const (
	BundleConstructed BundleStatus = "constructed"
	BundleValidated   BundleStatus = "validated"
	BundleAccepted    BundleStatus = "accepted"
	BundleRejected    BundleStatus = "rejected"
	BundleSubmitted   BundleStatus = "submitted"
	BundleConfirmed   BundleStatus = "confirmed"
	BundleFailed      BundleStatus = "failed"
	BundleExpired     BundleStatus = "expired"
)

// SubmissionStatus is the status reported by a relay for a submitted bundle
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionConfirmed SubmissionStatus = "confirmed"
	SubmissionFailed    SubmissionStatus = "failed"
	SubmissionExpired   SubmissionStatus = "expired"
)

func (s SubmissionStatus) Final() bool {
	return s == SubmissionConfirmed || s == SubmissionFailed || s == SubmissionExpired
}

func (s SubmissionStatus) BundleStatus() BundleStatus {
	switch s {
	case SubmissionConfirmed:
		return BundleConfirmed
	case SubmissionFailed:
		return BundleFailed
	case SubmissionExpired:
		return BundleExpired
	default:
		return BundleSubmitted
	}
}

// SubmissionHandle is returned by a relay for every submitted bundle
type SubmissionHandle struct {
	ID                    string        `json:"id"`
	Relay                 string        `json:"relay"`
	BundleHash            common.Hash   `json:"bundleHash"`
	EstimatedConfirmation time.Duration `json:"estimatedConfirmation"`
	SuccessProbability    float64       `json:"successProbability"`
	SubmittedAt           time.Time     `json:"submittedAt"`
	// Status is the last status reported by the relay
	Status SubmissionStatus `json:"status"`
}

// SubmissionRecord is what the node knows about a submitted bundle
type SubmissionRecord struct {
	Bundle     *Bundle            `json:"bundle"`
	Assessment *RiskAssessment    `json:"assessment,omitempty"`
	Handles    []SubmissionHandle `json:"handles"`
	Status     BundleStatus       `json:"status"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}
