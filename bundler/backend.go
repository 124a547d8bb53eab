package bundler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ybbus/jsonrpc/v3"
)

var (
	ErrNoRelays                = errors.New("no relays configured")
	ErrUnknownSubmissionStatus = errors.New("unknown submission status")
)

const (
	SendBundleMethodName    = "mev_sendBundle"
	RelayBundleStatusMethod = "mev_getBundleStatus"
	simulatedRelayURLScheme = "simulated://"
)

// RelayBackend is a block production relay that accepts bundles
type RelayBackend interface {
	String() string
	SubmitBundle(ctx context.Context, bundle *Bundle, assessment *RiskAssessment) (SubmissionHandle, error)
	BundleStatus(ctx context.Context, handle SubmissionHandle) (SubmissionStatus, error)
}

type SendBundleArgs struct {
	BundleHash   string          `json:"bundleHash"`
	Transactions []Opportunity   `json:"transactions"`
	Plan         []ExecutionStep `json:"plan"`
	Tip          string          `json:"tip"`
	NetProfit    string          `json:"netProfit"`
	RiskLevel    RiskLevel       `json:"riskLevel,omitempty"`
}

type SendBundleResponse struct {
	ID                      string  `json:"id"`
	EstimatedConfirmationMs int64   `json:"estimatedConfirmationMs"`
	SuccessProbability      float64 `json:"successProbability"`
}

type BundleStatusResponse struct {
	Status SubmissionStatus `json:"status"`
}

type JSONRPCRelay struct {
	name   string
	url    string
	client jsonrpc.RPCClient
}

func NewJSONRPCRelay(name, url string) *JSONRPCRelay {
	return &JSONRPCRelay{
		name:   name,
		url:    url,
		client: jsonrpc.NewClient(url),
	}
}

func (r *JSONRPCRelay) String() string {
	return r.name
}

func (r *JSONRPCRelay) SubmitBundle(ctx context.Context, bundle *Bundle, assessment *RiskAssessment) (SubmissionHandle, error) {
	args := SendBundleArgs{
		BundleHash:   bundle.Hash.Hex(),
		Transactions: bundle.Opportunities,
		Plan:         bundle.Plan,
		Tip:          bundle.Tip.String(),
		NetProfit:    bundle.NetProfit.String(),
	}
	if assessment != nil {
		args.RiskLevel = assessment.Level
	}

	var result SendBundleResponse
	err := r.client.CallFor(ctx, &result, SendBundleMethodName, []SendBundleArgs{args})
	if err != nil {
		return SubmissionHandle{}, err
	}
	return SubmissionHandle{
		ID:                    result.ID,
		Relay:                 r.name,
		BundleHash:            bundle.Hash,
		EstimatedConfirmation: time.Duration(result.EstimatedConfirmationMs) * time.Millisecond,
		SuccessProbability:    result.SuccessProbability,
		SubmittedAt:           time.Now(),
		Status:                SubmissionPending,
	}, nil
}

func (r *JSONRPCRelay) BundleStatus(ctx context.Context, handle SubmissionHandle) (SubmissionStatus, error) {
	var result BundleStatusResponse
	err := r.client.CallFor(ctx, &result, RelayBundleStatusMethod, []string{handle.ID})
	if err != nil {
		return "", err
	}
	switch result.Status {
	case SubmissionPending, SubmissionConfirmed, SubmissionFailed, SubmissionExpired:
		return result.Status, nil
	default:
		return "", ErrUnknownSubmissionStatus
	}
}

// NewRelayBackends creates relay backends for the enabled relays of the config.
// Relays with the simulated:// url are served by SimulatedRelay.
func NewRelayBackends(relays []RelayConfig, market MarketDataProvider) ([]RelayBackend, error) {
	res := make([]RelayBackend, 0, len(relays))
	for _, relay := range relays {
		if relay.Disabled {
			continue
		}
		if strings.HasPrefix(relay.URL, simulatedRelayURLScheme) {
			res = append(res, NewSimulatedRelay(relay.Name, market, nil))
			continue
		}
		res = append(res, NewJSONRPCRelay(relay.Name, relay.URL))
	}
	if len(res) == 0 {
		return nil, ErrNoRelays
	}
	return res, nil
}
