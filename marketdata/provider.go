// Package marketdata provides market conditions for the risk models
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flashbots/mev-bundler/bundler"
	"github.com/flashbots/mev-bundler/metrics"
	"github.com/flashbots/mev-bundler/spike"
	"github.com/ybbus/jsonrpc/v3"
)

const (
	GetConditionsMethodName = "market_getConditions"

	conditionsKey = "conditions"
)

var ErrInvalidConditions = errors.New("invalid market conditions")

// StaticProvider always returns the same conditions, only the timestamp follows the clock
type StaticProvider struct {
	conditions bundler.MarketConditions
	now        func() time.Time
}

func NewStaticProvider(conditions bundler.MarketConditions) *StaticProvider {
	return &StaticProvider{conditions: conditions, now: time.Now}
}

func (p *StaticProvider) MarketConditions(ctx context.Context) (bundler.MarketConditions, error) {
	conditions := p.conditions
	conditions.Timestamp = p.now()
	return conditions, nil
}

type conditionsResponse struct {
	Congestion      float64            `json:"congestion"`
	DataQuality     float64            `json:"dataQuality"`
	TokenVolatility map[string]float64 `json:"tokenVolatility"`
	TokenPricesUSD  map[string]float64 `json:"tokenPricesUsd"`
	NativePriceUSD  float64            `json:"nativePriceUsd"`
}

// JSONRPCProvider fetches conditions from a market data service.
// Concurrent callers share one request and results are cached for a short time.
type JSONRPCProvider struct {
	endpoint string
	client   jsonrpc.RPCClient
	manager  *spike.Manager[bundler.MarketConditions]
}

func NewJSONRPCProvider(endpoint string, cacheTime, errorCacheTime, fetchTimeout time.Duration) *JSONRPCProvider {
	p := &JSONRPCProvider{
		endpoint: endpoint,
		client:   jsonrpc.NewClient(endpoint),
	}
	p.manager = spike.NewManager(p.fetch, cacheTime, errorCacheTime)
	p.manager.SetFetchTimeout(fetchTimeout)
	return p
}

func (p *JSONRPCProvider) String() string {
	return p.endpoint
}

func (p *JSONRPCProvider) MarketConditions(ctx context.Context) (bundler.MarketConditions, error) {
	return p.manager.GetResult(ctx, conditionsKey)
}

func (p *JSONRPCProvider) fetch(ctx context.Context, _ string) (bundler.MarketConditions, error) {
	startAt := time.Now()
	defer func() {
		metrics.RecordMarketDataFetchDuration(time.Since(startAt).Milliseconds())
	}()

	var resp conditionsResponse
	err := p.client.CallFor(ctx, &resp, GetConditionsMethodName)
	if err != nil {
		metrics.IncMarketDataFetchFailure()
		return bundler.MarketConditions{}, err
	}
	if err := validateConditions(&resp); err != nil {
		metrics.IncMarketDataFetchFailure()
		return bundler.MarketConditions{}, err
	}

	return bundler.MarketConditions{
		Congestion:      resp.Congestion,
		DataQuality:     resp.DataQuality,
		TokenVolatility: resp.TokenVolatility,
		TokenPricesUSD:  resp.TokenPricesUSD,
		NativePriceUSD:  resp.NativePriceUSD,
		Timestamp:       startAt,
	}, nil
}

func validateConditions(resp *conditionsResponse) error {
	if resp.Congestion < 0 || resp.Congestion > 1 {
		return fmt.Errorf("%w: congestion %v out of [0,1]", ErrInvalidConditions, resp.Congestion)
	}
	if resp.DataQuality < 0 || resp.DataQuality > 1 {
		return fmt.Errorf("%w: data quality %v out of [0,1]", ErrInvalidConditions, resp.DataQuality)
	}
	if resp.NativePriceUSD < 0 {
		return fmt.Errorf("%w: negative native price", ErrInvalidConditions)
	}
	return nil
}
