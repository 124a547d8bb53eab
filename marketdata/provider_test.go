package marketdata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flashbots/mev-bundler/bundler"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewStaticProvider(bundler.MarketConditions{
		Congestion:     0.6,
		DataQuality:    0.9,
		NativePriceUSD: 140,
	})
	p.now = func() time.Time { return now }

	conditions, err := p.MarketConditions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.6, conditions.Congestion)
	require.Equal(t, 0.9, conditions.DataQuality)
	require.Equal(t, now, conditions.Timestamp)
}

func marketServer(t *testing.T, result string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req struct {
			Method string          `json:"method"`
			ID     json.RawMessage `json:"id"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, GetConditionsMethodName, req.Method)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
}

func TestJSONRPCProvider(t *testing.T) {
	var calls atomic.Int32
	server := marketServer(t, `{"congestion":0.45,"dataQuality":0.8,"tokenVolatility":{"BONK":7.5},"nativePriceUsd":142.5}`, &calls)
	defer server.Close()

	p := NewJSONRPCProvider(server.URL, time.Minute, time.Second, time.Second)
	require.Equal(t, server.URL, p.String())

	conditions, err := p.MarketConditions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.45, conditions.Congestion)
	require.Equal(t, 0.8, conditions.DataQuality)
	require.Equal(t, 7.5, conditions.TokenVolatility["BONK"])
	require.Equal(t, 142.5, conditions.NativePriceUSD)
	require.False(t, conditions.Timestamp.IsZero())

	_, err = p.MarketConditions(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestJSONRPCProvider_InvalidConditions(t *testing.T) {
	var calls atomic.Int32
	server := marketServer(t, `{"congestion":1.5,"dataQuality":0.8}`, &calls)
	defer server.Close()

	p := NewJSONRPCProvider(server.URL, time.Minute, time.Minute, time.Second)
	_, err := p.MarketConditions(context.Background())
	require.ErrorIs(t, err, ErrInvalidConditions)

	// the failure is cached as well
	_, err = p.MarketConditions(context.Background())
	require.ErrorIs(t, err, ErrInvalidConditions)
	require.Equal(t, int32(1), calls.Load())
}

func TestValidateConditions(t *testing.T) {
	testCases := map[string]struct {
		resp  conditionsResponse
		valid bool
	}{
		"valid":               {resp: conditionsResponse{Congestion: 0.2, DataQuality: 1}, valid: true},
		"negative congestion": {resp: conditionsResponse{Congestion: -0.1}},
		"quality above one":   {resp: conditionsResponse{DataQuality: 1.01}},
		"negative price":      {resp: conditionsResponse{NativePriceUSD: -1}},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			err := validateConditions(&testCase.resp)
			if testCase.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidConditions)
			}
		})
	}
}
