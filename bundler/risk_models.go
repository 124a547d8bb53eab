package bundler

import (
	"math"
	"strings"
	"time"
)

// CategoryModelFunc adapts a function to the CategoryModel interface
type CategoryModelFunc struct {
	Name RiskCategory
	Fn   func(bundle *Bundle, market MarketConditions) (float64, error)
}

func (f CategoryModelFunc) Category() RiskCategory {
	return f.Name
}

func (f CategoryModelFunc) Score(bundle *Bundle, market MarketConditions) (float64, error) {
	if len(bundle.Opportunities) == 0 {
		return 0, ErrEmptyBundle
	}
	return f.Fn(bundle, market)
}

func DefaultCategoryModels() []CategoryModel {
	return []CategoryModel{
		CategoryModelFunc{RiskExecution, executionRisk},
		CategoryModelFunc{RiskMarket, marketRisk},
		CategoryModelFunc{RiskLiquidity, liquidityRisk},
		CategoryModelFunc{RiskCompetition, competitionRisk},
		CategoryModelFunc{RiskTechnical, technicalRisk},
		CategoryModelFunc{RiskSlippage, slippageRisk},
		CategoryModelFunc{RiskGas, gasRisk},
		CategoryModelFunc{RiskTiming, timingRisk},
	}
}

// well known mints, tables below are keyed by symbol
var mintSymbols = map[string]string{
	"So11111111111111111111111111111111111111112":  "SOL",
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":  "MSOL",
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN":  "JUP",
	"4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R": "RAY",
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": "BONK",
	"EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm": "WIF",
}

func tokenSymbol(mint string) string {
	if symbol, ok := mintSymbols[mint]; ok {
		return symbol
	}
	return strings.ToUpper(mint)
}

var (
	tokenVolatility = map[string]float64{
		"USDC": 0.2,
		"USDT": 0.2,
		"SOL":  2.5,
		"MSOL": 2.5,
		"JUP":  4,
		"RAY":  4,
		"BONK": 7,
		"WIF":  7,
	}
	defaultTokenVolatility = 5.0

	venueReliability = map[string]float64{
		"raydium":  0.95,
		"orca":     0.97,
		"jupiter":  0.96,
		"meteora":  0.92,
		"phoenix":  0.94,
		"openbook": 0.90,
		"solend":   0.93,
		"marginfi": 0.94,
		"kamino":   0.94,
	}
	defaultVenueReliability = 0.85

	venueDepth = map[string]float64{
		"jupiter":  0.95,
		"raydium":  0.9,
		"orca":     0.85,
		"phoenix":  0.75,
		"meteora":  0.7,
		"openbook": 0.65,
		"solend":   0.7,
		"marginfi": 0.7,
		"kamino":   0.7,
	}
	defaultVenueDepth = 0.5

	lowLiquidityTokens = map[string]struct{}{"BONK": {}, "WIF": {}, "SAMO": {}}
	popularTokens      = map[string]struct{}{"SOL": {}, "USDC": {}, "USDT": {}, "JUP": {}, "BONK": {}}

	correlatedPairs = [][2]string{
		{"SOL", "MSOL"},
		{"USDC", "USDT"},
		{"JUP", "SOL"},
	}

	competitionIntensity = map[StrategyKind]float64{
		StrategySandwich:    0.9,
		StrategyArbitrage:   0.7,
		StrategyLiquidation: 0.6,
		StrategySwap:        0.3,
		StrategyFlashLoan:   0.2,
	}

	timingSensitivity = map[StrategyKind]float64{
		StrategySandwich:    1.0,
		StrategyArbitrage:   0.8,
		StrategyLiquidation: 0.6,
		StrategyFlashLoan:   0.4,
		StrategySwap:        0.3,
	}
)

func lookupVenue(table map[string]float64, venue string, def float64) float64 {
	if v, ok := table[strings.ToLower(venue)]; ok {
		return v
	}
	return def
}

func volatility(mint string, market MarketConditions) float64 {
	if v, ok := market.TokenVolatility[mint]; ok {
		return v
	}
	if v, ok := tokenVolatility[tokenSymbol(mint)]; ok {
		return v
	}
	return defaultTokenVolatility
}

func congestionPenalty(market MarketConditions) float64 {
	return math.Max(0, math.Min(1, market.Congestion)) * 4
}

func bundleMints(bundle *Bundle) []string {
	seen := make(map[string]struct{})
	res := make([]string, 0)
	for i := range bundle.Opportunities {
		for _, mint := range bundle.Opportunities[i].Mints() {
			if _, ok := seen[mint]; ok {
				continue
			}
			seen[mint] = struct{}{}
			res = append(res, mint)
		}
	}
	return res
}

func gasToProfit(bundle *Bundle) float64 {
	profit := bundle.TotalProfit.InexactFloat64()
	if profit <= 0 {
		return math.Inf(1)
	}
	return bundle.TotalGas.InexactFloat64() / profit
}

func executionRisk(bundle *Bundle, market MarketConditions) (float64, error) {
	n := bundle.Size()
	score := math.Min(0.5*float64(n), 5)

	// repeated venues and token fan-out make the execution path fragile
	complexity := 0.0
	venueUse := make(map[string]int)
	consumers := make(map[string]int)
	reliability := 0.0
	for i := range bundle.Opportunities {
		opp := &bundle.Opportunities[i]
		venueUse[opp.Venue]++
		for mint := range opp.mintsWithDirection(LegIn) {
			consumers[mint]++
		}
		reliability += lookupVenue(venueReliability, opp.Venue, defaultVenueReliability)
	}
	for _, c := range venueUse {
		complexity += 0.3 * float64(c-1)
	}
	for _, c := range consumers {
		if c > 1 {
			complexity += 0.2 * float64(c-1)
		}
	}
	score += math.Min(complexity, 2)

	score += (1 - reliability/float64(n)) * 10

	score += math.Min(gasToProfit(bundle)*4, 2)
	score += congestionPenalty(market) * 0.5
	return score, nil
}

func marketRisk(bundle *Bundle, market MarketConditions) (float64, error) {
	mints := bundleMints(bundle)
	volatilitySum := 0.0
	symbols := make(map[string]struct{}, len(mints))
	for _, mint := range mints {
		volatilitySum += volatility(mint, market)
		symbols[tokenSymbol(mint)] = struct{}{}
	}
	score := math.Min(volatilitySum*0.5, 6)

	ts := market.Timestamp
	if ts.IsZero() {
		ts = bundle.CreatedAt
	}
	hourPenalty := 0.0
	switch hour := ts.UTC().Hour(); {
	case hour < 6:
		// thin books
		hourPenalty = 1
	case hour >= 13 && hour < 21:
		hourPenalty = 0.5
	}
	sensitivity := 0.0
	for i := range bundle.Opportunities {
		sensitivity += timingSensitivity[bundle.Opportunities[i].Strategy]
	}
	score += hourPenalty * sensitivity / float64(bundle.Size())

	for _, pair := range correlatedPairs {
		_, a := symbols[pair[0]]
		_, b := symbols[pair[1]]
		if a && b {
			score++
		}
	}
	return score, nil
}

const nativeSymbol = "SOL"

func legNotionalUSD(leg TokenLeg, market MarketConditions) (float64, bool) {
	price, ok := market.TokenPricesUSD[leg.Mint]
	if !ok {
		price, ok = market.TokenPricesUSD[tokenSymbol(leg.Mint)]
	}
	if !ok && tokenSymbol(leg.Mint) == nativeSymbol && market.NativePriceUSD > 0 {
		price, ok = market.NativePriceUSD, true
	}
	if !ok {
		return 0, false
	}
	return leg.Amount.InexactFloat64() * price, true
}

// opportunityNotionalUSD sums the priced in legs, opportunities without a priced in leg
// are sized by their profit in native token
func opportunityNotionalUSD(opp *Opportunity, market MarketConditions) float64 {
	volume, priced := 0.0, false
	for _, leg := range opp.Legs {
		if leg.Direction != LegIn {
			continue
		}
		if v, ok := legNotionalUSD(leg, market); ok {
			volume += v
			priced = true
		}
	}
	if !priced {
		return opp.profit() * market.NativePriceUSD
	}
	return volume
}

func liquidityRisk(bundle *Bundle, market MarketConditions) (float64, error) {
	notional := 0.0
	weightedDepth := 0.0
	weights := 0.0
	lowLiquidity := make(map[string]struct{})
	for i := range bundle.Opportunities {
		opp := &bundle.Opportunities[i]
		volume := opportunityNotionalUSD(opp, market)
		for _, leg := range opp.Legs {
			if _, ok := lowLiquidityTokens[tokenSymbol(leg.Mint)]; ok {
				lowLiquidity[tokenSymbol(leg.Mint)] = struct{}{}
			}
		}
		notional += volume
		weight := volume
		if weight <= 0 {
			weight = 1
		}
		weightedDepth += lookupVenue(venueDepth, opp.Venue, defaultVenueDepth) * weight
		weights += weight
	}

	score := 0.5
	switch {
	case notional > 1_000_000:
		score = 4
	case notional > 500_000:
		score = 3
	case notional > 100_000:
		score = 2
	}
	score += (1 - weightedDepth/weights) * 6
	score += math.Min(1.5*float64(len(lowLiquidity)), 3)
	return score, nil
}

func competitionRisk(bundle *Bundle, _ MarketConditions) (float64, error) {
	score := 0.3
	switch profit := bundle.TotalProfit.InexactFloat64(); {
	case profit > 1:
		score = 3
	case profit > 0.5:
		score = 2
	case profit > 0.1:
		score = 1
	}

	popular := 0
	for _, mint := range bundleMints(bundle) {
		if _, ok := popularTokens[tokenSymbol(mint)]; ok {
			popular++
		}
	}
	score += math.Min(0.5*float64(popular), 2)

	intensity := 0.0
	for i := range bundle.Opportunities {
		intensity += competitionIntensity[bundle.Opportunities[i].Strategy]
	}
	score += intensity / float64(bundle.Size()) * 5
	return score, nil
}

func slippageRisk(bundle *Bundle, _ MarketConditions) (float64, error) {
	score := 0.0
	for i := range bundle.Opportunities {
		switch s := bundle.Opportunities[i].Slippage; {
		case s > 0.05:
			score += 2
		case s > 0.02:
			score++
		case s > 0.01:
			score += 0.5
		}
	}
	if bundle.Size() > 5 {
		score *= 1.2
	}
	return score, nil
}

func gasRisk(bundle *Bundle, market MarketConditions) (float64, error) {
	score := 1.0
	switch ratio := gasToProfit(bundle); {
	case ratio > 0.5:
		score = 8
	case ratio > 0.3:
		score = 6
	case ratio > 0.15:
		score = 4
	case ratio > 0.05:
		score = 2
	}
	return score + congestionPenalty(market)*0.5, nil
}

func timeSensitive(kind StrategyKind) bool {
	return kind == StrategySandwich || kind == StrategyArbitrage || kind == StrategyLiquidation
}

func timingRisk(bundle *Bundle, _ MarketConditions) (float64, error) {
	score := 0.0
	for i := range bundle.Opportunities {
		if timeSensitive(bundle.Opportunities[i].Strategy) {
			score += 0.8
		}
	}
	switch t := bundle.EstimatedExecutionTime; {
	case t > 20*time.Second:
		score += 3
	case t > 10*time.Second:
		score += 2
	case t > 5*time.Second:
		score++
	}
	return score, nil
}

func complexStrategy(kind StrategyKind) bool {
	return kind == StrategyFlashLoan || kind == StrategyLiquidation || kind == StrategySandwich
}

func technicalRisk(bundle *Bundle, _ MarketConditions) (float64, error) {
	score := 2.0
	for i := range bundle.Opportunities {
		if complexStrategy(bundle.Opportunities[i].Strategy) {
			score += 0.5
		}
	}
	if bundle.Size() > 8 {
		score += 2
	}
	return score, nil
}
