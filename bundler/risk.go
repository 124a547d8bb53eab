package bundler

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/mev-bundler/metrics"
	"go.uber.org/zap"
)

var (
	ErrEmptyBundle  = errors.New("bundle has no opportunities")
	ErrInvalidScore = errors.New("category score is not a number")
)

type RiskCategory string

const (
	RiskExecution   RiskCategory = "execution"
	RiskMarket      RiskCategory = "market"
	RiskLiquidity   RiskCategory = "liquidity"
	RiskCompetition RiskCategory = "competition"
	RiskTechnical   RiskCategory = "technical"
	RiskSlippage    RiskCategory = "slippage"
	RiskGas         RiskCategory = "gas"
	RiskTiming      RiskCategory = "timing"
)

// RiskCategories is the fixed order of the categories in an assessment
var RiskCategories = []RiskCategory{
	RiskExecution, RiskMarket, RiskLiquidity, RiskCompetition,
	RiskTechnical, RiskSlippage, RiskGas, RiskTiming,
}

var categoryWeights = map[RiskCategory]float64{
	RiskExecution:   0.25,
	RiskMarket:      0.20,
	RiskLiquidity:   0.15,
	RiskCompetition: 0.15,
	RiskTechnical:   0.10,
	RiskSlippage:    0.10,
	RiskGas:         0.03,
	RiskTiming:      0.02,
}

func CategoryWeight(category RiskCategory) float64 {
	return categoryWeights[category]
}

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelModerate RiskLevel = "MODERATE"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelExtreme  RiskLevel = "EXTREME"
)

func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score <= 2.5:
		return RiskLevelLow
	case score <= 5.0:
		return RiskLevelModerate
	case score <= 7.5:
		return RiskLevelHigh
	default:
		return RiskLevelExtreme
	}
}

const (
	neutralCategoryScore = 5.0

	baseConfidence     = 0.8
	minConfidence      = 0.3
	maxConfidence      = 0.95
	fallbackConfidence = 0.3

	richHistorySamples = 20
	poorHistorySamples = 5
)

// MarketConditions are the external inputs of the risk models
type MarketConditions struct {
	// Congestion of the network, 0 is idle, 1 is fully congested
	Congestion float64 `json:"congestion"`
	// DataQuality tells how complete and fresh the market data is, 0..1
	DataQuality     float64            `json:"dataQuality"`
	TokenVolatility map[string]float64 `json:"tokenVolatility,omitempty"`
	TokenPricesUSD  map[string]float64 `json:"tokenPricesUsd,omitempty"`
	NativePriceUSD  float64            `json:"nativePriceUsd"`
	Timestamp       time.Time          `json:"timestamp"`
}

// DefaultNativePriceUSD sizes bundles when no market data source is available
const DefaultNativePriceUSD = 150.0

// DefaultMarketConditions are used when no market data source is available
func DefaultMarketConditions(now time.Time) MarketConditions {
	return MarketConditions{
		Congestion:     0.3,
		DataQuality:    0.7,
		NativePriceUSD: DefaultNativePriceUSD,
		Timestamp:      now,
	}
}

type CategoryScore struct {
	Category RiskCategory `json:"category"`
	Score    float64      `json:"score"`
	Weight   float64      `json:"weight"`
	Weighted float64      `json:"weighted"`
	// Failed is set when the model failed and the neutral score was used
	Failed bool `json:"failed,omitempty"`
}

// RiskAssessment is created once per bundle and is never modified
type RiskAssessment struct {
	BundleHash      common.Hash     `json:"bundleHash"`
	Categories      []CategoryScore `json:"categories"`
	OverallRisk     float64         `json:"overallRisk"`
	Level           RiskLevel       `json:"level"`
	Confidence      float64         `json:"confidence"`
	Recommendations []string        `json:"recommendations"`
	Mitigations     []string        `json:"mitigations"`
	Fallback        bool            `json:"fallback,omitempty"`
	AssessedAt      time.Time       `json:"assessedAt"`
}

// Category returns the score of the category, false if it's not present
func (a *RiskAssessment) Category(category RiskCategory) (CategoryScore, bool) {
	for _, c := range a.Categories {
		if c.Category == category {
			return c, true
		}
	}
	return CategoryScore{}, false
}

func (a *RiskAssessment) FailedCategories() int {
	count := 0
	for _, c := range a.Categories {
		if c.Failed {
			count++
		}
	}
	return count
}

type CategoryModelError struct {
	Category RiskCategory
	Err      error
}

func (e *CategoryModelError) Error() string {
	return fmt.Sprintf("risk model %s failed: %v", e.Category, e.Err)
}

func (e *CategoryModelError) Unwrap() error {
	return e.Err
}

// CategoryModel scores one risk category of a bundle on a 0..10 scale
type CategoryModel interface {
	Category() RiskCategory
	Score(bundle *Bundle, market MarketConditions) (float64, error)
}

type riskSample struct {
	size        int
	overallRisk float64
}

// RiskAssessor runs the category models and keeps a bounded history of assessments.
// History is only used to estimate the confidence of future assessments.
type RiskAssessor struct {
	log       *zap.Logger
	tolerance float64
	models    []CategoryModel

	mu      sync.Mutex
	history []riskSample
	next    int
}

// NewRiskAssessor creates assessor with the given models, default models are used if none are given
func NewRiskAssessor(log *zap.Logger, tolerance float64, models ...CategoryModel) *RiskAssessor {
	if len(models) == 0 {
		models = DefaultCategoryModels()
	}
	return &RiskAssessor{
		log:       log.Named("risk"),
		tolerance: tolerance,
		models:    models,
		history:   make([]riskSample, 0, RiskHistorySize),
	}
}

func (r *RiskAssessor) scoreCategory(model CategoryModel, bundle *Bundle, market MarketConditions) (score float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	score, err = model.Score(bundle, market)
	if err == nil && math.IsNaN(score) {
		err = ErrInvalidScore
	}
	return clampScore(score), err
}

// Assess scores the bundle. Failing category models are replaced with a neutral score,
// if all of them fail a fixed fallback assessment is returned.
func (r *RiskAssessor) Assess(bundle *Bundle, market MarketConditions) *RiskAssessment {
	log := r.log.With(zap.String("bundle", bundle.Hash.Hex()))

	assessment := &RiskAssessment{
		BundleHash: bundle.Hash,
		Categories: make([]CategoryScore, 0, len(r.models)),
		AssessedAt: time.Now(),
	}

	failed := 0
	overall := 0.0
	for _, model := range r.models {
		category := model.Category()
		score, err := r.scoreCategory(model, bundle, market)
		entry := CategoryScore{
			Category: category,
			Weight:   CategoryWeight(category),
		}
		if err != nil {
			modelErr := &CategoryModelError{Category: category, Err: err}
			log.Warn("Risk model failed, using neutral score", zap.Error(modelErr))
			metrics.IncRiskCategoryFailure(string(category))
			score = neutralCategoryScore
			entry.Failed = true
			failed++
		}
		entry.Score = score
		entry.Weighted = score * entry.Weight
		overall += entry.Weighted
		assessment.Categories = append(assessment.Categories, entry)
	}

	if failed == len(r.models) {
		log.Error("All risk models failed, using fallback assessment")
		metrics.IncRiskFallbackAssessment()
		fallback := fallbackAssessment(bundle.Hash)
		r.record(bundle.Size(), fallback.OverallRisk)
		metrics.RecordRiskLevel(string(fallback.Level))
		return fallback
	}

	assessment.OverallRisk = clampScore(overall)
	assessment.Level = RiskLevelFor(assessment.OverallRisk)
	assessment.Confidence = r.confidence(bundle.Size(), market.DataQuality, failed)
	assessment.Recommendations = r.recommendations(assessment)
	assessment.Mitigations = mitigations(assessment, bundle)

	r.record(bundle.Size(), assessment.OverallRisk)
	metrics.RecordRiskLevel(string(assessment.Level))

	log.Debug("Bundle risk assessed",
		zap.Float64("overallRisk", assessment.OverallRisk),
		zap.String("level", string(assessment.Level)),
		zap.Float64("confidence", assessment.Confidence),
		zap.Int("failedCategories", failed),
	)
	return assessment
}

func fallbackAssessment(hash common.Hash) *RiskAssessment {
	res := &RiskAssessment{
		BundleHash:      hash,
		Categories:      make([]CategoryScore, 0, len(RiskCategories)),
		Level:           RiskLevelModerate,
		Confidence:      fallbackConfidence,
		Recommendations: []string{"risk models unavailable, review bundle before submission"},
		Mitigations:     []string{},
		Fallback:        true,
		AssessedAt:      time.Now(),
	}
	for _, category := range RiskCategories {
		weight := CategoryWeight(category)
		res.Categories = append(res.Categories, CategoryScore{
			Category: category,
			Score:    neutralCategoryScore,
			Weight:   weight,
			Weighted: neutralCategoryScore * weight,
			Failed:   true,
		})
		res.OverallRisk += neutralCategoryScore * weight
	}
	return res
}

func (r *RiskAssessor) record(size int, overall float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sample := riskSample{size: size, overallRisk: overall}
	if len(r.history) < RiskHistorySize {
		r.history = append(r.history, sample)
		return
	}
	r.history[r.next] = sample
	r.next = (r.next + 1) % RiskHistorySize
}

func (r *RiskAssessor) samplesForSize(size int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.history {
		if s.size == size {
			count++
		}
	}
	return count
}

// HistoryLen returns the number of assessments kept in history
func (r *RiskAssessor) HistoryLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

func (r *RiskAssessor) confidence(size int, dataQuality float64, failed int) float64 {
	confidence := baseConfidence

	switch samples := r.samplesForSize(size); {
	case samples >= richHistorySamples:
		confidence += 0.1
	case samples < poorHistorySamples:
		confidence -= 0.1
	}

	switch {
	case dataQuality < 0.5:
		confidence -= 0.2
	case dataQuality < 0.8:
		confidence -= 0.1
	case dataQuality >= 0.95:
		confidence += 0.05
	}

	switch {
	case size > 8:
		confidence -= 0.15
	case size > 5:
		confidence -= 0.1
	}

	confidence -= 0.1 * float64(failed)

	return math.Max(minConfidence, math.Min(maxConfidence, confidence))
}

func (r *RiskAssessor) recommendations(a *RiskAssessment) []string {
	res := make([]string, 0)
	if a.OverallRisk > r.tolerance {
		res = append(res, "reduce bundle size")
	}
	for _, c := range a.Categories {
		if c.Failed {
			continue
		}
		switch {
		case c.Category == RiskExecution && c.Score > 7:
			res = append(res, "split the bundle or avoid unreliable venues")
		case c.Category == RiskMarket && c.Score > 7:
			res = append(res, "wait for calmer market conditions")
		case c.Category == RiskLiquidity && c.Score > 7:
			res = append(res, "reduce position sizes")
		case c.Category == RiskCompetition && c.Score > 7:
			res = append(res, "increase tip to outbid competing searchers")
		case c.Category == RiskSlippage && c.Score > 6:
			res = append(res, "tighten slippage limits")
		case c.Category == RiskGas && c.Score > 6:
			res = append(res, "optimize ordering or choose cheaper venues")
		case c.Category == RiskTiming && c.Score > 6:
			res = append(res, "shorten the execution path")
		case c.Category == RiskTechnical && c.Score > 7:
			res = append(res, "simulate the bundle before submission")
		}
	}
	if a.Confidence < 0.5 {
		res = append(res, "collect more market data before submitting")
	}
	return res
}

var categoryMitigations = map[RiskCategory]string{
	RiskExecution:   "add fallback routes for unreliable venues",
	RiskMarket:      "hedge exposure to volatile tokens",
	RiskLiquidity:   "route through deeper liquidity venues",
	RiskCompetition: "submit through private relays only",
	RiskTechnical:   "run a pre-submission simulation",
	RiskSlippage:    "set minimum output amounts on every swap",
	RiskGas:         "cap the priority fee",
	RiskTiming:      "set a tight validity window",
}

func mitigations(a *RiskAssessment, bundle *Bundle) []string {
	res := make([]string, 0)
	for _, c := range a.Categories {
		if c.Failed || c.Score <= 5 {
			continue
		}
		if m, ok := categoryMitigations[c.Category]; ok {
			res = append(res, m)
		}
	}
	seen := make(map[RollbackStrategy]struct{})
	for _, step := range bundle.Plan {
		if step.Rollback == RollbackNone {
			continue
		}
		if _, ok := seen[step.Rollback]; ok {
			continue
		}
		seen[step.Rollback] = struct{}{}
		res = append(res, "rollback: "+string(step.Rollback))
	}
	return res
}

func clampScore(score float64) float64 {
	if math.IsNaN(score) {
		return neutralCategoryScore
	}
	return math.Max(0, math.Min(MaxRiskScore, score))
}
