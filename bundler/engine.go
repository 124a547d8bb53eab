package bundler

import (
	"context"
	"errors"
	"time"

	"github.com/flashbots/mev-bundler/metrics"
	"go.uber.org/zap"
)

var ErrCycleTimeout = errors.New("bundle construction timed out")

// MarketDataProvider returns the current market conditions for the risk models
type MarketDataProvider interface {
	MarketConditions(ctx context.Context) (MarketConditions, error)
}

// BundleSubmitter takes accepted bundles for external submission, it must not block
type BundleSubmitter interface {
	SubmitBundle(bundle *Bundle, assessment *RiskAssessment) error
}

// CycleResult is the outcome of one construction cycle that produced a bundle
type CycleResult struct {
	Bundle     *Bundle
	Assessment *RiskAssessment
	Ordering   Ordering
	// Err is a RejectionReason if the bundle was rejected
	Err error
}

func (r *CycleResult) Accepted() bool {
	return r != nil && r.Err == nil
}

// Engine owns the pool and runs the construction cycle on every tick
type Engine struct {
	log *zap.Logger
	cfg EngineConfig

	pool      *Pool
	optimizer *Optimizer
	risk      *RiskAssessor
	market    MarketDataProvider
	submitter BundleSubmitter
	tracker   *BundleTracker

	ingest chan Opportunity
	now    func() time.Time
}

func NewEngine(
	log *zap.Logger, cfg EngineConfig,
	pool *Pool, optimizer *Optimizer, risk *RiskAssessor,
	market MarketDataProvider, submitter BundleSubmitter, tracker *BundleTracker,
) *Engine {
	return &Engine{
		log:       log.Named("engine"),
		cfg:       cfg,
		pool:      pool,
		optimizer: optimizer,
		risk:      risk,
		market:    market,
		submitter: submitter,
		tracker:   tracker,
		ingest:    make(chan Opportunity, cfg.PoolCapacity),
		now:       time.Now,
	}
}

// SubmitOpportunity validates the opportunity and queues it for the next cycle.
// If the ingestion queue is full the oldest queued opportunity is dropped to make room.
func (e *Engine) SubmitOpportunity(args *OpportunityArgs) (string, error) {
	metrics.IncOpportunitiesReceived()
	opp, err := ValidateOpportunity(args, e.now())
	if err != nil {
		return "", err
	}
	metrics.IncOpportunitiesReceivedValid()

	for {
		select {
		case e.ingest <- opp:
			return opp.ID, nil
		default:
		}
		select {
		case oldest := <-e.ingest:
			metrics.IncOpportunitiesDropped()
			e.log.Debug("Ingestion queue is full, oldest opportunity dropped", zap.String("opportunity", oldest.ID))
			e.publish(Event{Type: EventOpportunityEvicted, OpportunityID: oldest.ID})
		default:
		}
	}
}

func (e *Engine) drain() int {
	count := 0
	for {
		select {
		case opp := <-e.ingest:
			e.pool.Add(opp)
			count++
		default:
			return count
		}
	}
}

// Run calls Tick every tick interval until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.log.Info("Engine started", zap.Duration("tickInterval", e.cfg.TickInterval))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("Engine stopped")
			return nil
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil {
				e.log.Warn("Construction cycle failed", zap.Error(err))
			}
		}
	}
}

// Tick moves queued opportunities to the pool, drops expired ones and runs one construction cycle
func (e *Engine) Tick(ctx context.Context) (*CycleResult, error) {
	startAt := time.Now()
	defer func() {
		metrics.RecordCycleDuration(time.Since(startAt).Milliseconds())
	}()

	now := e.now()
	e.drain()
	e.pool.Sweep(now)
	snapshot := e.pool.Snapshot(now)
	if len(snapshot) == 0 {
		metrics.IncCyclesEmpty()
		return nil, nil
	}
	return e.RunCycle(ctx, snapshot)
}

// RunCycle selects the best acyclic group of the snapshot and tries to turn it into a bundle.
// It returns nil result when nothing can be bundled.
func (e *Engine) RunCycle(ctx context.Context, snapshot []Opportunity) (*CycleResult, error) {
	candidates := GroupCandidates(snapshot, e.cfg)
	for _, group := range candidates {
		graph := BuildGraph(group.Opportunities)
		if err := graph.Acyclic(); err != nil {
			metrics.IncGroupsCyclic()
			e.log.Debug("Group discarded", zap.Error(err), zap.Strings("opportunities", group.IDs()))
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.BundleTimeout)
		startAt := time.Now()
		res := e.attempt(attemptCtx, group, graph)
		cancel()
		if time.Since(startAt) > e.cfg.BundleTimeout || ctx.Err() != nil {
			metrics.IncCyclesTimedOut()
			return nil, ErrCycleTimeout
		}
		e.finish(res)
		return res, nil
	}
	metrics.IncCyclesEmpty()
	return nil, nil
}

func (e *Engine) attempt(ctx context.Context, group Group, graph *DependencyGraph) *CycleResult {
	ordering := e.optimizer.Optimize(group.Opportunities, graph)
	bundle := BuildBundle(group.Opportunities, ordering.Order, graph, e.cfg.TipPercent, e.now())
	metrics.IncBundlesConstructed()
	res := &CycleResult{Bundle: bundle, Ordering: ordering}

	if err := ValidateBundle(bundle, e.cfg); err != nil {
		res.Err = err
		return res
	}
	bundle.Status = BundleValidated

	res.Assessment = e.risk.Assess(bundle, e.marketConditions(ctx))
	switch {
	case res.Assessment.OverallRisk > e.cfg.RiskTolerance, res.Assessment.Level == RiskLevelExtreme:
		res.Err = RejectRiskVeto
	case res.Assessment.Level == RiskLevelHigh:
		metrics.IncBundlesFlagged()
		e.log.Warn("High risk bundle accepted",
			zap.String("bundle", bundle.Hash.Hex()),
			zap.Float64("overallRisk", res.Assessment.OverallRisk),
			zap.Strings("recommendations", res.Assessment.Recommendations),
		)
	}
	return res
}

// finish applies the result of an attempt: accepted bundles consume their opportunities,
// rejected ones leave the pool untouched
func (e *Engine) finish(res *CycleResult) {
	bundle := res.Bundle
	log := e.log.With(zap.String("bundle", bundle.Hash.Hex()), zap.Int("size", bundle.Size()))

	if res.Err != nil {
		bundle.Status = BundleRejected
		var reason RejectionReason
		if !errors.As(res.Err, &reason) {
			reason = RejectionReason(res.Err.Error())
		}
		metrics.IncBundlesRejected(string(reason))
		e.track(res)
		e.publish(Event{Type: EventBundleRejected, BundleHash: bundle.Hash.Hex(), Reason: string(reason)})
		log.Info("Bundle rejected", zap.String("reason", string(reason)), zap.String("netProfit", bundle.NetProfit.String()))
		return
	}

	bundle.Status = BundleAccepted
	consumed := e.pool.Remove(bundle.IDs()...)
	metrics.AddOpportunitiesConsumed(consumed)
	metrics.IncBundlesAccepted()
	e.track(res)
	e.publish(Event{Type: EventBundleAccepted, BundleHash: bundle.Hash.Hex()})
	log.Info("Bundle accepted",
		zap.String("netProfit", bundle.NetProfit.String()),
		zap.Float64("gasEfficiency", bundle.GasEfficiency),
		zap.String("algorithm", string(res.Ordering.Algorithm)),
		zap.Float64("overallRisk", res.Assessment.OverallRisk),
	)

	if e.submitter == nil {
		return
	}
	if err := e.submitter.SubmitBundle(bundle.Copy(), res.Assessment); err != nil {
		metrics.IncBundleSubmitDropped()
		log.Warn("Failed to queue bundle for submission", zap.Error(err))
	}
}

func (e *Engine) track(res *CycleResult) {
	if e.tracker == nil {
		return
	}
	e.tracker.Put(SubmissionRecord{
		Bundle:     res.Bundle.Copy(),
		Assessment: res.Assessment,
		Handles:    []SubmissionHandle{},
		Status:     res.Bundle.Status,
		UpdatedAt:  e.now(),
	})
}

func (e *Engine) marketConditions(ctx context.Context) MarketConditions {
	now := e.now()
	if e.market == nil {
		return DefaultMarketConditions(now)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.MarketDataTimeout)
	defer cancel()
	market, err := e.market.MarketConditions(ctx)
	if err != nil {
		e.log.Warn("Failed to get market conditions, using defaults", zap.Error(err))
		return DefaultMarketConditions(now)
	}
	if market.Timestamp.IsZero() {
		market.Timestamp = now
	}
	return market
}

func (e *Engine) publish(event Event) {
	event.Timestamp = e.now()
	e.pool.publish(event)
}

// Pool returns the pending pool of the engine
func (e *Engine) Pool() *Pool {
	return e.pool
}
