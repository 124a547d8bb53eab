package bundler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownSubmission = errors.New("unknown submission")

const (
	simulatedSlotTime        = 400 * time.Millisecond
	simulatedPerTxDelay      = 100 * time.Millisecond
	simulatedBaseProbability = 0.5
	minSuccessProbability    = 0.05
	maxSuccessProbability    = 0.95
)

type simulatedSubmission struct {
	handle    SubmissionHandle
	outcome   SubmissionStatus
	resolveAt time.Time
}

// SimulatedRelay pretends to be a relay, the outcome of every submission is drawn
// at submission time and revealed after the estimated confirmation time
type SimulatedRelay struct {
	name   string
	market MarketDataProvider

	mu          sync.Mutex
	rng         *rand.Rand
	submissions map[string]simulatedSubmission
	now         func() time.Time
}

func NewSimulatedRelay(name string, market MarketDataProvider, rng *rand.Rand) *SimulatedRelay {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	return &SimulatedRelay{
		name:        name,
		market:      market,
		rng:         rng,
		submissions: make(map[string]simulatedSubmission),
		now:         time.Now,
	}
}

func (r *SimulatedRelay) String() string {
	return r.name
}

// SuccessProbability grows with the tip and drops with congestion, bundle size and venue count
func SuccessProbability(bundle *Bundle, congestion float64) float64 {
	p := simulatedBaseProbability
	p += math.Min(bundle.Tip.InexactFloat64()*5, 0.3)
	p -= 0.3 * math.Max(0, math.Min(1, congestion))
	if n := bundle.Size(); n > 1 {
		p -= 0.02 * float64(n-1)
	}
	if venues := len(bundle.Venues()); venues > 1 {
		p -= 0.03 * float64(venues-1)
	}
	return math.Max(minSuccessProbability, math.Min(maxSuccessProbability, p))
}

func EstimateConfirmation(size int, congestion float64) time.Duration {
	slots := 1 + 2*math.Max(0, math.Min(1, congestion))
	return time.Duration(float64(simulatedSlotTime)*slots) + time.Duration(size)*simulatedPerTxDelay
}

func (r *SimulatedRelay) congestion(ctx context.Context) float64 {
	if r.market == nil {
		return DefaultMarketConditions(r.now()).Congestion
	}
	market, err := r.market.MarketConditions(ctx)
	if err != nil {
		return DefaultMarketConditions(r.now()).Congestion
	}
	return market.Congestion
}

func (r *SimulatedRelay) SubmitBundle(ctx context.Context, bundle *Bundle, _ *RiskAssessment) (SubmissionHandle, error) {
	if bundle.Size() == 0 {
		return SubmissionHandle{}, ErrEmptyBundle
	}
	congestion := r.congestion(ctx)
	now := r.now()
	handle := SubmissionHandle{
		ID:                    uuid.Must(uuid.NewRandom()).String(),
		Relay:                 r.name,
		BundleHash:            bundle.Hash,
		EstimatedConfirmation: EstimateConfirmation(bundle.Size(), congestion),
		SuccessProbability:    SuccessProbability(bundle, congestion),
		SubmittedAt:           now,
		Status:                SubmissionPending,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	outcome := SubmissionConfirmed
	if draw := r.rng.Float64(); draw >= handle.SuccessProbability {
		// lost auctions are split between reverted and not included bundles
		if draw < handle.SuccessProbability+(1-handle.SuccessProbability)/2 {
			outcome = SubmissionFailed
		} else {
			outcome = SubmissionExpired
		}
	}
	r.submissions[handle.ID] = simulatedSubmission{
		handle:    handle,
		outcome:   outcome,
		resolveAt: now.Add(handle.EstimatedConfirmation),
	}
	return handle, nil
}

func (r *SimulatedRelay) BundleStatus(_ context.Context, handle SubmissionHandle) (SubmissionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[handle.ID]
	if !ok {
		return "", ErrUnknownSubmission
	}
	if r.now().Before(sub.resolveAt) {
		return SubmissionPending, nil
	}
	delete(r.submissions, handle.ID)
	return sub.outcome, nil
}
