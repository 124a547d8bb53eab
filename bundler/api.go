package bundler

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/flashbots/mev-bundler/jsonrpcserver"
	"github.com/flashbots/mev-bundler/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrBundleNotFound = errors.New("bundle not found")

	knownOpportunityCacheSize = 4096
)

// OpportunitySubmitter is implemented by the Engine
type OpportunitySubmitter interface {
	SubmitOpportunity(args *OpportunityArgs) (string, error)
}

type invalidOpportunityError struct {
	err error
}

func (e invalidOpportunityError) Error() string { return e.err.Error() }
func (e invalidOpportunityError) Unwrap() error { return e.err }
func (e invalidOpportunityError) ErrorCode() int { return jsonrpcserver.CodeInvalidParams }

type API struct {
	log *zap.Logger

	submitter OpportunitySubmitter
	tracker   *BundleTracker
	limiter   *rate.Limiter

	knownOpportunities *lru.Cache[string, time.Time]
}

func NewAPI(log *zap.Logger, submitter OpportunitySubmitter, tracker *BundleTracker, rateLimit rate.Limit, burst int) *API {
	return &API{
		log:                log.Named("api"),
		submitter:          submitter,
		tracker:            tracker,
		limiter:            rate.NewLimiter(rateLimit, burst),
		knownOpportunities: lru.NewCache[string, time.Time](knownOpportunityCacheSize),
	}
}

func (a *API) SubmitOpportunity(ctx context.Context, args OpportunityArgs) (_ SubmitOpportunityResponse, err error) {
	startAt := time.Now()
	defer func() {
		metrics.RecordRPCCallDuration(SubmitOpportunityEndpointName, time.Since(startAt).Milliseconds())
		if err != nil {
			metrics.IncRPCCallFailure(SubmitOpportunityEndpointName)
		}
	}()
	logger := a.log.With(zap.String("detector", jsonrpcserver.GetDetector(ctx)))

	if !a.limiter.Allow() {
		return SubmitOpportunityResponse{}, ErrRateLimited
	}

	if args.ID != "" {
		if _, ok := a.knownOpportunities.Get(args.ID); ok {
			logger.Debug("Opportunity already known, ignoring", zap.String("opportunity", args.ID))
			return SubmitOpportunityResponse{ID: args.ID}, nil
		}
	}

	id, err := a.submitter.SubmitOpportunity(&args)
	if err != nil {
		logger.Debug("Invalid opportunity", zap.Error(err))
		return SubmitOpportunityResponse{}, invalidOpportunityError{err}
	}
	a.knownOpportunities.Add(id, startAt)
	return SubmitOpportunityResponse{ID: id}, nil
}

func (a *API) GetBundleStatus(ctx context.Context, hash common.Hash) (_ *SubmissionRecord, err error) {
	startAt := time.Now()
	defer func() {
		metrics.RecordRPCCallDuration(GetBundleStatusEndpointName, time.Since(startAt).Milliseconds())
		if err != nil {
			metrics.IncRPCCallFailure(GetBundleStatusEndpointName)
		}
	}()

	record, ok := a.tracker.Get(hash)
	if !ok {
		return nil, ErrBundleNotFound
	}
	return &record, nil
}
