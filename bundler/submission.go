package bundler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/mev-bundler/metrics"
	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrDispatchQueueFull = errors.New("dispatch queue is full")
	ErrAllRelaysFailed   = errors.New("bundle was not accepted by any relay")

	relaySubmitTimeout = 2 * time.Second
	relayStatusTimeout = time.Second
)

// BundleTracker keeps records of constructed bundles for status queries.
// Records are dropped after the ttl.
type BundleTracker struct {
	mu      sync.Mutex
	records *cache.Cache
}

func NewBundleTracker(ttl time.Duration) *BundleTracker {
	return &BundleTracker{
		records: cache.New(ttl, ttl),
	}
}

func copyRecord(record *SubmissionRecord) SubmissionRecord {
	res := *record
	res.Handles = append([]SubmissionHandle(nil), record.Handles...)
	return res
}

func (t *BundleTracker) Put(record SubmissionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := copyRecord(&record)
	t.records.SetDefault(record.Bundle.Hash.Hex(), &r)
}

func (t *BundleTracker) Get(hash common.Hash) (SubmissionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.records.Get(hash.Hex())
	if !ok {
		return SubmissionRecord{}, false
	}
	return copyRecord(value.(*SubmissionRecord)), true
}

func (t *BundleTracker) update(hash common.Hash, fn func(record *SubmissionRecord)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.records.Get(hash.Hex())
	if !ok {
		return false
	}
	record := value.(*SubmissionRecord)
	fn(record)
	record.UpdatedAt = time.Now()
	return true
}

// AddHandle stores the relay handle of a submitted bundle
func (t *BundleTracker) AddHandle(handle SubmissionHandle) bool {
	return t.update(handle.BundleHash, func(record *SubmissionRecord) {
		record.Handles = append(record.Handles, handle)
		record.Status = aggregateStatus(record.Handles)
	})
}

// SetHandleStatus updates the status of a handle and recomputes the bundle status
func (t *BundleTracker) SetHandleStatus(handle SubmissionHandle, status SubmissionStatus) bool {
	return t.update(handle.BundleHash, func(record *SubmissionRecord) {
		for i := range record.Handles {
			if record.Handles[i].ID == handle.ID {
				record.Handles[i].Status = status
			}
		}
		record.Status = aggregateStatus(record.Handles)
	})
}

func (t *BundleTracker) SetStatus(hash common.Hash, status BundleStatus) bool {
	return t.update(hash, func(record *SubmissionRecord) {
		record.Status = status
	})
}

// aggregateStatus is confirmed if any relay confirmed the bundle, submitted while any relay is pending,
// failed if any relay failed and expired otherwise
func aggregateStatus(handles []SubmissionHandle) BundleStatus {
	pending, failed := false, false
	for _, h := range handles {
		switch h.Status {
		case SubmissionConfirmed:
			return BundleConfirmed
		case SubmissionPending, "":
			pending = true
		case SubmissionFailed:
			failed = true
		}
	}
	switch {
	case pending:
		return BundleSubmitted
	case failed:
		return BundleFailed
	default:
		return BundleExpired
	}
}

type DispatcherConfig struct {
	Workers      int
	QueueSize    int
	RateLimit    rate.Limit
	PollInterval time.Duration
	// MaxRetryTime bounds the retries of a single relay submission
	MaxRetryTime time.Duration
	// StatusGracePeriod is how long past its estimated confirmation a submission is polled
	// while the relay keeps failing to report its status
	StatusGracePeriod time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:      4,
		QueueSize:    64,
		RateLimit:    rate.Limit(20),
		PollInterval: 500 * time.Millisecond,
		MaxRetryTime: 5 * time.Second,

		StatusGracePeriod: 30 * time.Second,
	}
}

type dispatchItem struct {
	bundle     *Bundle
	assessment *RiskAssessment
}

type inFlightSubmission struct {
	relay  RelayBackend
	handle SubmissionHandle
}

// Dispatcher sends accepted bundles to all relays and polls their status out of band
type Dispatcher struct {
	log      *zap.Logger
	cfg      DispatcherConfig
	relays   []RelayBackend
	breakers map[string]*gobreaker.CircuitBreaker[SubmissionHandle]
	tracker  *BundleTracker
	limiter  *rate.Limiter
	queue    chan dispatchItem

	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]inFlightSubmission
}

func NewDispatcher(log *zap.Logger, relays []RelayBackend, tracker *BundleTracker, cfg DispatcherConfig) *Dispatcher {
	log = log.Named("dispatcher")
	d := &Dispatcher{
		log:      log,
		cfg:      cfg,
		relays:   relays,
		breakers: make(map[string]*gobreaker.CircuitBreaker[SubmissionHandle], len(relays)),
		tracker:  tracker,
		limiter:  rate.NewLimiter(cfg.RateLimit, cfg.Workers),
		queue:    make(chan dispatchItem, cfg.QueueSize),
		now:      time.Now,
		inFlight: make(map[string]inFlightSubmission),
	}
	for _, relay := range relays {
		d.breakers[relay.String()] = gobreaker.NewCircuitBreaker[SubmissionHandle](gobreaker.Settings{
			Name:        relay.String(),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info("Relay circuit breaker state change",
					zap.String("relay", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
	}
	return d
}

// SubmitBundle queues the bundle for submission, it never blocks
func (d *Dispatcher) SubmitBundle(bundle *Bundle, assessment *RiskAssessment) error {
	select {
	case d.queue <- dispatchItem{bundle: bundle, assessment: assessment}:
		return nil
	default:
		return ErrDispatchQueueFull
	}
}

// Run starts workers and the status poller, it returns when ctx is cancelled and all of them finished
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.worker(ctx, d.log.With(zap.Int("worker-id", id)))
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.PollStatuses(ctx)
			}
		}
	}()

	wg.Wait()
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			if err := d.Dispatch(ctx, item.bundle, item.assessment); err != nil {
				log.Warn("Failed to submit bundle", zap.String("bundle", item.bundle.Hash.Hex()), zap.Error(err))
			}
		}
	}
}

// Dispatch sends the bundle to every relay, it succeeds if at least one relay accepted the bundle
func (d *Dispatcher) Dispatch(ctx context.Context, bundle *Bundle, assessment *RiskAssessment) error {
	log := d.log.With(zap.String("bundle", bundle.Hash.Hex()))
	if len(d.relays) == 0 {
		return ErrNoRelays
	}

	var errs []error
	submitted := 0
	for _, relay := range d.relays {
		handle, err := d.submitToRelay(ctx, relay, bundle, assessment)
		if err != nil {
			metrics.IncRelaySubmitFailure(relay.String())
			log.Debug("Relay submission failed", zap.String("relay", relay.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		submitted++
		if handle.SubmittedAt.IsZero() {
			handle.SubmittedAt = d.now()
		}
		d.mu.Lock()
		d.inFlight[handle.ID] = inFlightSubmission{relay: relay, handle: handle}
		d.mu.Unlock()
		if d.tracker != nil {
			d.tracker.AddHandle(handle)
		}
		log.Info("Bundle submitted",
			zap.String("relay", relay.String()),
			zap.String("submission", handle.ID),
			zap.Float64("successProbability", handle.SuccessProbability),
			zap.Duration("estimatedConfirmation", handle.EstimatedConfirmation),
		)
	}

	if submitted == 0 {
		if d.tracker != nil {
			d.tracker.SetStatus(bundle.Hash, BundleFailed)
		}
		metrics.IncSubmissionOutcome(string(SubmissionFailed))
		return errors.Join(append([]error{ErrAllRelaysFailed}, errs...)...)
	}
	metrics.IncBundlesSubmitted()
	return nil
}

func (d *Dispatcher) submitToRelay(ctx context.Context, relay RelayBackend, bundle *Bundle, assessment *RiskAssessment) (SubmissionHandle, error) {
	return d.breakers[relay.String()].Execute(func() (SubmissionHandle, error) {
		back := backoff.NewExponentialBackOff()
		back.InitialInterval = 50 * time.Millisecond
		back.MaxInterval = time.Second
		back.MaxElapsedTime = d.cfg.MaxRetryTime

		var handle SubmissionHandle
		err := backoff.Retry(func() error {
			submitCtx, cancel := context.WithTimeout(ctx, relaySubmitTimeout)
			defer cancel()
			h, err := relay.SubmitBundle(submitCtx, bundle, assessment)
			if err != nil {
				return err
			}
			handle = h
			return nil
		}, backoff.WithContext(back, ctx))
		return handle, err
	})
}

// PollStatuses asks relays about all pending submissions, final statuses are moved to the tracker
func (d *Dispatcher) PollStatuses(ctx context.Context) {
	d.mu.Lock()
	pending := make([]inFlightSubmission, 0, len(d.inFlight))
	for _, sub := range d.inFlight {
		pending = append(pending, sub)
	}
	d.mu.Unlock()

	for _, sub := range pending {
		statusCtx, cancel := context.WithTimeout(ctx, relayStatusTimeout)
		status, err := sub.relay.BundleStatus(statusCtx, sub.handle)
		cancel()
		if err != nil {
			if errors.Is(err, ErrUnknownSubmission) {
				d.resolve(sub, SubmissionExpired)
				continue
			}
			if d.stale(sub.handle) {
				d.log.Warn("Relay did not report bundle status in time, submission expired",
					zap.String("relay", sub.relay.String()), zap.String("submission", sub.handle.ID), zap.Error(err))
				d.resolve(sub, SubmissionExpired)
				continue
			}
			d.log.Debug("Failed to poll bundle status",
				zap.String("relay", sub.relay.String()), zap.String("submission", sub.handle.ID), zap.Error(err))
			continue
		}
		if status.Final() {
			d.resolve(sub, status)
		}
	}
}

func (d *Dispatcher) stale(handle SubmissionHandle) bool {
	deadline := handle.SubmittedAt.Add(handle.EstimatedConfirmation + d.cfg.StatusGracePeriod)
	return d.now().After(deadline)
}

func (d *Dispatcher) resolve(sub inFlightSubmission, status SubmissionStatus) {
	d.mu.Lock()
	delete(d.inFlight, sub.handle.ID)
	d.mu.Unlock()

	metrics.IncSubmissionOutcome(string(status))
	if d.tracker != nil {
		d.tracker.SetHandleStatus(sub.handle, status)
	}
	d.log.Info("Bundle submission resolved",
		zap.String("bundle", sub.handle.BundleHash.Hex()),
		zap.String("relay", sub.relay.String()),
		zap.String("status", string(status)),
	)
}

// InFlight returns the number of submissions waiting for a final status
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}
