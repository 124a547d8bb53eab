// Package metrics contains all application-logic metrics
package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

var (
	opportunitiesReceived      = metrics.NewCounter("opportunities_received_total")
	opportunitiesReceivedValid = metrics.NewCounter("opportunities_received_valid_total")
	opportunitiesDropped       = metrics.NewCounter("opportunities_ingest_dropped_total")
	opportunitiesEvicted       = metrics.NewCounter("opportunities_evicted_total")
	opportunitiesExpired       = metrics.NewCounter("opportunities_expired_total")
	opportunitiesConsumed      = metrics.NewCounter("opportunities_consumed_total")

	cyclesEmpty            = metrics.NewCounter("construction_cycles_empty_total")
	cyclesTimedOut         = metrics.NewCounter("construction_cycles_timeout_total")
	groupsCyclic           = metrics.NewCounter("groups_dependency_cycle_total")
	bundlesConstructed     = metrics.NewCounter("bundles_constructed_total")
	bundlesAccepted        = metrics.NewCounter("bundles_accepted_total")
	bundlesFlagged         = metrics.NewCounter("bundles_risk_flagged_total")
	bundlesSubmitted       = metrics.NewCounter("bundles_submitted_total")
	bundleSubmitDropped    = metrics.NewCounter("bundles_submit_queue_full_total")
	riskFallbackAssessment = metrics.NewCounter("risk_fallback_assessments_total")
	marketDataFetchFailure = metrics.NewCounter("market_data_fetch_failures_total")
	feedMessagesInvalid    = metrics.NewCounter("feed_messages_invalid_total")
	eventPublishFailure    = metrics.NewCounter("event_publish_failures_total")
	eventsDropped          = metrics.NewCounter("events_dropped_total")

	poolSize int64
	_        = metrics.NewGauge("pool_size", func() float64 {
		return float64(atomic.LoadInt64(&poolSize))
	})
)

func IncOpportunitiesReceived() {
	opportunitiesReceived.Inc()
}

func IncOpportunitiesReceivedValid() {
	opportunitiesReceivedValid.Inc()
}

func IncOpportunitiesDropped() {
	opportunitiesDropped.Inc()
}

func IncOpportunitiesEvicted() {
	opportunitiesEvicted.Inc()
}

func IncOpportunitiesExpired() {
	opportunitiesExpired.Inc()
}

func AddOpportunitiesConsumed(n int) {
	opportunitiesConsumed.Add(n)
}

func SetPoolSize(size int) {
	atomic.StoreInt64(&poolSize, int64(size))
}

func IncCyclesEmpty() {
	cyclesEmpty.Inc()
}

func IncCyclesTimedOut() {
	cyclesTimedOut.Inc()
}

func IncGroupsCyclic() {
	groupsCyclic.Inc()
}

func IncBundlesConstructed() {
	bundlesConstructed.Inc()
}

func IncBundlesAccepted() {
	bundlesAccepted.Inc()
}

func IncBundlesRejected(reason string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`bundles_rejected_total{reason=%q}`, reason)).Inc()
}

func IncBundlesFlagged() {
	bundlesFlagged.Inc()
}

func IncBundlesSubmitted() {
	bundlesSubmitted.Inc()
}

func IncBundleSubmitDropped() {
	bundleSubmitDropped.Inc()
}

func IncRelaySubmitFailure(relay string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`relay_submit_failures_total{relay=%q}`, relay)).Inc()
}

func IncSubmissionOutcome(status string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`bundle_submission_outcomes_total{status=%q}`, status)).Inc()
}

func IncRiskCategoryFailure(category string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`risk_category_failures_total{category=%q}`, category)).Inc()
}

func IncRiskFallbackAssessment() {
	riskFallbackAssessment.Inc()
}

func RecordRiskLevel(level string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`risk_assessments_total{level=%q}`, level)).Inc()
}

func RecordCycleDuration(ms int64) {
	metrics.GetOrCreateHistogram("construction_cycle_duration_milliseconds").Update(float64(ms))
}

func RecordOptimizationDuration(algorithm string, ms int64) {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`optimization_duration_milliseconds{algorithm=%q}`, algorithm)).Update(float64(ms))
}

func RecordRPCCallDuration(method string, ms int64) {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`rpc_call_duration_milliseconds{method=%q}`, method)).Update(float64(ms))
}

func IncRPCCallFailure(method string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`rpc_call_failures_total{method=%q}`, method)).Inc()
}

func RecordMarketDataFetchDuration(ms int64) {
	metrics.GetOrCreateHistogram("market_data_fetch_duration_milliseconds").Update(float64(ms))
}

func IncMarketDataFetchFailure() {
	marketDataFetchFailure.Inc()
}

func IncFeedMessagesInvalid() {
	feedMessagesInvalid.Inc()
}

func IncEventPublishFailure() {
	eventPublishFailure.Inc()
}

func IncEventsDropped() {
	eventsDropped.Inc()
}
