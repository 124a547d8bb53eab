// Package bundler implements the bundle construction and scheduling engine.
// Here is a full flow of data through the node:
//
// detectors (json-rpc api, redis feed) -> Engine.SubmitOpportunity validates and enqueues
// Engine tick -> Pool is drained, swept and snapshotted
//
//	GroupCandidates partitions the snapshot into related groups and ranks them
//	BuildGraph checks token-flow and liquidity dependencies of the best group
//	Optimizer searches for the best dependency-valid ordering
//	BuildBundle + ValidateBundle compute metrics and apply profitability gates
//	RiskAssessor scores the bundle and can veto it
//
// Engine -> Dispatcher sends accepted bundles to the relays and tracks their status
package bundler

import "time"

const (
	DefaultMaxBundleTxs      = 10
	DefaultMinBundleProfit   = "0.05"
	DefaultMaxBundleGas      = "0.02"
	DefaultRiskTolerance     = 7.0
	DefaultBundleTimeout     = 30 * time.Second
	DefaultTickInterval      = time.Second
	DefaultPoolCapacity      = 100
	DefaultOpportunityTTL    = 60 * time.Second
	DefaultTipPercent        = 10
	MinGasEfficiency         = 2.0
	BaseExecutionTimePerTx   = 2000 * time.Millisecond
	RelatedDiscoveryWindow   = 10 * time.Second
	HighRiskOpportunityScore = 7.0
	MaxRiskScore             = 10.0

	DefaultGenerations        = 50
	DefaultPopulationSize     = 30
	DefaultAnnealIterations   = 500
	DefaultInitialTemperature = 1000.0
	DefaultCoolingRate        = 0.95
	MinAnnealTemperature      = 0.001

	GreedyMaxGroupSize  = 5
	GeneticMaxGroupSize = 12

	RiskHistorySize = 1000
)
