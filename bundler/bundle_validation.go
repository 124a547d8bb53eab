package bundler

// RejectionReason is returned by ValidateBundle, opportunities of a rejected bundle stay in the pool
type RejectionReason string

const (
	RejectUnprofitable      RejectionReason = "unprofitable"
	RejectPoorGasEfficiency RejectionReason = "poor gas efficiency"
	RejectRiskTooHigh       RejectionReason = "risk too high"
	// RejectRiskVeto is set by the engine when the risk assessment vetoes a valid bundle
	RejectRiskVeto RejectionReason = "risk assessment veto"
)

func (r RejectionReason) Error() string {
	return "bundle rejected: " + string(r)
}

// ValidateBundle checks the bundle against the limits, the first failing check is returned.
// It doesn't modify the bundle.
func ValidateBundle(bundle *Bundle, cfg EngineConfig) error {
	if bundle.NetProfit.LessThan(cfg.MinBundleProfit) {
		return RejectUnprofitable
	}
	if bundle.GasEfficiency < MinGasEfficiency {
		return RejectPoorGasEfficiency
	}
	if bundle.AvgRisk > cfg.RiskTolerance {
		return RejectRiskTooHigh
	}
	return nil
}
