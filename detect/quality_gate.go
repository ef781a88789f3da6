package detect

import (
	"threatgate/core"
)

// GateResult is the outcome of a quality gate over one threat collection.
type GateResult struct {
	Passed    bool
	Threshold core.ThreatRisk
	// NonCompliant lists offending threat ids in collection order
	NonCompliant []string
}

// QualityGate fails collections holding unmitigated threats at or above Threshold.
// A RiskUndefined threshold disables the gate.
type QualityGate struct {
	Threshold core.ThreatRisk
}

// NewQualityGate creates a gate for threshold.
func NewQualityGate(threshold core.ThreatRisk) *QualityGate {
	return &QualityGate{Threshold: threshold}
}

// Enabled reports whether the gate can fail at all.
func (g *QualityGate) Enabled() bool {
	return g != nil && g.Threshold != core.RiskUndefined
}

// Evaluate returns the non-compliant threats: risk >= threshold and status NotMitigated.
// PartiallyMitigated threats count as compliant.
func (g *QualityGate) Evaluate(threats []core.Threat) GateResult {
	result := GateResult{Passed: true}
	if !g.Enabled() {
		return result
	}
	result.Threshold = g.Threshold

	for _, threat := range threats {
		if threat.Risk.AtLeast(g.Threshold) && threat.MitigationStatus == core.NotMitigated {
			result.NonCompliant = append(result.NonCompliant, threat.ID)
		}
	}
	result.Passed = len(result.NonCompliant) == 0
	return result
}

// Check evaluates collection and returns *core.QualityGateFailed when it does not pass.
func (g *QualityGate) Check(collection *core.ThreatsCollection) error {
	if collection == nil {
		return nil
	}
	result := g.Evaluate(collection.Threats)
	if result.Passed {
		return nil
	}
	return &core.QualityGateFailed{
		ModelName: collection.ModelName,
		Threshold: g.Threshold,
		ThreatIDs: result.NonCompliant,
	}
}
