package detect

import (
	"context"
	"fmt"

	"threatgate/core"
)

// Result is what one engine run produces for a threat model.
type Result struct {
	Threats *core.ThreatsCollection
	Gate    GateResult
}

// Engine runs generation, mitigation and the quality gate for one threat
// model. Engines hold no state between runs; callers processing several
// models create one per model.
type Engine struct {
	generator *Generator
	mitigator Mitigator
	gate      *QualityGate
}

// NewEngine wires the three stages together. A nil mitigator behaves like
// DullMitigator and a nil gate always passes.
func NewEngine(generator *Generator, mitigator Mitigator, gate *QualityGate) *Engine {
	if mitigator == nil {
		mitigator = DullMitigator{}
	}
	if gate == nil {
		gate = NewQualityGate(core.RiskUndefined)
	}
	return &Engine{generator: generator, mitigator: mitigator, gate: gate}
}

// Run generates and mitigates the threats of model and evaluates the gate.
// A failing gate is reported in Result.Gate, not as an error; use
// QualityGate.Check on the result to obtain *core.QualityGateFailed.
func (e *Engine) Run(ctx context.Context, model *core.ThreatModel) (*Result, error) {
	threats, err := e.generator.Generate(ctx, model)
	if err != nil {
		return nil, err
	}
	if err := e.mitigator.Apply(threats); err != nil {
		return nil, fmt.Errorf("failed to apply mitigations: %w", err)
	}
	return &Result{
		Threats: threats,
		Gate:    e.gate.Evaluate(threats.Threats),
	}, nil
}

// Gate returns the quality gate of the engine.
func (e *Engine) Gate() *QualityGate {
	return e.gate
}
