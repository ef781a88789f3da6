package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"threatgate/core"
	"threatgate/metrics"
	"threatgate/util/goroutine"

	"go.uber.org/zap"
)

// TraceFunc receives every evaluated (rule, element) pair with its full
// evaluation trace. It is called from worker goroutines when the generator
// runs in parallel and must be safe for concurrent use.
type TraceFunc func(rule *CompiledRule, element core.Element, ctx *EvaluationContext, matched bool)

// Generator turns a threat model into threats using the rules of a repository.
type Generator struct {
	repo    *RuleRepository
	logger  *zap.SugaredLogger
	workers int
	trace   TraceFunc
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithWorkers evaluates elements on n goroutines. Values below 2 keep evaluation sequential.
func WithWorkers(n int) GeneratorOption {
	return func(g *Generator) {
		g.workers = n
	}
}

// WithTrace registers a hook receiving evaluation traces.
func WithTrace(fn TraceFunc) GeneratorOption {
	return func(g *Generator) {
		g.trace = fn
	}
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(logger *zap.SugaredLogger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGenerator creates a generator over repo.
func NewGenerator(repo *RuleRepository, opts ...GeneratorOption) *Generator {
	g := &Generator{
		repo:    repo,
		logger:  zap.NewNop().Sugar(),
		workers: 1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate evaluates every applicable rule against every element of model.
//
// Threats are ordered by element (model order) and then by rule
// (declaration order), whether or not evaluation ran in parallel. The first
// evaluation error in that order aborts generation and is returned as a
// *core.EvaluationError, as does a threat id raised twice. The model is not
// modified.
func (g *Generator) Generate(ctx context.Context, model *core.ThreatModel) (*core.ThreatsCollection, error) {
	if model == nil {
		return nil, fmt.Errorf("threat model is nil")
	}
	start := time.Now()

	slots := make([][]core.Threat, len(model.Elements))
	var err error
	if g.workers > 1 && len(model.Elements) > 1 {
		err = g.generateParallel(ctx, model.Elements, slots)
	} else {
		err = g.generateSequential(ctx, model.Elements, slots)
	}
	if err != nil {
		return nil, err
	}

	collection := &core.ThreatsCollection{
		ModelName:    model.Name,
		ModelVersion: model.Version,
	}
	seen := make(map[string]core.Threat)
	for _, threats := range slots {
		for _, threat := range threats {
			if first, dup := seen[threat.ID]; dup {
				return nil, &core.EvaluationError{
					RuleID:    threat.RuleID,
					ElementID: threat.ElementID,
					Err: fmt.Errorf("%w %s, already raised by rule %s for element %s",
						core.ErrDuplicateThreatID, threat.ID, first.RuleID, first.ElementID),
				}
			}
			seen[threat.ID] = threat
			collection.Threats = append(collection.Threats, threat)
		}
	}
	for _, threat := range collection.Threats {
		metrics.ThreatsGenerated.WithLabelValues(threat.Risk.String()).Inc()
	}

	duration := time.Since(start)
	metrics.GenerationDuration.Observe(duration.Seconds())
	g.logger.Infow("Generated threats",
		"model", model.Name,
		"elements", len(model.Elements),
		"rules", g.repo.Len(),
		"threats", collection.Len(),
		"duration", duration)

	return collection, nil
}

func (g *Generator) generateSequential(ctx context.Context, elements []core.Element, slots [][]core.Threat) error {
	for i, element := range elements {
		if err := ctx.Err(); err != nil {
			return err
		}
		threats, err := g.generateForElement(element)
		if err != nil {
			return err
		}
		slots[i] = threats
	}
	return nil
}

// generateParallel fans elements out to a bounded pool. Results land in the
// slot of their element so concatenating slots restores model order.
func (g *Generator) generateParallel(ctx context.Context, elements []core.Element, slots [][]core.Threat) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := g.workers
	if workers > len(elements) {
		workers = len(elements)
	}

	errs := make([]error, len(elements))
	indexes := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				threats, err := g.safeGenerateForElement(elements[i])
				if err != nil {
					errs[i] = err
					cancel()
					continue
				}
				slots[i] = threats
			}
		}()
	}

feed:
	for i := range elements {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	// Every element before a failing one was dispatched before it, so the
	// lowest failing index is the error sequential evaluation would return.
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return context.Cause(ctx)
}

func (g *Generator) safeGenerateForElement(element core.Element) (threats []core.Threat, err error) {
	defer goroutine.RecoverInto("threat-generator", g.logger, &err)
	return g.generateForElement(element)
}

// generateForElement evaluates the rules for element's kind in declaration order.
func (g *Generator) generateForElement(element core.Element) ([]core.Threat, error) {
	var threats []core.Threat

	for _, rule := range g.repo.ForKind(element.Kind) {
		evalCtx := NewEvaluationContext()
		matched, err := Evaluate(rule.Expr, element, evalCtx)
		if err != nil {
			metrics.RuleEvaluationsTotal.WithLabelValues("error").Inc()
			return nil, &core.EvaluationError{RuleID: rule.ID, ElementID: element.ID, Err: err}
		}
		if g.trace != nil {
			g.trace(rule, element, evalCtx, matched)
		}
		if !matched {
			metrics.RuleEvaluationsTotal.WithLabelValues("no_match").Inc()
			continue
		}
		metrics.RuleEvaluationsTotal.WithLabelValues("match").Inc()

		threat, err := newThreat(rule, element)
		if err != nil {
			return nil, &core.EvaluationError{RuleID: rule.ID, ElementID: element.ID, Err: err}
		}
		threats = append(threats, threat)
	}

	return threats, nil
}

func newThreat(rule *CompiledRule, element core.Element) (core.Threat, error) {
	title, description, err := rule.Render(element)
	if err != nil {
		return core.Threat{}, err
	}
	var references []string
	if len(rule.References) > 0 {
		references = append(references, rule.References...)
	}
	return core.Threat{
		ID:               core.ThreatID(rule.ID, element.ID),
		RuleID:           rule.ID,
		ElementID:        element.ID,
		ElementName:      element.Name,
		ElementKind:      element.Kind,
		Title:            title,
		Description:      description,
		Category:         rule.Category,
		References:       references,
		Risk:             rule.Risk,
		MitigationStatus: core.NotMitigated,
	}, nil
}
