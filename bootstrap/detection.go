package bootstrap

import (
	"context"
	"strings"

	"threatgate/config"
	"threatgate/core"
	"threatgate/detect"
	"threatgate/provider"
	"threatgate/resource"

	"go.uber.org/zap"
)

// NewLocator builds the resource locator used for the library, models and
// mitigations. The classpath resolves against the embedded default library.
func NewLocator(cfg *config.Config, sugar *zap.SugaredLogger) (*resource.Locator, error) {
	return resource.NewLocator(
		resource.WithClasspath(provider.Classpath()),
		resource.WithCredentials(cfg.Library.Username, cfg.Library.Password),
		resource.WithTimeout(cfg.Library.Timeout),
		resource.WithCacheSize(cfg.Library.CacheSize),
		resource.WithS3Region(cfg.Library.S3Region),
		resource.WithLogger(sugar),
	)
}

// LoadThreatsLibrary fetches, validates and compiles the rules at location.
func LoadThreatsLibrary(ctx context.Context, fetcher provider.Fetcher, location string, sugar *zap.SugaredLogger) (*detect.RuleRepository, error) {
	rules, err := provider.LoadRules(ctx, fetcher, location, sugar)
	if err != nil {
		sugar.Debug(ClassifyFetchError(err, location))
		return nil, err
	}

	repo := detect.NewRuleRepository(sugar)
	if err := repo.AddAll(rules); err != nil {
		return nil, err
	}

	sugar.Infof("Loaded %d rules from threats library", repo.Len())
	return repo, nil
}

// LoadMitigations loads the mitigations file at location. An empty location
// yields no mitigations.
func LoadMitigations(ctx context.Context, fetcher provider.Fetcher, location string, sugar *zap.SugaredLogger) ([]core.Mitigation, error) {
	if strings.TrimSpace(location) == "" {
		return nil, nil
	}
	mitigations, err := provider.LoadMitigations(ctx, fetcher, location, sugar)
	if err != nil {
		return nil, err
	}
	sugar.Infof("Loaded %d mitigations", len(mitigations))
	return mitigations, nil
}

// NewEngine creates a fresh generator, mitigator and quality gate over repo.
// Mitigation patterns are compiled here so invalid ones fail before any
// model is evaluated.
func NewEngine(cfg *config.Config, repo *detect.RuleRepository, mitigations []core.Mitigation, trace detect.TraceFunc, sugar *zap.SugaredLogger) (*detect.Engine, error) {
	genOpts := []detect.GeneratorOption{
		detect.WithWorkers(cfg.Engine.Workers),
		detect.WithGeneratorLogger(sugar),
	}
	if trace != nil {
		genOpts = append(genOpts, detect.WithTrace(trace))
	}

	mitigator, err := detect.NewMitigator(mitigations,
		detect.WithRegexTimeout(cfg.Engine.MitigationRegexTimeout),
		detect.WithMitigatorLogger(sugar),
	)
	if err != nil {
		return nil, err
	}

	return detect.NewEngine(
		detect.NewGenerator(repo, genOpts...),
		mitigator,
		detect.NewQualityGate(cfg.Threshold),
	), nil
}

// ExplainTrace logs every evaluated node of every (rule, element) pair at
// debug level.
func ExplainTrace(sugar *zap.SugaredLogger) detect.TraceFunc {
	return func(rule *detect.CompiledRule, element core.Element, ctx *detect.EvaluationContext, matched bool) {
		sugar.Debugw("Evaluated rule",
			"rule", rule.ID,
			"element", element.ID,
			"matched", matched)
		for _, entry := range ctx.Trace() {
			sugar.Debugw("  "+strings.Repeat("  ", entry.Depth)+entry.Node.String(),
				"result", entry.Result,
				"actual", entry.Actual)
		}
	}
}
