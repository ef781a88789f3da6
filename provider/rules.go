package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"threatgate/core"
	"threatgate/util"
)

// Fetcher returns the raw bytes stored at a location. *resource.Locator
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// ThreatsLibrary is a decoded threats library document.
type ThreatsLibrary struct {
	Name    string      `yaml:"name"`
	Version string      `yaml:"version"`
	Threats []core.Rule `yaml:"threats" validate:"dive"`
}

// LoadRules fetches and validates the threats library at location. Rules keep
// their declaration order. Conditions are compiled later by the rule
// repository.
func LoadRules(ctx context.Context, fetcher Fetcher, location string, logger *zap.SugaredLogger) ([]core.Rule, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	source := util.RedactLocation(location)
	fail := func(err error) error {
		return &core.ModelLoadError{Source: source, Kind: core.SourceThreatsLibrary, Err: err}
	}

	data, err := fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, fail(err)
	}

	var library ThreatsLibrary
	if err := decodeDocument(data, threatsLibrarySchema, &library); err != nil {
		return nil, fail(err)
	}

	seen := make(map[string]int, len(library.Threats))
	rules := make([]core.Rule, 0, len(library.Threats))
	for i, rule := range library.Threats {
		if prev, dup := seen[rule.ID]; dup {
			return nil, fail(fmt.Errorf("threats[%d]: duplicate rule id %q (first declared at threats[%d])", i, rule.ID, prev))
		}
		seen[rule.ID] = i

		kind, err := core.ParseElementKind(string(rule.AppliesTo))
		if err != nil {
			return nil, fail(fmt.Errorf("threats[%d] (%s): %w", i, rule.ID, err))
		}
		rule.AppliesTo = kind
		if rule.Risk == core.RiskUndefined {
			return nil, fail(fmt.Errorf("threats[%d] (%s): risk is required", i, rule.ID))
		}
		rules = append(rules, rule)
	}

	logger.Infow("Loaded threats library",
		"source", source,
		"name", library.Name,
		"version", library.Version,
		"rules", len(rules))
	return rules, nil
}
