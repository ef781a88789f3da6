package provider

import (
	"context"

	"go.uber.org/zap"

	"threatgate/core"
	"threatgate/util"
)

type mitigationsDocument struct {
	Mitigations []core.Mitigation `yaml:"mitigations" validate:"dive"`
}

// LoadMitigations fetches and validates a mitigations document. Mitigations
// keep their declaration order, which decides ties between patterns.
func LoadMitigations(ctx context.Context, fetcher Fetcher, location string, logger *zap.SugaredLogger) ([]core.Mitigation, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	source := util.RedactLocation(location)

	data, err := fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, &core.ModelLoadError{Source: source, Kind: core.SourceMitigations, Err: err}
	}

	var doc mitigationsDocument
	if err := decodeDocument(data, mitigationsSchema, &doc); err != nil {
		return nil, &core.ModelLoadError{Source: source, Kind: core.SourceMitigations, Err: err}
	}

	logger.Infow("Loaded mitigations", "source", source, "mitigations", len(doc.Mitigations))
	return doc.Mitigations, nil
}
