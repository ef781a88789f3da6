package provider

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"threatgate/core"
	"threatgate/util"
)

// elementDocument is one entry of a model group. The top level source,
// target, boundary and category keys are shorthands for the attributes of
// the same name.
type elementDocument struct {
	ID          string            `yaml:"id" validate:"required"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Source      string            `yaml:"source"`
	Target      string            `yaml:"target"`
	Boundary    string            `yaml:"boundary"`
	Category    string            `yaml:"category"`
	Attributes  map[string]string `yaml:"attributes"`
}

type modelDocument struct {
	Name       string            `yaml:"name" validate:"required"`
	Version    string            `yaml:"version"`
	Components []elementDocument `yaml:"components" validate:"dive"`
	DataFlows  []elementDocument `yaml:"dataFlows" validate:"dive"`
	Boundaries []elementDocument `yaml:"boundaries" validate:"dive"`
	Actors     []elementDocument `yaml:"actors" validate:"dive"`
}

func (d *modelDocument) groups() []struct {
	kind     core.ElementKind
	field    string
	elements []elementDocument
} {
	return []struct {
		kind     core.ElementKind
		field    string
		elements []elementDocument
	}{
		{core.KindComponent, "components", d.Components},
		{core.KindDataFlow, "dataFlows", d.DataFlows},
		{core.KindBoundary, "boundaries", d.Boundaries},
		{core.KindActor, "actors", d.Actors},
	}
}

// LoadModel fetches and validates the threat model at location.
//
// Elements are emitted components first, then data flows, boundaries and
// actors, each group in document order. Attribute values are normalised to
// their canonical spelling; unknown attribute names are kept and logged.
// Elements that reference a boundary inherit its category as
// boundaryCategory unless they declare one.
func LoadModel(ctx context.Context, fetcher Fetcher, location string, logger *zap.SugaredLogger) (*core.ThreatModel, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	source := util.RedactLocation(location)
	fail := func(err error) error {
		return &core.ModelLoadError{Source: source, Kind: core.SourceThreatModel, Err: err}
	}

	data, err := fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, fail(err)
	}

	var doc modelDocument
	if err := decodeDocument(data, threatModelSchema, &doc); err != nil {
		return nil, fail(err)
	}

	model, err := buildModel(&doc, logger)
	if err != nil {
		return nil, fail(err)
	}

	counts := model.CountByKind()
	logger.Infow("Loaded threat model",
		"source", source,
		"name", model.Name,
		"version", model.Version,
		"components", counts[core.KindComponent],
		"dataFlows", counts[core.KindDataFlow],
		"boundaries", counts[core.KindBoundary],
		"actors", counts[core.KindActor])
	return model, nil
}

func buildModel(doc *modelDocument, logger *zap.SugaredLogger) (*core.ThreatModel, error) {
	model := &core.ThreatModel{Name: doc.Name, Version: doc.Version}
	seen := make(map[string]string)

	for _, group := range doc.groups() {
		for i, ed := range group.elements {
			where := fmt.Sprintf("%s[%d]", group.field, i)
			if prev, dup := seen[ed.ID]; dup {
				return nil, fmt.Errorf("%s: duplicate element id %q (first declared at %s)", where, ed.ID, prev)
			}
			seen[ed.ID] = where

			element, err := buildElement(group.kind, ed, logger)
			if err != nil {
				return nil, fmt.Errorf("%s (%s): %w", where, ed.ID, err)
			}
			model.Elements = append(model.Elements, element)
		}
	}

	if err := resolveBoundaries(model, logger); err != nil {
		return nil, err
	}
	return model, nil
}

func buildElement(kind core.ElementKind, ed elementDocument, logger *zap.SugaredLogger) (core.Element, error) {
	attrs := make(map[string]string, len(ed.Attributes)+2)
	for name, value := range ed.Attributes {
		attrs[name] = value
	}
	shorthands := map[string]string{"source": ed.Source, "target": ed.Target, "boundary": ed.Boundary, "category": ed.Category}
	for name, value := range shorthands {
		if value == "" {
			continue
		}
		if _, known := core.LookupAttribute(kind, name); !known {
			return core.Element{}, fmt.Errorf("%q is not an attribute of a %s", name, kind)
		}
		if _, set := attrs[name]; !set {
			attrs[name] = value
		}
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec, known := core.LookupAttribute(kind, name)
		if !known {
			logger.Warnw("Unknown attribute ignored by rules", "element", ed.ID, "kind", kind, "attribute", name)
			continue
		}
		canonical, ok := spec.Canonical(attrs[name])
		if !ok {
			return core.Element{}, fmt.Errorf("invalid value %q for %s attribute %s (allowed: %v)", attrs[name], spec.Type, name, spec.Values)
		}
		if canonical == core.UndefinedValue {
			delete(attrs, name)
			continue
		}
		attrs[name] = canonical
	}

	name := ed.Name
	if name == "" {
		name = ed.ID
	}
	return core.Element{ID: ed.ID, Name: name, Kind: kind, Attributes: attrs}, nil
}

// resolveBoundaries copies the category of a referenced boundary into
// boundaryCategory and checks flow endpoints.
func resolveBoundaries(model *core.ThreatModel, logger *zap.SugaredLogger) error {
	boundaries := make(map[string]core.Element)
	for _, e := range model.Elements {
		if e.Kind == core.KindBoundary {
			boundaries[e.ID] = e
		}
	}

	for i := range model.Elements {
		element := &model.Elements[i]
		if element.Kind == core.KindBoundary {
			continue
		}
		if ref := element.Attributes["boundary"]; ref != "" {
			boundary, ok := boundaries[ref]
			if !ok {
				return fmt.Errorf("element %s references unknown boundary %q", element.ID, ref)
			}
			if !element.HasAttr("boundaryCategory") && boundary.HasAttr("category") {
				element.Attributes["boundaryCategory"] = boundary.Attr("category")
			}
		}

		if element.Kind != core.KindDataFlow {
			continue
		}
		for _, endpoint := range []string{"source", "target"} {
			ref := element.Attributes[endpoint]
			if ref == "" {
				continue
			}
			if _, ok := model.Element(ref); !ok {
				logger.Warnw("Data flow endpoint not declared in model", "flow", element.ID, endpoint, ref)
			}
		}
	}
	return nil
}
