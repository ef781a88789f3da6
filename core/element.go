package core

import (
	"fmt"
	"strings"
)

// UndefinedValue is the value an element reports for an attribute it does not declare.
const UndefinedValue = "undefined"

// ElementKind tags the four groups of a threat model.
type ElementKind string

const (
	KindComponent ElementKind = "component"
	KindDataFlow  ElementKind = "dataFlow"
	KindBoundary  ElementKind = "boundary"
	KindActor     ElementKind = "actor"
)

// ElementKinds lists the kinds in the order the model loader emits them.
func ElementKinds() []ElementKind {
	return []ElementKind{KindComponent, KindDataFlow, KindBoundary, KindActor}
}

// ParseElementKind accepts the canonical kind names case-insensitively.
func ParseElementKind(s string) (ElementKind, error) {
	for _, kind := range ElementKinds() {
		if strings.EqualFold(string(kind), strings.TrimSpace(s)) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown element kind %q", s)
}

// Element is one component, data flow, boundary or actor of a threat model.
type Element struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Kind       ElementKind       `json:"kind" yaml:"kind"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Attr resolves an attribute value, returning UndefinedValue when absent or blank.
func (e Element) Attr(name string) string {
	if v, ok := e.Attributes[name]; ok && v != "" {
		return v
	}
	return UndefinedValue
}

// HasAttr reports whether the element declares a non-blank value for name.
func (e Element) HasAttr(name string) bool {
	return e.Attr(name) != UndefinedValue
}

// ThreatModel is the architecture description threats are generated for.
// The engine treats it as read-only.
type ThreatModel struct {
	Name     string    `json:"name" yaml:"name"`
	Version  string    `json:"version" yaml:"version"`
	Elements []Element `json:"elements" yaml:"elements"`
}

// Element returns the element with the given id.
func (m *ThreatModel) Element(id string) (Element, bool) {
	for _, e := range m.Elements {
		if e.ID == id {
			return e, true
		}
	}
	return Element{}, false
}

// CountByKind returns how many elements of each kind the model declares.
func (m *ThreatModel) CountByKind() map[ElementKind]int {
	counts := make(map[ElementKind]int, 4)
	for _, e := range m.Elements {
		counts[e.Kind]++
	}
	return counts
}
