package core

// Rule maps a condition over one element kind to a threat template.
type Rule struct {
	ID          string      `json:"id" yaml:"id" validate:"required"`
	AppliesTo   ElementKind `json:"appliesTo" yaml:"appliesTo" validate:"required"`
	Condition   string      `json:"condition" yaml:"condition" validate:"required"`
	Risk        ThreatRisk  `json:"risk" yaml:"risk"`
	Title       string      `json:"title" yaml:"title" validate:"required"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string      `json:"category,omitempty" yaml:"category,omitempty"` // e.g. STRIDE letter or CWE family
	References  []string    `json:"references,omitempty" yaml:"references,omitempty"`
}
