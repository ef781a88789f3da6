package core

// Mitigation overrides the status of every threat its pattern matches.
// Pattern is compared against the threat id and then the element id.
type Mitigation struct {
	Pattern       string           `json:"threat" yaml:"threat" validate:"required"`
	Status        MitigationStatus `json:"status" yaml:"status"`
	Justification string           `json:"justification,omitempty" yaml:"justification,omitempty"`
}
