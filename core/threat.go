package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// MitigationStatus records whether a generated threat has been addressed.
type MitigationStatus int

const (
	NotMitigated MitigationStatus = iota
	Mitigated
	PartiallyMitigated
)

func (s MitigationStatus) String() string {
	switch s {
	case NotMitigated:
		return "NotMitigated"
	case Mitigated:
		return "Mitigated"
	case PartiallyMitigated:
		return "PartiallyMitigated"
	default:
		return fmt.Sprintf("MitigationStatus(%d)", int(s))
	}
}

// ParseMitigationStatus accepts the status names case-insensitively and
// ignores '-', '_' and spaces ("partially-mitigated" is valid).
func ParseMitigationStatus(s string) (MitigationStatus, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch normalized {
	case "notmitigated":
		return NotMitigated, nil
	case "mitigated":
		return Mitigated, nil
	case "partiallymitigated":
		return PartiallyMitigated, nil
	}
	return NotMitigated, fmt.Errorf("unknown mitigation status %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s MitigationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *MitigationStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseMitigationStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ThreatID derives the identifier of the threat a rule raises for an element.
// The same pair always yields the same id. Each part is length-prefixed, so
// no choice of characters in either id can make two pairs encode alike.
func ThreatID(ruleID, elementID string) string {
	h := sha256.New()
	var size [8]byte
	for _, part := range []string{ruleID, elementID} {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// Threat is one rule matching one element.
type Threat struct {
	ID               string           `json:"id" yaml:"id" msgpack:"id"`
	RuleID           string           `json:"ruleId" yaml:"ruleId" msgpack:"ruleId"`
	ElementID        string           `json:"elementId" yaml:"elementId" msgpack:"elementId"`
	ElementName      string           `json:"elementName,omitempty" yaml:"elementName,omitempty" msgpack:"elementName,omitempty"`
	ElementKind      ElementKind      `json:"elementKind" yaml:"elementKind" msgpack:"elementKind"`
	Title            string           `json:"title" yaml:"title" msgpack:"title"`
	Description      string           `json:"description,omitempty" yaml:"description,omitempty" msgpack:"description,omitempty"`
	Category         string           `json:"category,omitempty" yaml:"category,omitempty" msgpack:"category,omitempty"`
	References       []string         `json:"references,omitempty" yaml:"references,omitempty" msgpack:"references,omitempty"`
	Risk             ThreatRisk       `json:"risk" yaml:"risk" msgpack:"risk"`
	MitigationStatus MitigationStatus `json:"mitigationStatus" yaml:"mitigationStatus" msgpack:"mitigationStatus"`
	Justification    string           `json:"justification,omitempty" yaml:"justification,omitempty" msgpack:"justification,omitempty"`
}

// ThreatsCollection is the ordered result of one generation pass.
type ThreatsCollection struct {
	ModelName    string   `json:"modelName" yaml:"modelName"`
	ModelVersion string   `json:"modelVersion" yaml:"modelVersion"`
	Threats      []Threat `json:"threats" yaml:"threats"`
}

// Len returns the number of threats.
func (c *ThreatsCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Threats)
}

// IDs returns the threat ids in collection order.
func (c *ThreatsCollection) IDs() []string {
	ids := make([]string, 0, c.Len())
	for _, t := range c.Threats {
		ids = append(ids, t.ID)
	}
	return ids
}

// CountByRisk tallies threats per risk level.
func (c *ThreatsCollection) CountByRisk() map[ThreatRisk]int {
	counts := make(map[ThreatRisk]int)
	for _, t := range c.Threats {
		counts[t.Risk]++
	}
	return counts
}

// CountByStatus tallies threats per mitigation status.
func (c *ThreatsCollection) CountByStatus() map[MitigationStatus]int {
	counts := make(map[MitigationStatus]int)
	for _, t := range c.Threats {
		counts[t.MitigationStatus]++
	}
	return counts
}
