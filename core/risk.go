package core

import (
	"fmt"
	"strings"
)

// ThreatRisk is the severity attached to a rule and every threat it produces.
// Values are declared in ascending order so risks compare with the usual
// integer operators.
type ThreatRisk int

const (
	RiskUndefined ThreatRisk = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = map[ThreatRisk]string{
	RiskUndefined: "Undefined",
	RiskLow:       "Low",
	RiskMedium:    "Medium",
	RiskHigh:      "High",
	RiskCritical:  "Critical",
}

// AllRisks returns every risk level in ascending order.
func AllRisks() []ThreatRisk {
	return []ThreatRisk{RiskUndefined, RiskLow, RiskMedium, RiskHigh, RiskCritical}
}

func (r ThreatRisk) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ThreatRisk(%d)", int(r))
}

// AtLeast reports whether r is greater than or equal to threshold.
func (r ThreatRisk) AtLeast(threshold ThreatRisk) bool {
	return r >= threshold
}

// ParseThreatRisk converts a case-insensitive risk name into a ThreatRisk.
// An empty string parses as RiskUndefined.
func ParseThreatRisk(s string) (ThreatRisk, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return RiskUndefined, nil
	}
	for risk, name := range riskNames {
		if strings.EqualFold(name, trimmed) {
			return risk, nil
		}
	}
	return RiskUndefined, fmt.Errorf("unknown threat risk %q (expected one of Undefined, Low, Medium, High, Critical)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r ThreatRisk) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ThreatRisk) UnmarshalText(text []byte) error {
	parsed, err := ParseThreatRisk(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
