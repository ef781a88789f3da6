package detect

import (
	"errors"
	"strings"
	"testing"
	"time"

	"threatgate/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleThreats() *core.ThreatsCollection {
	return &core.ThreatsCollection{
		ModelName: "shop",
		Threats: []core.Threat{
			{ID: core.ThreatID("R1", "flow-1"), RuleID: "R1", ElementID: "flow-1", Risk: core.RiskHigh},
			{ID: core.ThreatID("R2", "flow-1"), RuleID: "R2", ElementID: "flow-1", Risk: core.RiskLow},
			{ID: core.ThreatID("R1", "flow-2"), RuleID: "R1", ElementID: "flow-2", Risk: core.RiskHigh},
			{ID: core.ThreatID("C1", "db"), RuleID: "C1", ElementID: "db", Risk: core.RiskCritical},
		},
	}
}

func statuses(c *core.ThreatsCollection) []core.MitigationStatus {
	out := make([]core.MitigationStatus, len(c.Threats))
	for i, t := range c.Threats {
		out[i] = t.MitigationStatus
	}
	return out
}

func TestNewMitigator_DullWhenEmpty(t *testing.T) {
	mitigator, err := NewMitigator(nil)
	require.NoError(t, err)
	assert.IsType(t, DullMitigator{}, mitigator)

	threats := sampleThreats()
	require.NoError(t, mitigator.Apply(threats))
	for _, threat := range threats.Threats {
		assert.Equal(t, core.NotMitigated, threat.MitigationStatus)
	}
}

func TestStandardMitigator_MatchesThreatID(t *testing.T) {
	threats := sampleThreats()
	target := threats.Threats[0].ID

	mitigator, err := NewMitigator([]core.Mitigation{
		{Pattern: target, Status: core.Mitigated, Justification: "TLS enforced at the gateway"},
	})
	require.NoError(t, err)
	require.NoError(t, mitigator.Apply(threats))

	assert.Equal(t, []core.MitigationStatus{core.Mitigated, core.NotMitigated, core.NotMitigated, core.NotMitigated}, statuses(threats))
	assert.Equal(t, "TLS enforced at the gateway", threats.Threats[0].Justification)
}

func TestStandardMitigator_FallsBackToElementID(t *testing.T) {
	threats := sampleThreats()
	mitigator, err := NewStandardMitigator([]core.Mitigation{
		{Pattern: "flow-1", Status: core.PartiallyMitigated},
	})
	require.NoError(t, err)
	require.NoError(t, mitigator.Apply(threats))

	assert.Equal(t, []core.MitigationStatus{core.PartiallyMitigated, core.PartiallyMitigated, core.NotMitigated, core.NotMitigated}, statuses(threats))
}

func TestStandardMitigator_FirstMatchWins(t *testing.T) {
	threats := sampleThreats()
	mitigator, err := NewStandardMitigator([]core.Mitigation{
		{Pattern: "flow-*", Status: core.PartiallyMitigated, Justification: "first"},
		{Pattern: "flow-1", Status: core.Mitigated, Justification: "second"},
	})
	require.NoError(t, err)
	require.NoError(t, mitigator.Apply(threats))

	assert.Equal(t, core.PartiallyMitigated, threats.Threats[0].MitigationStatus)
	assert.Equal(t, "first", threats.Threats[0].Justification)
}

func TestStandardMitigator_ThreatIDBeatsElementID(t *testing.T) {
	threats := sampleThreats()
	mitigator, err := NewStandardMitigator([]core.Mitigation{
		{Pattern: "flow-1", Status: core.PartiallyMitigated, Justification: "element"},
		{Pattern: threats.Threats[0].ID, Status: core.Mitigated, Justification: "threat"},
	})
	require.NoError(t, err)
	require.NoError(t, mitigator.Apply(threats))

	assert.Equal(t, "threat", threats.Threats[0].Justification)
	assert.Equal(t, "element", threats.Threats[1].Justification)
}

func TestStandardMitigator_PatternKinds(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    []core.MitigationStatus
	}{
		{name: "glob on element", pattern: "flow-?", want: []core.MitigationStatus{core.Mitigated, core.Mitigated, core.Mitigated, core.NotMitigated}},
		{name: "character class", pattern: "flow-[2]", want: []core.MitigationStatus{core.NotMitigated, core.NotMitigated, core.Mitigated, core.NotMitigated}},
		{name: "regex", pattern: "regex:^(db|flow-2)$", want: []core.MitigationStatus{core.NotMitigated, core.NotMitigated, core.Mitigated, core.Mitigated}},
		{name: "exact miss", pattern: "flow", want: []core.MitigationStatus{core.NotMitigated, core.NotMitigated, core.NotMitigated, core.NotMitigated}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			threats := sampleThreats()
			mitigator, err := NewStandardMitigator([]core.Mitigation{{Pattern: tt.pattern, Status: core.Mitigated}})
			require.NoError(t, err)
			require.NoError(t, mitigator.Apply(threats))
			assert.Equal(t, tt.want, statuses(threats))
		})
	}
}

func TestStandardMitigator_PreservesCollection(t *testing.T) {
	threats := sampleThreats()
	before := sampleThreats()

	mitigator, err := NewStandardMitigator([]core.Mitigation{
		{Pattern: "*", Status: core.Mitigated, Justification: "accepted"},
	})
	require.NoError(t, err)
	require.NoError(t, mitigator.Apply(threats))

	require.Equal(t, before.Len(), threats.Len())
	for i := range threats.Threats {
		got := threats.Threats[i]
		want := before.Threats[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Risk, got.Risk)
		assert.Equal(t, want.RuleID, got.RuleID)
		assert.Equal(t, core.Mitigated, got.MitigationStatus)
	}
}

func TestNewStandardMitigator_InvalidPatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{name: "empty", pattern: " "},
		{name: "bad glob", pattern: "flow-[1"},
		{name: "bad regex", pattern: "regex:(unclosed"},
		{name: "empty regex", pattern: "regex:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStandardMitigator([]core.Mitigation{{Pattern: tt.pattern, Status: core.Mitigated}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, &core.ConfigurationError{}))
		})
	}
}

func TestStandardMitigator_RegexTimeout(t *testing.T) {
	threats := &core.ThreatsCollection{Threats: []core.Threat{
		{ID: "x", ElementID: strings.Repeat("a", 40) + "!"},
	}}
	mitigator, err := NewStandardMitigator(
		[]core.Mitigation{{Pattern: "regex:^(a+)+$", Status: core.Mitigated}},
		WithRegexTimeout(time.Millisecond),
	)
	require.NoError(t, err)

	err = mitigator.Apply(threats)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegexTimeout)
	assert.Equal(t, core.NotMitigated, threats.Threats[0].MitigationStatus)
}
