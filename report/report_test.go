package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"threatgate/core"
)

func sampleThreats() []core.Threat {
	return []core.Threat{
		{
			ID:          core.ThreatID("DF-ANON-INTERNET", "browser-web"),
			RuleID:      "DF-ANON-INTERNET",
			ElementID:   "browser-web",
			ElementName: "Browser to web",
			ElementKind: core.KindDataFlow,
			Title:       "Unauthenticated access to <Browser to web>",
			Risk:        core.RiskHigh,
			References:  []string{"https://cwe.mitre.org/data/definitions/306.html"},
		},
		{
			ID:               core.ThreatID("CMP-NO-LOGGING", "web"),
			RuleID:           "CMP-NO-LOGGING",
			ElementID:        "web",
			ElementName:      "Web frontend",
			ElementKind:      core.KindComponent,
			Title:            "No security logging in Web frontend",
			Risk:             core.RiskLow,
			MitigationStatus: core.Mitigated,
			Justification:    "Shipped to the SIEM",
		},
	}
}

func sampleHeader() Header {
	return Header{
		RunID:        "3b241101-e2bb-4255-8caf-4136c566a962",
		ModelName:    "Online Shop",
		ModelVersion: "1.2",
		GeneratedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
		err   bool
	}{
		{input: "html", want: FormatHTML},
		{input: "JSON", want: FormatJSON},
		{input: "yml", want: FormatYAML},
		{input: " yaml ", want: FormatYAML},
		{input: "msgpack", want: FormatMsgpack},
		{input: "pdf", err: true},
		{input: "", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Online Shop":            "online-shop",
		"  Payments / API v2 ":   "payments-api-v2",
		"../../etc/passwd":       "etc-passwd",
		"ÜberService":            "berservice",
		"":                       "threat-model",
		"***":                    "threat-model",
		"already-slugged-name-1": "already-slugged-name-1",
	}
	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, want, Slug(input))
		})
	}
	assert.Equal(t, "online-shop-threats.json", FileName("Online Shop", FormatJSON))
}

func TestNewHeader(t *testing.T) {
	h1 := NewHeader(&core.ThreatsCollection{ModelName: "shop", ModelVersion: "1"})
	h2 := NewHeader(&core.ThreatsCollection{ModelName: "shop"})

	assert.Equal(t, "shop", h1.ModelName)
	assert.Equal(t, "1", h1.ModelVersion)
	assert.Len(t, h1.RunID, 36)
	assert.NotEqual(t, h1.RunID, h2.RunID)
	assert.False(t, h1.GeneratedAt.IsZero())
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleThreats())
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, map[string]int{"High": 1, "Low": 1}, s.ByRisk)
	assert.Equal(t, map[string]int{"NotMitigated": 1, "Mitigated": 1}, s.ByStatus)
}

func TestEncode_JSON(t *testing.T) {
	data, err := Encode(FormatJSON, NewDocument(sampleHeader(), sampleThreats()))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "3b241101-e2bb-4255-8caf-4136c566a962", decoded["runId"])
	assert.Equal(t, "Online Shop", decoded["modelName"])

	threats := decoded["threats"].([]interface{})
	require.Len(t, threats, 2)
	first := threats[0].(map[string]interface{})
	assert.Equal(t, "High", first["risk"])
	assert.Equal(t, "NotMitigated", first["mitigationStatus"])
	assert.Equal(t, core.ThreatID("DF-ANON-INTERNET", "browser-web"), first["id"])
}

func TestEncode_YAML(t *testing.T) {
	data, err := Encode(FormatYAML, NewDocument(sampleHeader(), sampleThreats()))
	require.NoError(t, err)

	var decoded struct {
		RunID   string `yaml:"runId"`
		Threats []struct {
			ID               string `yaml:"id"`
			Risk             string `yaml:"risk"`
			MitigationStatus string `yaml:"mitigationStatus"`
		} `yaml:"threats"`
	}
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, sampleHeader().RunID, decoded.RunID)
	require.Len(t, decoded.Threats, 2)
	assert.Equal(t, "Low", decoded.Threats[1].Risk)
	assert.Equal(t, "Mitigated", decoded.Threats[1].MitigationStatus)
}

func TestEncode_Msgpack(t *testing.T) {
	doc := NewDocument(sampleHeader(), sampleThreats())
	data, err := Encode(FormatMsgpack, doc)
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, msgpack.Unmarshal(data, &decoded))
	assert.Equal(t, doc.RunID, decoded.RunID)
	assert.Equal(t, doc.Threats, decoded.Threats)
}

func TestEncode_HTMLEscapes(t *testing.T) {
	data, err := Encode(FormatHTML, NewDocument(sampleHeader(), sampleThreats()))
	require.NoError(t, err)

	html := string(data)
	assert.Contains(t, html, "<title>Threats: Online Shop</title>")
	assert.Contains(t, html, "Unauthenticated access to &lt;Browser to web&gt;")
	assert.NotContains(t, html, "<Browser to web>")
	assert.Contains(t, html, `class="high"`)
	assert.Contains(t, html, "Shipped to the SIEM")
}

func TestEncode_HTMLEmpty(t *testing.T) {
	data, err := Encode(FormatHTML, NewDocument(sampleHeader(), nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), "No threats were generated")
}

func TestFileReporter_Publish(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	reporter, err := NewFileReporter(dir, FormatJSON, nil)
	require.NoError(t, err)

	header := sampleHeader()
	require.NoError(t, reporter.Publish(header, sampleThreats()))

	path := filepath.Join(dir, "online-shop-threats.json")
	assert.Equal(t, path, reporter.Path(header))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{"))

	// Publishing again replaces the file and leaves no temp files behind.
	require.NoError(t, reporter.Publish(header, nil))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "online-shop-threats.json", entries[0].Name())
}

func TestFileReporter_SameModelNameKeepsBothReports(t *testing.T) {
	dir := t.TempDir()
	reporter, err := NewFileReporter(dir, FormatJSON, nil)
	require.NoError(t, err)

	first := sampleHeader()
	second := sampleHeader()
	second.RunID = "9f6c2d1e-0a4b-4c3d-8e7f-112233445566"

	require.NoError(t, reporter.Publish(first, sampleThreats()))
	require.NoError(t, reporter.Publish(second, nil))

	assert.Equal(t, filepath.Join(dir, "online-shop-threats.json"), reporter.Path(first))
	assert.Equal(t, filepath.Join(dir, "online-shop-9f6c2d1e0a4b-threats.json"), reporter.Path(second))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	assert.ElementsMatch(t, []string{"online-shop-threats.json", "online-shop-9f6c2d1e0a4b-threats.json"}, names)

	data, err := os.ReadFile(reporter.Path(first))
	require.NoError(t, err)
	assert.Contains(t, string(data), first.RunID)
}

func TestFileReporter_Errors(t *testing.T) {
	_, err := NewFileReporter(t.TempDir(), Format("pdf"), nil)
	assert.ErrorIs(t, err, &core.ConfigurationError{Field: "outFormat"})

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	_, err = NewFileReporter(filepath.Join(blocker, "reports"), FormatHTML, nil)
	var writeErr *core.ReportWriteError
	require.True(t, errors.As(err, &writeErr))
}

func TestFileReporter_PublishFailure(t *testing.T) {
	dir := t.TempDir()
	reporter, err := NewFileReporter(dir, FormatHTML, nil)
	require.NoError(t, err)

	// A directory occupying the report path makes the rename fail.
	header := sampleHeader()
	require.NoError(t, os.Mkdir(reporter.Path(header), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(reporter.Path(header), "keep"), []byte("x"), 0o600))

	err = reporter.Publish(header, sampleThreats())
	var writeErr *core.ReportWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, reporter.Path(header), writeErr.Path)
}
