// Package report renders generated threats to files.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatgate/core"
)

// Format selects the report encoding.
type Format string

const (
	FormatHTML    Format = "html"
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
)

// Formats lists the supported formats, default first.
func Formats() []Format {
	return []Format{FormatHTML, FormatJSON, FormatYAML, FormatMsgpack}
}

// ParseFormat accepts a format name case-insensitively. "yml" is an alias of yaml.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "yml" {
		return FormatYAML, nil
	}
	for _, f := range Formats() {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown report format %q (expected one of html, json, yaml, msgpack)", s)
}

// Extension is the file extension written for the format.
func (f Format) Extension() string {
	return string(f)
}

// Header identifies one run over one threat model.
type Header struct {
	RunID        string    `json:"runId" yaml:"runId" msgpack:"runId"`
	ModelName    string    `json:"modelName" yaml:"modelName" msgpack:"modelName"`
	ModelVersion string    `json:"modelVersion,omitempty" yaml:"modelVersion,omitempty" msgpack:"modelVersion,omitempty"`
	GeneratedAt  time.Time `json:"generatedAt" yaml:"generatedAt" msgpack:"generatedAt"`
}

// NewHeader stamps a collection with a fresh run id.
func NewHeader(collection *core.ThreatsCollection) Header {
	return Header{
		RunID:        uuid.NewString(),
		ModelName:    collection.ModelName,
		ModelVersion: collection.ModelVersion,
		GeneratedAt:  time.Now().UTC(),
	}
}

// Summary holds the per-risk and per-status counts shown at the top of a report.
type Summary struct {
	Total    int            `json:"total" yaml:"total" msgpack:"total"`
	ByRisk   map[string]int `json:"byRisk" yaml:"byRisk" msgpack:"byRisk"`
	ByStatus map[string]int `json:"byStatus" yaml:"byStatus" msgpack:"byStatus"`
}

// Summarize counts threats by risk and mitigation status.
func Summarize(threats []core.Threat) Summary {
	s := Summary{
		Total:    len(threats),
		ByRisk:   make(map[string]int),
		ByStatus: make(map[string]int),
	}
	for _, t := range threats {
		s.ByRisk[t.Risk.String()]++
		s.ByStatus[t.MitigationStatus.String()]++
	}
	return s
}

// Document is the full report as encoded on disk.
type Document struct {
	Header  `yaml:",inline"`
	Summary Summary       `json:"summary" yaml:"summary" msgpack:"summary"`
	Threats []core.Threat `json:"threats" yaml:"threats" msgpack:"threats"`
}

// NewDocument assembles a report. Threats keep their order.
func NewDocument(header Header, threats []core.Threat) Document {
	if threats == nil {
		threats = []core.Threat{}
	}
	return Document{Header: header, Summary: Summarize(threats), Threats: threats}
}

// Slug turns a model name into a file name stem.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "threat-model"
	}
	return slug
}

// FileName is the report file name for a model: <slug>-threats.<ext>.
func FileName(modelName string, format Format) string {
	return fmt.Sprintf("%s-threats.%s", Slug(modelName), format.Extension())
}
