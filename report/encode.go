package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"threatgate/core"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var htmlTemplate = template.Must(template.New("report.html.tmpl").Funcs(template.FuncMap{
	"riskClass": func(r core.ThreatRisk) string { return strings.ToLower(r.String()) },
	"risks": func() []core.ThreatRisk {
		return []core.ThreatRisk{core.RiskCritical, core.RiskHigh, core.RiskMedium, core.RiskLow, core.RiskUndefined}
	},
	"count": func(m map[string]int, key fmt.Stringer) int { return m[key.String()] },
}).ParseFS(templateFS, "templates/report.html.tmpl"))

// Encode renders doc in the given format.
func Encode(format Format, doc Document) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatMsgpack:
		return msgpack.Marshal(doc)
	case FormatHTML:
		var buf bytes.Buffer
		if err := htmlTemplate.Execute(&buf, doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}
