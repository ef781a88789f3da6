package detect

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"threatgate/core"

	"go.uber.org/zap"
)

// CompiledRule is a rule whose condition and templates were checked at load time.
type CompiledRule struct {
	core.Rule
	Expr Expression

	title       *template.Template
	description *template.Template
}

// templateData is what rule titles and descriptions are rendered against.
type templateData struct {
	Element core.Element
	Rule    core.Rule
}

// Attr exposes element attributes to templates: {{.Attr "protocol"}}.
func (d templateData) Attr(name string) string {
	return d.Element.Attr(name)
}

// Render fills the title and description templates for element.
func (r *CompiledRule) Render(element core.Element) (string, string, error) {
	data := templateData{Element: element, Rule: r.Rule}
	title, err := renderTemplate(r.title, r.Title, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render title of rule %s: %w", r.ID, err)
	}
	description, err := renderTemplate(r.description, r.Description, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render description of rule %s: %w", r.ID, err)
	}
	return title, description, nil
}

func renderTemplate(tmpl *template.Template, raw string, data templateData) (string, error) {
	if tmpl == nil {
		return raw, nil
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// parseTemplate returns nil for text without actions so it is used verbatim.
func parseTemplate(name, text string) (*template.Template, error) {
	if !strings.Contains(text, "{{") {
		return nil, nil
	}
	return template.New(name).Option("missingkey=zero").Parse(text)
}

// RuleRepository is the in-memory store of compiled rules. Rules keep their
// declaration order, both overall and per element kind.
type RuleRepository struct {
	mu     sync.RWMutex
	rules  []*CompiledRule
	byID   map[string]*CompiledRule
	byKind map[core.ElementKind][]*CompiledRule
	logger *zap.SugaredLogger
}

// NewRuleRepository creates an empty repository. A nil logger disables logging.
func NewRuleRepository(logger *zap.SugaredLogger) *RuleRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RuleRepository{
		byID:   make(map[string]*CompiledRule),
		byKind: make(map[core.ElementKind][]*CompiledRule),
		logger: logger,
	}
}

// CompileRule checks a rule and prepares its condition and templates without storing it.
func CompileRule(rule core.Rule) (*CompiledRule, error) {
	field := fmt.Sprintf("rule %s", rule.ID)
	if strings.TrimSpace(rule.ID) == "" {
		return nil, &core.ConfigurationError{Field: "rule", Reason: "rule id is required"}
	}
	if _, err := core.ParseElementKind(string(rule.AppliesTo)); err != nil {
		return nil, &core.ConfigurationError{Field: field, Reason: "invalid appliesTo", Err: err}
	}

	expr, err := Compile(rule.Condition, rule.AppliesTo)
	if err != nil {
		return nil, &core.ConfigurationError{Field: field, Reason: "invalid condition", Err: err}
	}

	title, err := parseTemplate(rule.ID+".title", rule.Title)
	if err != nil {
		return nil, &core.ConfigurationError{Field: field, Reason: "invalid title template", Err: err}
	}
	description, err := parseTemplate(rule.ID+".description", rule.Description)
	if err != nil {
		return nil, &core.ConfigurationError{Field: field, Reason: "invalid description template", Err: err}
	}

	return &CompiledRule{Rule: rule, Expr: expr, title: title, description: description}, nil
}

// Add compiles rule and appends it. Duplicate ids are rejected.
func (r *RuleRepository) Add(rule core.Rule) error {
	compiled, err := CompileRule(rule)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[rule.ID]; exists {
		return &core.ConfigurationError{Field: fmt.Sprintf("rule %s", rule.ID), Reason: "duplicate rule id"}
	}
	r.rules = append(r.rules, compiled)
	r.byID[rule.ID] = compiled
	r.byKind[rule.AppliesTo] = append(r.byKind[rule.AppliesTo], compiled)
	return nil
}

// AddAll adds rules in order and stops at the first invalid one.
func (r *RuleRepository) AddAll(rules []core.Rule) error {
	for _, rule := range rules {
		if err := r.Add(rule); err != nil {
			return err
		}
	}
	r.logger.Debugf("Compiled %d rules", len(rules))
	return nil
}

// ForKind returns the rules applicable to kind in declaration order.
func (r *RuleRepository) ForKind(kind core.ElementKind) []*CompiledRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKind[kind]
}

// Get returns the rule with the given id.
func (r *RuleRepository) Get(id string) (*CompiledRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byID[id]
	return rule, ok
}

// All returns every rule in declaration order.
func (r *RuleRepository) All() []*CompiledRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CompiledRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of rules.
func (r *RuleRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
