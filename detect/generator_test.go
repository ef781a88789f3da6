package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"threatgate/core"
	"threatgate/util/goroutine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anonymousInternetRule = core.Rule{
	ID:        "R1",
	AppliesTo: core.KindDataFlow,
	Condition: "authenticationMethod == anonymous AND boundaryCategory == globalNetwork",
	Risk:      core.RiskHigh,
	Title:     "Anonymous access over the internet",
}

func newRepo(t *testing.T, rules ...core.Rule) *RuleRepository {
	t.Helper()
	repo := NewRuleRepository(nil)
	require.NoError(t, repo.AddAll(rules))
	return repo
}

// addUnchecked stores a rule whose condition skipped validation.
func addUnchecked(repo *RuleRepository, rule core.Rule, expr Expression) {
	compiled := &CompiledRule{Rule: rule, Expr: expr}
	repo.rules = append(repo.rules, compiled)
	repo.byID[rule.ID] = compiled
	repo.byKind[rule.AppliesTo] = append(repo.byKind[rule.AppliesTo], compiled)
}

func anonymousInternetModel() *core.ThreatModel {
	return &core.ThreatModel{
		Name:    "shop",
		Version: "1.0",
		Elements: []core.Element{
			{ID: "web", Name: "Web", Kind: core.KindComponent},
			{ID: "flow-1", Name: "Internet to Web", Kind: core.KindDataFlow, Attributes: map[string]string{
				"authenticationMethod": "anonymous",
				"boundaryCategory":     "globalNetwork",
			}},
		},
	}
}

func TestGenerate_SingleMatchingRule(t *testing.T) {
	generator := NewGenerator(newRepo(t, anonymousInternetRule))

	threats, err := generator.Generate(context.Background(), anonymousInternetModel())
	require.NoError(t, err)

	require.Equal(t, 1, threats.Len())
	threat := threats.Threats[0]
	assert.Equal(t, core.ThreatID("R1", "flow-1"), threat.ID)
	assert.Equal(t, "R1", threat.RuleID)
	assert.Equal(t, "flow-1", threat.ElementID)
	assert.Equal(t, core.RiskHigh, threat.Risk)
	assert.Equal(t, core.NotMitigated, threat.MitigationStatus)
	assert.Equal(t, "shop", threats.ModelName)
	assert.Equal(t, "1.0", threats.ModelVersion)
}

func TestGenerate_KindAbsentFromModel(t *testing.T) {
	actorRule := core.Rule{ID: "A1", AppliesTo: core.KindActor, Condition: "trusted != true", Risk: core.RiskCritical, Title: "x"}
	generator := NewGenerator(newRepo(t, actorRule))

	threats, err := generator.Generate(context.Background(), anonymousInternetModel())
	require.NoError(t, err)
	assert.Equal(t, 0, threats.Len())
}

func TestGenerate_OrderIsElementThenRule(t *testing.T) {
	repo := newRepo(t,
		core.Rule{ID: "low-first", AppliesTo: core.KindDataFlow, Condition: "protocol == http", Risk: core.RiskLow, Title: "cleartext"},
		core.Rule{ID: "critical-second", AppliesTo: core.KindDataFlow, Condition: "encrypted != true", Risk: core.RiskCritical, Title: "unencrypted"},
		core.Rule{ID: "component", AppliesTo: core.KindComponent, Condition: "logging != true", Risk: core.RiskMedium, Title: "no logging"},
	)
	model := &core.ThreatModel{Name: "m", Elements: []core.Element{
		{ID: "f2", Kind: core.KindDataFlow, Attributes: map[string]string{"protocol": "http"}},
		{ID: "c1", Kind: core.KindComponent},
		{ID: "f1", Kind: core.KindDataFlow, Attributes: map[string]string{"protocol": "http"}},
	}}

	threats, err := NewGenerator(repo).Generate(context.Background(), model)
	require.NoError(t, err)

	var got []string
	for _, threat := range threats.Threats {
		got = append(got, threat.ElementID+"/"+threat.RuleID)
	}
	assert.Equal(t, []string{
		"f2/low-first", "f2/critical-second",
		"c1/component",
		"f1/low-first", "f1/critical-second",
	}, got)
}

func TestGenerate_Idempotent(t *testing.T) {
	repo := newRepo(t, anonymousInternetRule,
		core.Rule{ID: "R2", AppliesTo: core.KindDataFlow, Condition: "encrypted != true", Risk: core.RiskMedium, Title: "t"})
	model := anonymousInternetModel()

	first, err := NewGenerator(repo).Generate(context.Background(), model)
	require.NoError(t, err)
	second, err := NewGenerator(repo).Generate(context.Background(), model)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func largeModel(n int) *core.ThreatModel {
	model := &core.ThreatModel{Name: "large"}
	protocols := []string{"http", "https", "ftp", "sftp"}
	for i := 0; i < n; i++ {
		model.Elements = append(model.Elements, core.Element{
			ID:   fmt.Sprintf("flow-%03d", i),
			Kind: core.KindDataFlow,
			Attributes: map[string]string{
				"protocol":  protocols[i%len(protocols)],
				"encrypted": fmt.Sprintf("%t", i%3 == 0),
			},
		})
	}
	return model
}

func TestGenerate_ParallelMatchesSequential(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	repo := newRepo(t,
		core.Rule{ID: "cleartext", AppliesTo: core.KindDataFlow, Condition: "protocol in [http, ftp]", Risk: core.RiskHigh, Title: "t"},
		core.Rule{ID: "unencrypted", AppliesTo: core.KindDataFlow, Condition: "encrypted == false", Risk: core.RiskMedium, Title: "t"},
	)
	model := largeModel(200)

	sequential, err := NewGenerator(repo).Generate(context.Background(), model)
	require.NoError(t, err)
	parallel, err := NewGenerator(repo, WithWorkers(8)).Generate(context.Background(), model)
	require.NoError(t, err)

	assert.NotZero(t, sequential.Len())
	assert.Equal(t, sequential.IDs(), parallel.IDs())
	assert.Equal(t, sequential, parallel)
}

func TestGenerate_EvaluationErrorAborts(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			repo := newRepo(t, core.Rule{ID: "ok", AppliesTo: core.KindDataFlow, Condition: "protocol == http", Title: "t"})
			addUnchecked(repo, core.Rule{ID: "broken", AppliesTo: core.KindDataFlow, Title: "t"},
				&Comparison{Attribute: "colour", Operator: OpEqual, Values: []string{"red"}})

			threats, err := NewGenerator(repo, WithWorkers(workers)).Generate(context.Background(), largeModel(20))
			require.Error(t, err)
			assert.Nil(t, threats)

			var evalErr *core.EvaluationError
			require.True(t, errors.As(err, &evalErr))
			assert.Equal(t, "broken", evalErr.RuleID)
			assert.Equal(t, "flow-000", evalErr.ElementID, "first failing element in model order")
			assert.True(t, errors.Is(err, &UnknownAttributeError{Attribute: "colour"}))
		})
	}
}

func TestGenerate_SeparatorCharactersInIDs(t *testing.T) {
	repo := newRepo(t,
		core.Rule{ID: "R|a", AppliesTo: core.KindDataFlow, Condition: "protocol == http", Risk: core.RiskHigh, Title: "t"},
		core.Rule{ID: "R", AppliesTo: core.KindDataFlow, Condition: "protocol == http", Risk: core.RiskHigh, Title: "t"},
	)
	model := &core.ThreatModel{Name: "pipes", Elements: []core.Element{
		{ID: "b", Kind: core.KindDataFlow, Attributes: map[string]string{"protocol": "http"}},
		{ID: "a|b", Kind: core.KindDataFlow, Attributes: map[string]string{"protocol": "http"}},
	}}

	threats, err := NewGenerator(repo).Generate(context.Background(), model)
	require.NoError(t, err)
	require.Equal(t, 4, threats.Len())

	ids := map[string]bool{}
	for _, threat := range threats.Threats {
		ids[threat.ID] = true
	}
	assert.Len(t, ids, 4)
}

func TestGenerate_DuplicateThreatIDFails(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			repo := newRepo(t, core.Rule{ID: "R1", AppliesTo: core.KindDataFlow, Condition: "protocol == http", Risk: core.RiskHigh, Title: "t"})
			model := &core.ThreatModel{Name: "dup", Elements: []core.Element{
				{ID: "flow-1", Kind: core.KindDataFlow, Attributes: map[string]string{"protocol": "http"}},
				{ID: "flow-1", Kind: core.KindDataFlow, Attributes: map[string]string{"protocol": "http"}},
			}}

			threats, err := NewGenerator(repo, WithWorkers(workers)).Generate(context.Background(), model)
			require.Error(t, err)
			assert.Nil(t, threats)

			var evalErr *core.EvaluationError
			require.True(t, errors.As(err, &evalErr))
			assert.Equal(t, "R1", evalErr.RuleID)
			assert.Equal(t, "flow-1", evalErr.ElementID)
			assert.ErrorIs(t, err, core.ErrDuplicateThreatID)
		})
	}
}

func TestGenerate_TraceHook(t *testing.T) {
	var mu sync.Mutex
	traced := map[string]bool{}
	hook := func(rule *CompiledRule, element core.Element, ctx *EvaluationContext, matched bool) {
		mu.Lock()
		defer mu.Unlock()
		traced[rule.ID+"/"+element.ID] = matched
		assert.Equal(t, 3, ctx.Len(), "every node of the condition is traced")
	}

	generator := NewGenerator(newRepo(t, anonymousInternetRule), WithTrace(hook), WithWorkers(2))
	_, err := generator.Generate(context.Background(), anonymousInternetModel())
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"R1/flow-1": true}, traced)
}

func TestGenerate_DoesNotMutateModel(t *testing.T) {
	model := anonymousInternetModel()
	before := *model
	beforeAttrs := map[string]string{}
	for k, v := range model.Elements[1].Attributes {
		beforeAttrs[k] = v
	}

	_, err := NewGenerator(newRepo(t, anonymousInternetRule)).Generate(context.Background(), model)
	require.NoError(t, err)

	assert.Equal(t, before.Elements, model.Elements)
	assert.Equal(t, beforeAttrs, model.Elements[1].Attributes)
}

func TestGenerate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGenerator(newRepo(t, anonymousInternetRule)).Generate(ctx, largeModel(5))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewGenerator(newRepo(t, anonymousInternetRule), WithWorkers(3)).Generate(ctx, largeModel(5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_NilModel(t *testing.T) {
	_, err := NewGenerator(newRepo(t)).Generate(context.Background(), nil)
	assert.Error(t, err)
}
