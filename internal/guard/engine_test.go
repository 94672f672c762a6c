package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

type staticBypass bool

func (b staticBypass) Active() bool { return bool(b) }

func defaultEngine(bypass BypassProvider) *Engine {
	return NewEngine(DefaultRules(0.15, 0.25), bypass, zap.NewNop())
}

func enrichedWithTags(tags ...domain.SafetyTag) domain.EnrichedPlan {
	return domain.EnrichedPlan{
		OriginalPlan: domain.Plan{ID: "plan-1", AgentID: "agent-1"},
		DetectedTags: tags,
	}
}

func driftOf(ema float64) *domain.DriftResult {
	return &domain.DriftResult{EMADrift: ema, DriftScore: ema}
}

func TestEvaluate_CleanPlanAllowed(t *testing.T) {
	e := defaultEngine(nil)

	d := e.Evaluate(enrichedWithTags(), nil, domain.ValidationContext{CorrelationID: "c-1"})
	assert.Equal(t, domain.DecisionAllow, d.Decision)
	assert.Empty(t, d.RulesTriggered)
	assert.Equal(t, "c-1", d.CorrelationID)
	assert.Equal(t, "LIVE", d.Mode)
	assert.False(t, d.BypassActive)
}

func TestEvaluate_FinancialRequiresApproval(t *testing.T) {
	e := defaultEngine(nil)
	plan := enrichedWithTags(domain.SafetyTag{Name: "financial", Category: "finance", Confidence: 0.87})

	d := e.Evaluate(plan, nil, domain.ValidationContext{
		UserRole: "analyst",
	})
	assert.Equal(t, domain.DecisionRequireApproval, d.Decision)
	assert.Equal(t, "financial_data_approval", d.DecidingRule)
	assert.Contains(t, d.RulesTriggered, "financial_data_approval")
	assert.Contains(t, d.ComplianceFlags, "financial_review")
}

func TestEvaluate_CFOExemptFromFinancialApproval(t *testing.T) {
	e := defaultEngine(nil)
	plan := enrichedWithTags(domain.SafetyTag{Name: "financial", Confidence: 0.9})

	d := e.Evaluate(plan, nil, domain.ValidationContext{
		UserRole: "cfo",
	})
	assert.Equal(t, domain.DecisionAllow, d.Decision)
	assert.NotContains(t, d.RulesTriggered, "financial_data_approval")
}

func TestEvaluate_DriftAboveBlockThreshold(t *testing.T) {
	e := defaultEngine(nil)

	d := e.Evaluate(enrichedWithTags(), driftOf(0.30), domain.ValidationContext{})
	assert.Equal(t, domain.DecisionBlock, d.Decision)
	assert.Equal(t, "drift_block", d.DecidingRule)
	// drift_warn тоже сработал и остался в аудите
	assert.Contains(t, d.RulesTriggered, "drift_warn")
}

func TestEvaluate_DriftBetweenThresholdsWarns(t *testing.T) {
	e := defaultEngine(nil)

	d := e.Evaluate(enrichedWithTags(), driftOf(0.20), domain.ValidationContext{})
	assert.Equal(t, domain.DecisionWarn, d.Decision)
	assert.Equal(t, "drift_warn", d.DecidingRule)
}

func TestEvaluate_MissingDriftIsNotDrift(t *testing.T) {
	e := defaultEngine(nil)

	d := e.Evaluate(enrichedWithTags(), nil, domain.ValidationContext{})
	assert.Equal(t, domain.DecisionAllow, d.Decision, "absent drift signal must not trip drift rules")
}

func TestEvaluate_SeverityClassWins(t *testing.T) {
	e := defaultEngine(nil)
	// Одновременно financial approval И drift block: побеждает строгий класс
	plan := enrichedWithTags(domain.SafetyTag{Name: "financial", Confidence: 0.9})

	d := e.Evaluate(plan, driftOf(0.30), domain.ValidationContext{
		UserRole: "analyst",
	})
	assert.Equal(t, domain.DecisionBlock, d.Decision)
	assert.Equal(t, "drift_block", d.DecidingRule)
	assert.Contains(t, d.RulesTriggered, "financial_data_approval")
	assert.Contains(t, d.ComplianceFlags, "financial_review", "flags accumulate across all triggered rules")
}

func TestEvaluate_FirstMatchWithinClassDecides(t *testing.T) {
	rules := []Rule{
		{ID: "warn_a", Action: domain.DecisionWarn, When: HasTag{Tag: "pii"}, Reason: "a"},
		{ID: "warn_b", Action: domain.DecisionWarn, When: HasTag{Tag: "pii"}, Reason: "b"},
	}
	e := NewEngine(rules, nil, zap.NewNop())

	d := e.Evaluate(enrichedWithTags(domain.SafetyTag{Name: "pii", Confidence: 0.8}), nil, domain.ValidationContext{})
	assert.Equal(t, "warn_a", d.DecidingRule, "within one severity class the earlier rule decides")
	assert.Equal(t, []string{"warn_a", "warn_b"}, d.RulesTriggered)
}

func TestEvaluate_MalformedRuleFailsSafe(t *testing.T) {
	rules := []Rule{
		{ID: "ok_warn", Action: domain.DecisionWarn, When: HasTag{Tag: "pii"}},
		{ID: "broken", Action: domain.DecisionBlock, When: And{}}, // пустая конъюнкция
	}
	e := NewEngine(rules, nil, zap.NewNop())

	d := e.Evaluate(enrichedWithTags(domain.SafetyTag{Name: "pii", Confidence: 0.8}), nil, domain.ValidationContext{})
	assert.Equal(t, domain.DecisionBlock, d.Decision, "config bug must never default to allow")
	assert.Equal(t, "broken", d.DecidingRule)
	assert.Equal(t, "internal_evaluation_error", d.Reason)
	assert.Contains(t, d.ComplianceFlags, "manual_review_required")
	assert.Contains(t, d.RulesTriggered, "ok_warn", "rules matched before the failure stay in the audit")
}

func TestEvaluate_NilConditionFailsSafe(t *testing.T) {
	e := NewEngine([]Rule{{ID: "nil_rule", Action: domain.DecisionWarn}}, nil, zap.NewNop())

	d := e.Evaluate(enrichedWithTags(), nil, domain.ValidationContext{})
	assert.Equal(t, domain.DecisionBlock, d.Decision)
	assert.Equal(t, "internal_evaluation_error", d.Reason)
}

type panicCondition struct{}

func (panicCondition) Eval(in Input) (bool, error) { panic("condition exploded") }

func TestEvaluate_PanickingConditionFailsSafe(t *testing.T) {
	e := NewEngine([]Rule{{ID: "volatile", Action: domain.DecisionWarn, When: panicCondition{}}}, nil, zap.NewNop())

	d := e.Evaluate(enrichedWithTags(), nil, domain.ValidationContext{})
	assert.Equal(t, domain.DecisionBlock, d.Decision)
	assert.Equal(t, "volatile", d.DecidingRule)
}

func TestEvaluate_BypassOverridesToAllow(t *testing.T) {
	e := defaultEngine(staticBypass(true))
	plan := enrichedWithTags(domain.SafetyTag{Name: "credentials", Confidence: 0.9})

	d := e.Evaluate(plan, driftOf(0.40), domain.ValidationContext{})
	assert.Equal(t, domain.DecisionAllow, d.Decision)
	assert.True(t, d.BypassActive)
	// Вычисление не пропускается: что БЫЛО БЫ решено — в аудите
	assert.Contains(t, d.RulesTriggered, "credentials_block")
	assert.Contains(t, d.RulesTriggered, "drift_block")
}

func TestEvaluate_GeneratesCorrelationID(t *testing.T) {
	e := defaultEngine(nil)

	d := e.Evaluate(enrichedWithTags(), nil, domain.ValidationContext{})
	assert.NotEmpty(t, d.CorrelationID)
	assert.False(t, d.Timestamp.IsZero())
}

func TestConditions_TagConfidenceAbove(t *testing.T) {
	plan := enrichedWithTags(domain.SafetyTag{Name: "pii", Confidence: 0.6})
	in := Input{Plan: plan}

	ok, err := TagConfidenceAbove{Tag: "pii", Threshold: 0.5}.Eval(in)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = TagConfidenceAbove{Tag: "pii", Threshold: 0.6}.Eval(in)
	require.NoError(t, err)
	assert.False(t, ok, "comparison is strictly greater")

	_, err = TagConfidenceAbove{Threshold: 0.5}.Eval(in)
	assert.ErrorIs(t, err, ErrMalformedRule)
}

func TestConditions_BooleanCombinators(t *testing.T) {
	plan := enrichedWithTags(domain.SafetyTag{Name: "pii", Confidence: 0.8})
	in := Input{Plan: plan, Context: domain.ValidationContext{ComplianceRequirements: []string{"GDPR"}}}

	ok, err := And{Conds: []Condition{
		HasTag{Tag: "pii"},
		RequiresCompliance{Regime: "GDPR"},
	}}.Eval(in)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Or{Conds: []Condition{
		HasTag{Tag: "financial"},
		Not{Inner: HasTag{Tag: "financial"}},
	}}.Eval(in)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Or{}.Eval(in)
	assert.ErrorIs(t, err, ErrMalformedRule)

	_, err = Not{}.Eval(in)
	assert.ErrorIs(t, err, ErrMalformedRule)
}

func TestSimulatedEvaluator_NeverEnforces(t *testing.T) {
	engine := defaultEngine(nil)
	sim := &SimulatedEvaluator{Engine: engine, Logger: zap.NewNop()}
	plan := enrichedWithTags(domain.SafetyTag{Name: "credentials", Confidence: 0.9})

	d := sim.Evaluate(plan, nil, domain.ValidationContext{})
	assert.Equal(t, domain.DecisionAllow, d.Decision)
	assert.Equal(t, "SIMULATED", d.Mode)
	assert.Contains(t, d.Reason, "would be BLOCK")
	assert.Contains(t, d.RulesTriggered, "credentials_block")
}

func TestLiveEvaluator_Passthrough(t *testing.T) {
	engine := defaultEngine(nil)
	live := &LiveEvaluator{Engine: engine}
	plan := enrichedWithTags(domain.SafetyTag{Name: "credentials", Confidence: 0.9})

	d := live.Evaluate(plan, nil, domain.ValidationContext{})
	assert.Equal(t, domain.DecisionBlock, d.Decision)
	assert.Equal(t, "LIVE", d.Mode)
}
