package guard

import (
	"errors"
	"fmt"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

// ErrMalformedRule — правило сконфигурировано некорректно. Это баг
// конфигурации, не плохой вход: движок на него отвечает fail-safe Block.
var ErrMalformedRule = errors.New("guard: malformed rule")

// Input — все сигналы, над которыми вычисляются условия правил.
// Drift опционален: запрос может идти без векторов намерения.
type Input struct {
	Plan    domain.EnrichedPlan
	Drift   *domain.DriftResult
	Context domain.ValidationContext
}

// Condition — узел декларативного AST условий. Вместо полноценного
// expression-языка — маленький интерпретатор над типизированными вариантами:
// ИБ-команда собирает правила из кода/конфига, парсер не нужен.
type Condition interface {
	Eval(in Input) (bool, error)
}

// HasTag — у плана есть тег с данным именем (порог уверенности уже
// применен энричером)
type HasTag struct {
	Tag string
}

func (c HasTag) Eval(in Input) (bool, error) {
	if c.Tag == "" {
		return false, fmt.Errorf("%w: HasTag with empty tag name", ErrMalformedRule)
	}
	return in.Plan.HasTag(c.Tag), nil
}

// TagConfidenceAbove — тег есть и его уверенность выше порога
type TagConfidenceAbove struct {
	Tag       string
	Threshold float64
}

func (c TagConfidenceAbove) Eval(in Input) (bool, error) {
	if c.Tag == "" {
		return false, fmt.Errorf("%w: TagConfidenceAbove with empty tag name", ErrMalformedRule)
	}
	return in.Plan.TagConfidence(c.Tag) > c.Threshold, nil
}

// DriftAbove — сглаженный дрейф превысил порог. Без drift-сигнала — false
// (отсутствие измерения не есть измеренное превышение).
type DriftAbove struct {
	Threshold float64
}

func (c DriftAbove) Eval(in Input) (bool, error) {
	if c.Threshold <= 0 {
		return false, fmt.Errorf("%w: DriftAbove threshold must be positive", ErrMalformedRule)
	}
	if in.Drift == nil {
		return false, nil
	}
	return in.Drift.EMADrift > c.Threshold, nil
}

// ContextEquals — точное совпадение поля контекста
type ContextEquals struct {
	Field string
	Value string
}

func (c ContextEquals) Eval(in Input) (bool, error) {
	if c.Field == "" {
		return false, fmt.Errorf("%w: ContextEquals with empty field", ErrMalformedRule)
	}
	return in.Context.Field(c.Field) == c.Value, nil
}

// RequiresCompliance — контекст декларирует данный комплаенс-режим
type RequiresCompliance struct {
	Regime string
}

func (c RequiresCompliance) Eval(in Input) (bool, error) {
	for _, r := range in.Context.ComplianceRequirements {
		if r == c.Regime {
			return true, nil
		}
	}
	return false, nil
}

// Not — отрицание
type Not struct {
	Inner Condition
}

func (c Not) Eval(in Input) (bool, error) {
	if c.Inner == nil {
		return false, fmt.Errorf("%w: Not with nil inner condition", ErrMalformedRule)
	}
	ok, err := c.Inner.Eval(in)
	return !ok, err
}

// And — конъюнкция, short-circuit
type And struct {
	Conds []Condition
}

func (c And) Eval(in Input) (bool, error) {
	if len(c.Conds) == 0 {
		return false, fmt.Errorf("%w: And with no conditions", ErrMalformedRule)
	}
	for _, cond := range c.Conds {
		if cond == nil {
			return false, fmt.Errorf("%w: And with nil condition", ErrMalformedRule)
		}
		ok, err := cond.Eval(in)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Or — дизъюнкция, short-circuit
type Or struct {
	Conds []Condition
}

func (c Or) Eval(in Input) (bool, error) {
	if len(c.Conds) == 0 {
		return false, fmt.Errorf("%w: Or with no conditions", ErrMalformedRule)
	}
	for _, cond := range c.Conds {
		if cond == nil {
			return false, fmt.Errorf("%w: Or with nil condition", ErrMalformedRule)
		}
		ok, err := cond.Eval(in)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Rule — декларативное правило condition -> action.
// Порядок в списке — приоритет внутри одного класса строгости.
type Rule struct {
	ID              string
	Action          domain.DecisionType
	When            Condition
	Reason          string
	ComplianceFlags []string
}

// DefaultRules — стандартный набор правил governance-контура.
// Пороги дрейфа приходят из конфига монитора, чтобы правила и монитор
// не разъезжались.
func DefaultRules(warnThreshold, blockThreshold float64) []Rule {
	return []Rule{
		{
			ID:     "drift_block",
			Action: domain.DecisionBlock,
			When:   DriftAbove{Threshold: blockThreshold},
			Reason: "intent/action drift exceeds block threshold",
		},
		{
			ID:              "credentials_block",
			Action:          domain.DecisionBlock,
			When:            HasTag{Tag: "credentials"},
			Reason:          "credentials detected in plan payload",
			ComplianceFlags: []string{"secret_exposure"},
		},
		{
			ID:     "financial_data_approval",
			Action: domain.DecisionRequireApproval,
			// CFO самому себе апрув не выписывает — его запросы идут Live
			When: And{Conds: []Condition{
				HasTag{Tag: "financial"},
				Not{Inner: ContextEquals{Field: "user_role", Value: "cfo"}},
			}},
			Reason:          "financial data requires human approval",
			ComplianceFlags: []string{"financial_review"},
		},
		{
			ID:              "compliance_regime_approval",
			Action:          domain.DecisionRequireApproval,
			When:            HasTag{Tag: "compliance"},
			Reason:          "plan mentions a regulated compliance regime",
			ComplianceFlags: []string{"compliance_review"},
		},
		{
			ID:     "drift_warn",
			Action: domain.DecisionWarn,
			When:   DriftAbove{Threshold: warnThreshold},
			Reason: "intent/action drift exceeds warn threshold",
		},
		{
			ID:              "pii_warn",
			Action:          domain.DecisionWarn,
			When:            HasTag{Tag: "pii"},
			Reason:          "personally identifiable information detected",
			ComplianceFlags: []string{"pii_review"},
		},
	}
}
