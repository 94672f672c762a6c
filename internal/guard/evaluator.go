package guard

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

func fmtPanic(ruleID string, r interface{}) error {
	return fmt.Errorf("%w: panic in rule %s: %v", ErrMalformedRule, ruleID, r)
}

// Evaluator — стратегия выдачи вердикта. Два режима (dry-run и боевой)
// выбираются конфигурацией при сборке, а не строковыми сравнениями по коду.
type Evaluator interface {
	Evaluate(plan domain.EnrichedPlan, drift *domain.DriftResult, vctx domain.ValidationContext) domain.GovernanceDecision
}

// LiveEvaluator — боевой режим: вердикт движка уходит наружу как есть
type LiveEvaluator struct {
	Engine *Engine
}

func (e *LiveEvaluator) Evaluate(plan domain.EnrichedPlan, drift *domain.DriftResult, vctx domain.ValidationContext) domain.GovernanceDecision {
	return e.Engine.Evaluate(plan, drift, vctx)
}

// SimulatedEvaluator — dry-run: правила вычисляются и логируются полностью,
// но наружу всегда уходит Allow с Mode=SIMULATED и would-be вердиктом в Reason.
// Нужен для обкатки нового набора правил на живом трафике без риска.
type SimulatedEvaluator struct {
	Engine *Engine
	Logger *zap.Logger
}

func (e *SimulatedEvaluator) Evaluate(plan domain.EnrichedPlan, drift *domain.DriftResult, vctx domain.ValidationContext) domain.GovernanceDecision {
	decision := e.Engine.Evaluate(plan, drift, vctx)

	if decision.Decision != domain.DecisionAllow {
		e.Logger.Info("simulated decision (not enforced)",
			zap.String("correlation_id", decision.CorrelationID),
			zap.String("would_be", string(decision.Decision)),
			zap.String("deciding_rule", decision.DecidingRule),
		)
	}

	decision.Reason = fmt.Sprintf("simulated: would be %s (%s)", decision.Decision, decision.Reason)
	decision.Decision = domain.DecisionAllow
	decision.Mode = "SIMULATED"
	return decision
}
