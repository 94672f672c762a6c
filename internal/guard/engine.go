package guard

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

// BypassProvider — аварийный kill-switch (внешний сигнал). При активном
// байпасе движок ВСЕ РАВНО вычисляет и логирует вердикт, но наружу уходит
// Allow с BypassActive=true — сниженное покрытие остается аудируемым.
type BypassProvider interface {
	Active() bool
}

// Engine — Guardian Decision Engine. Вычисление правил чистое и без
// сайд-эффектов над входом, поэтому конкурентные запросы безопасны «бесплатно»:
// единственное разделяемое мутабельное состояние (EMA) синхронизировано выше,
// в мониторе дрейфа.
//
// State machine запроса: Pending -> Evaluated -> терминальный вердикт.
// Evaluate — один атомарный шаг, промежуточное решение снаружи не наблюдаемо.
type Engine struct {
	rules  []Rule
	bypass BypassProvider // Может быть nil — тогда байпаса нет
	logger *zap.Logger
}

// NewEngine собирает движок. rules — упорядоченный список (приоритет внутри
// класса строгости).
func NewEngine(rules []Rule, bypass BypassProvider, logger *zap.Logger) *Engine {
	return &Engine{
		rules:  rules,
		bypass: bypass,
		logger: logger.Named("guard"),
	}
}

// Evaluate — единственная операция движка. Ошибок не возвращает принципиально:
// внутренний сбой вычисления правил (malformed rule) конвертируется в
// fail-safe Block, а не в дефолтный Allow.
func (e *Engine) Evaluate(plan domain.EnrichedPlan, drift *domain.DriftResult, vctx domain.ValidationContext) domain.GovernanceDecision {
	decision := e.evaluateRules(Input{Plan: plan, Drift: drift, Context: vctx})

	decision.CorrelationID = vctx.CorrelationID
	if decision.CorrelationID == "" {
		decision.CorrelationID = uuid.New().String()
	}
	decision.Timestamp = time.Now()
	decision.Mode = "LIVE"

	if e.bypass != nil && e.bypass.Active() {
		e.logger.Warn("KILL-SWITCH BYPASS ACTIVE: decision overridden to ALLOW",
			zap.String("correlation_id", decision.CorrelationID),
			zap.String("computed_decision", string(decision.Decision)),
			zap.Strings("rules_triggered", decision.RulesTriggered),
		)
		decision.Decision = domain.DecisionAllow
		decision.BypassActive = true
	}

	return decision
}

// evaluateRules проходит ВСЕ правила: каждое сработавшее попадает в
// rules_triggered (полнота аудита), но вердикт определяет первое сработавшее
// правило САМОГО СТРОГОГО класса: Block > RequireApproval > Warn > Allow.
// Запрос, задевший одновременно «financial requires approval» и
// «drift block» — это Block, не Approval. Политика зафиксирована, не менять.
func (e *Engine) evaluateRules(in Input) domain.GovernanceDecision {
	decision := domain.GovernanceDecision{
		Decision: domain.DecisionAllow,
		Reason:   "no governance rules matched",
	}

	for _, rule := range e.rules {
		matched, err := e.safeEval(rule, in)
		if err != nil {
			// Баг конфигурации правил. Fail safe: Block + флаг ручного
			// разбора. Логируем отдельно от валидационных ошибок.
			e.logger.Error("rule evaluation failed, failing safe to BLOCK",
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
			return domain.GovernanceDecision{
				Decision:        domain.DecisionBlock,
				RulesTriggered:  decision.RulesTriggered,
				DecidingRule:    rule.ID,
				Reason:          "internal_evaluation_error",
				ComplianceFlags: append(decision.ComplianceFlags, "manual_review_required"),
			}
		}
		if !matched {
			continue
		}

		decision.RulesTriggered = append(decision.RulesTriggered, rule.ID)
		decision.ComplianceFlags = append(decision.ComplianceFlags, rule.ComplianceFlags...)

		// Строго «больше»: внутри одного класса побеждает первое сработавшее
		if rule.Action.Severity() > decision.Decision.Severity() {
			decision.Decision = rule.Action
			decision.DecidingRule = rule.ID
			decision.Reason = rule.Reason
		}
	}

	return decision
}

// safeEval изолирует панику condition'а — это тот же класс сбоя, что и
// ошибка вычисления (баг правила)
func (e *Engine) safeEval(rule Rule, in Input) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmtPanic(rule.ID, r)
		}
	}()

	if rule.When == nil {
		return false, ErrMalformedRule
	}
	if rule.Action.Severity() == 0 && rule.Action != domain.DecisionAllow {
		return false, ErrMalformedRule
	}
	return rule.When.Eval(in)
}
