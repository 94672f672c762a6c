package domain

import (
	"time"
)

// DecisionType определяет вердикт движка по запросу
type DecisionType string

const (
	DecisionAllow DecisionType = "ALLOW" // Пропустить (Live)
	DecisionWarn  DecisionType = "WARN"  // Пропустить с предупреждением

	// DecisionRequireApproval флаг Human-in-the-loop — запрос уходит оператору,
	// downstream-вызов не выполняется до ручного подтверждения
	DecisionRequireApproval DecisionType = "REQUIRE_APPROVAL"

	DecisionBlock DecisionType = "BLOCK" // Жесткий запрет
)

// Severity возвращает класс строгости вердикта. Порядок зафиксирован:
// Block > RequireApproval > Warn > Allow. Менять нельзя — на нем держится
// разрешение конфликтов правил.
func (d DecisionType) Severity() int {
	switch d {
	case DecisionBlock:
		return 3
	case DecisionRequireApproval:
		return 2
	case DecisionWarn:
		return 1
	default:
		return 0
	}
}

// GovernanceDecision — единственный авторитетный выход движка для запроса.
// После конструирования не мутируется (передается по значению).
type GovernanceDecision struct {
	Decision        DecisionType `json:"decision"`
	RulesTriggered  []string     `json:"rules_triggered"`  // ВСЕ сработавшие правила, не только решающее
	DecidingRule    string       `json:"deciding_rule"`    // Какое правило определило вердикт
	ComplianceFlags []string     `json:"compliance_flags"` // Флаги для ИБ/комплаенса
	Reason          string       `json:"reason"`
	CorrelationID   string       `json:"correlation_id"`
	BypassActive    bool         `json:"bypass_active"` // true, если сработал аварийный kill-switch
	Mode            string       `json:"mode"`          // "LIVE" или "SIMULATED"
	Timestamp       time.Time    `json:"timestamp"`
}

// ValidationContext — контекст запроса для вычисления правил.
// Заполняется serving loop'ом (роль берется из токена, не из payload).
type ValidationContext struct {
	CorrelationID          string            `json:"correlation_id"`
	UserRole               string            `json:"user_role"`
	ComplianceRequirements []string          `json:"compliance_requirements"`
	Fields                 map[string]string `json:"fields,omitempty"`
}

// Field достает произвольное поле контекста. Пустая строка — поля нет.
func (c ValidationContext) Field(name string) string {
	switch name {
	case "user_role":
		return c.UserRole
	case "correlation_id":
		return c.CorrelationID
	}
	return c.Fields[name]
}
