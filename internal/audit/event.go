package audit

import (
	"time"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

// Record — аудиторская запись, производная 1:1 от GovernanceDecision плюс
// входы, которые к нему привели. Владеет ей потребитель; ядро только
// формирует логическое содержимое, персистентность — забота хранилища.
type Record struct {
	ID            string `json:"id"`             // UUID записи
	CorrelationID string `json:"correlation_id"` // Сквозной ID запроса
	AgentID       string `json:"agent_id"`       // Кто делал
	PlanID        string `json:"plan_id"`        // Какой план оценивался

	// Вердикт
	Decision        string   `json:"decision"`
	DecidingRule    string   `json:"deciding_rule"`
	RulesTriggered  []string `json:"rules_triggered"`
	ComplianceFlags []string `json:"compliance_flags"`
	Reason          string   `json:"reason"`
	Mode            string   `json:"mode"`          // "LIVE" или "SIMULATED"
	BypassActive    bool     `json:"bypass_active"` // Вердикт перекрыт kill-switch'ем

	// Входные сигналы
	Tags     []domain.SafetyTag `json:"tags"`
	EMADrift float64            `json:"ema_drift"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"` // Полное время governance-пайплайна
	Error      string    `json:"error,omitempty"`
}

// FromDecision собирает запись из вердикта и входов
func FromDecision(id string, plan domain.EnrichedPlan, drift *domain.DriftResult, d domain.GovernanceDecision, durationMs int64) Record {
	rec := Record{
		ID:              id,
		CorrelationID:   d.CorrelationID,
		AgentID:         plan.OriginalPlan.AgentID,
		PlanID:          plan.OriginalPlan.ID,
		Decision:        string(d.Decision),
		DecidingRule:    d.DecidingRule,
		RulesTriggered:  d.RulesTriggered,
		ComplianceFlags: d.ComplianceFlags,
		Reason:          d.Reason,
		Mode:            d.Mode,
		BypassActive:    d.BypassActive,
		Tags:            plan.DetectedTags,
		Timestamp:       d.Timestamp,
		DurationMs:      durationMs,
	}
	if drift != nil {
		rec.EMADrift = drift.EMADrift
	}
	return rec
}
