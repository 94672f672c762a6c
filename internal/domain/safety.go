package domain

// Plan — единица работы, проходящая через governance-пайплайн.
// Текстовые поля сканируются детекторами, Metadata попадает в аудит как есть.
type Plan struct {
	ID          string            `json:"id"`
	AgentID     string            `json:"agent_id"`
	Description string            `json:"description"` // Что агент собирается сделать
	Content     string            `json:"content"`     // Полезная нагрузка (текст/JSON)
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SafetyTag — результат срабатывания одного детектора.
// Confidence всегда в [0, 1], ниже порога тег отбрасывается энричером.
type SafetyTag struct {
	Name       string            `json:"name"`     // e.g. "pii", "financial"
	Category   string            `json:"category"` // e.g. "privacy", "finance", "compliance"
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EnrichmentMetadata — служебная информация о прогоне энричера
type EnrichmentMetadata struct {
	CacheHit        bool              `json:"cache_hit"`
	DetectorVersion string            `json:"detector_version"`
	DetectorErrors  map[string]string `json:"detector_errors,omitempty"` // Имя детектора -> текст ошибки
	DurationMs      int64             `json:"duration_ms"`
}

// EnrichedPlan — план + навешанные теги. Оригинальный план не мутируется.
type EnrichedPlan struct {
	OriginalPlan Plan               `json:"original_plan"`
	DetectedTags []SafetyTag        `json:"detected_tags"`
	Metadata     EnrichmentMetadata `json:"enrichment_metadata"`
}

// HasTag проверяет наличие тега по имени (для интерпретатора правил)
func (e EnrichedPlan) HasTag(name string) bool {
	for _, t := range e.DetectedTags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// TagConfidence возвращает уверенность тега или 0, если тега нет
func (e EnrichedPlan) TagConfidence(name string) float64 {
	for _, t := range e.DetectedTags {
		if t.Name == name {
			return t.Confidence
		}
	}
	return 0
}
