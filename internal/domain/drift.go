package domain

// DriftSample — эфемерный вход анализа дрейфа. Оба вектора должны иметь
// одинаковую ненулевую размерность (иначе — ошибка валидации, без коэрции).
type DriftSample struct {
	IntentVector []float64         `json:"intent_vector"`
	ActionVector []float64         `json:"action_vector"`
	Context      map[string]string `json:"context,omitempty"`
}

// DriftResult — результат одного вызова Analyze
type DriftResult struct {
	CosineSimilarity float64 `json:"cosine_similarity"` // [-1, 1]
	DriftScore       float64 `json:"drift_score"`       // 1 - similarity, [0, 2]
	EMADrift         float64 `json:"ema_drift"`         // Сглаженное значение после этого вызова
	WindowSize       int     `json:"window_size"`       // Текущая заполненность окна
}

// BatchStats — сводка по пакетному анализу
type BatchStats struct {
	Processed int     `json:"processed"`
	Failed    int     `json:"failed"`
	MaxDrift  float64 `json:"max_drift"`
	MeanDrift float64 `json:"mean_drift"`
}

// MonitorStatus — снимок состояния монитора для status()
type MonitorStatus struct {
	Lane                 string           `json:"lane"`
	TotalAnalyses        uint64           `json:"total_analyses"`
	CurrentEMA           float64          `json:"current_ema"`
	DecisionDistribution map[string]int64 `json:"decision_distribution"` // ok / warn / block (advisory)
}
