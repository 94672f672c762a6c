package drift

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

// Ошибки валидации. Поднимаются немедленному вызывающему как есть —
// никакой молчаливой коэрции в «similarity 0» (это ложная уверенность).
var (
	ErrDimensionMismatch = errors.New("drift: intent and action vectors have different dimensions")
	ErrEmptyVector       = errors.New("drift: vectors must be non-empty")
	ErrZeroNormVector    = errors.New("drift: zero-norm vector, cosine similarity undefined")
)

// Monitor — потоковый оценщик дрейфа для одной lane. Держит EMA и скользящее
// окно сырых скоров. Один инстанс на пару (lane, config); состояние между
// мониторами не разделяется.
//
// EMA-апдейт строго упорядочен по приходу: мьютекс держится только на время
// арифметики (микросекунды), никогда поверх I/O. Поздний вызов всегда видит
// полностью примененный эффект раннего — потерянных апдейтов нет.
type Monitor struct {
	lane           string
	alpha          float64
	windowSize     int
	warnThreshold  float64
	blockThreshold float64
	logger         *zap.Logger

	mu       sync.Mutex
	ema      float64
	seeded   bool // EMA сеется первым сырым скором, не нулем (иначе смещенный прогрев)
	window   []float64
	winHead  int
	winCount int

	totalAnalyses uint64
	distribution  map[string]int64 // ok / warn / block — advisory, решает Guardian
}

// NewMonitor валидирует конфигурацию (fail fast) и создает монитор
func NewMonitor(lane string, alpha, warnThreshold, blockThreshold float64, windowSize int, logger *zap.Logger) (*Monitor, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("drift: alpha must be in (0, 1], got %f", alpha)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("drift: window size must be positive, got %d", windowSize)
	}
	if warnThreshold <= 0 || blockThreshold <= warnThreshold {
		return nil, fmt.Errorf("drift: thresholds must satisfy 0 < warn (%f) < block (%f)", warnThreshold, blockThreshold)
	}

	return &Monitor{
		lane:           lane,
		alpha:          alpha,
		windowSize:     windowSize,
		warnThreshold:  warnThreshold,
		blockThreshold: blockThreshold,
		logger:         logger.Named("drift").With(zap.String("lane", lane)),
		window:         make([]float64, windowSize),
		distribution:   map[string]int64{"ok": 0, "warn": 0, "block": 0},
	}, nil
}

// Lane возвращает имя lane этого монитора
func (m *Monitor) Lane() string { return m.lane }

// WarnThreshold — порог предупреждения (для правил Guardian)
func (m *Monitor) WarnThreshold() float64 { return m.warnThreshold }

// BlockThreshold — порог блокировки (для правил Guardian)
func (m *Monitor) BlockThreshold() float64 { return m.blockThreshold }

// Analyze считает drift_score = 1 - cosine(intent, action), складывает его
// в окно и EMA. Монитор НЕ решает allow/warn/block — он только репортит
// ema_drift, маппинг на вердикт делает Guardian Decision Engine.
func (m *Monitor) Analyze(sample domain.DriftSample) (domain.DriftResult, error) {
	similarity, err := cosineSimilarity(sample.IntentVector, sample.ActionVector)
	if err != nil {
		return domain.DriftResult{}, err
	}

	score := 1 - similarity

	m.mu.Lock()
	if !m.seeded {
		m.ema = score
		m.seeded = true
	} else {
		m.ema = m.alpha*score + (1-m.alpha)*m.ema
	}

	m.window[m.winHead] = score
	m.winHead = (m.winHead + 1) % m.windowSize
	if m.winCount < m.windowSize {
		m.winCount++
	}

	m.totalAnalyses++
	m.distribution[m.classifyLocked()]++

	result := domain.DriftResult{
		CosineSimilarity: similarity,
		DriftScore:       score,
		EMADrift:         m.ema,
		WindowSize:       m.winCount,
	}
	m.mu.Unlock()

	return result, nil
}

// AnalyzeBatch обрабатывает сэмплы строго в порядке входа: поздние видят EMA,
// обновленную ранними — семантика идентична серии одиночных Analyze.
// Невалидные сэмплы пропускаются и считаются в BatchStats.Failed.
func (m *Monitor) AnalyzeBatch(samples []domain.DriftSample) ([]domain.DriftResult, domain.BatchStats) {
	results := make([]domain.DriftResult, 0, len(samples))
	stats := domain.BatchStats{}

	var sum float64
	for _, s := range samples {
		res, err := m.Analyze(s)
		if err != nil {
			stats.Failed++
			m.logger.Warn("batch sample rejected", zap.Error(err))
			continue
		}
		results = append(results, res)
		stats.Processed++
		sum += res.DriftScore
		if res.DriftScore > stats.MaxDrift {
			stats.MaxDrift = res.DriftScore
		}
	}

	if stats.Processed > 0 {
		stats.MeanDrift = sum / float64(stats.Processed)
	}
	return results, stats
}

// Status — снимок для status()
func (m *Monitor) Status() domain.MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	dist := make(map[string]int64, len(m.distribution))
	for k, v := range m.distribution {
		dist[k] = v
	}

	return domain.MonitorStatus{
		Lane:                 m.lane,
		TotalAnalyses:        m.totalAnalyses,
		CurrentEMA:           m.ema,
		DecisionDistribution: dist,
	}
}

// EMA — текущее сглаженное значение (для interpreter'а правил)
func (m *Monitor) EMA() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ema
}

// classifyLocked — advisory-классификация текущей EMA против порогов.
// Только для distribution в status(); авторитетное решение за Guardian.
func (m *Monitor) classifyLocked() string {
	switch {
	case m.ema > m.blockThreshold:
		return "block"
	case m.ema > m.warnThreshold:
		return "warn"
	default:
		return "ok"
	}
}

// cosineSimilarity — стандартный dot / (norm * norm).
// Нулевая норма — неопределенность, отдаем ошибку, а не фиктивный 0.
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: intent=%d action=%d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, ErrZeroNormVector
	}

	// Численная стабильность: прижимаем к [-1, 1], float-артефакты
	// на почти-коллинеарных векторах дают 1.0000000000000002
	sim := dot / denom
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}
