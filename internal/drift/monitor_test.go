package drift

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

func testMonitor(t *testing.T, alpha float64) *Monitor {
	t.Helper()
	m, err := NewMonitor("test", alpha, 0.15, 0.25, 8, zap.NewNop())
	require.NoError(t, err)
	return m
}

func sampleOf(intent, action []float64) domain.DriftSample {
	return domain.DriftSample{IntentVector: intent, ActionVector: action}
}

func TestNewMonitor_RejectsInvalidConfig(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewMonitor("l", 0, 0.15, 0.25, 8, logger)
	require.Error(t, err, "alpha must be positive")

	_, err = NewMonitor("l", 1.5, 0.15, 0.25, 8, logger)
	require.Error(t, err, "alpha above 1 must be rejected")

	_, err = NewMonitor("l", 0.3, 0.15, 0.25, 0, logger)
	require.Error(t, err, "window size must be positive")

	_, err = NewMonitor("l", 0.3, 0.25, 0.15, 8, logger)
	require.Error(t, err, "warn threshold must be below block threshold")

	_, err = NewMonitor("l", 0.3, 0, 0.25, 8, logger)
	require.Error(t, err, "warn threshold must be positive")
}

func TestAnalyze_IdenticalVectorsZeroDrift(t *testing.T) {
	m := testMonitor(t, 0.3)

	res, err := m.Analyze(sampleOf([]float64{1, 2, 3}, []float64{1, 2, 3}))
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.CosineSimilarity, 1e-12)
	assert.InDelta(t, 0.0, res.DriftScore, 1e-12)
	assert.InDelta(t, 0.0, res.EMADrift, 1e-12)
	assert.Equal(t, 1, res.WindowSize)
}

func TestAnalyze_OrthogonalAndOpposedVectors(t *testing.T) {
	m := testMonitor(t, 0.3)

	res, err := m.Analyze(sampleOf([]float64{1, 0}, []float64{0, 1}))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.CosineSimilarity, 1e-12)
	assert.InDelta(t, 1.0, res.DriftScore, 1e-12)

	res, err = m.Analyze(sampleOf([]float64{1, 0}, []float64{-1, 0}))
	require.NoError(t, err)
	assert.InDelta(t, -1.0, res.CosineSimilarity, 1e-12)
	assert.InDelta(t, 2.0, res.DriftScore, 1e-12)
}

func TestAnalyze_SimilarityClampedToUnitRange(t *testing.T) {
	m := testMonitor(t, 0.3)

	// Почти коллинеарные векторы провоцируют float-артефакт > 1
	a := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	res, err := m.Analyze(sampleOf(a, a))
	require.NoError(t, err)
	assert.LessOrEqual(t, res.CosineSimilarity, 1.0)
	assert.GreaterOrEqual(t, res.DriftScore, 0.0)
}

func TestAnalyze_ValidationErrors(t *testing.T) {
	m := testMonitor(t, 0.3)

	_, err := m.Analyze(sampleOf([]float64{1, 2}, []float64{1, 2, 3}))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = m.Analyze(sampleOf(nil, []float64{1}))
	assert.ErrorIs(t, err, ErrEmptyVector)

	_, err = m.Analyze(sampleOf([]float64{0, 0}, []float64{1, 1}))
	assert.ErrorIs(t, err, ErrZeroNormVector)

	// Отвергнутые сэмплы не трогают состояние
	st := m.Status()
	assert.Equal(t, uint64(0), st.TotalAnalyses)
}

func TestAnalyze_EMARecurrence(t *testing.T) {
	const alpha = 0.3
	m := testMonitor(t, alpha)

	// drift_score = 1 - cos: подбираем пары векторов с известными скорами
	scores := []struct {
		intent, action []float64
	}{
		{[]float64{1, 0}, []float64{1, 0}}, // score 0
		{[]float64{1, 0}, []float64{0, 1}}, // score 1
		{[]float64{1, 0}, []float64{1, 1}}, // score 1 - 1/sqrt(2)
		{[]float64{1, 0}, []float64{0, 1}}, // score 1
	}

	var expected float64
	for i, p := range scores {
		res, err := m.Analyze(sampleOf(p.intent, p.action))
		require.NoError(t, err)

		score := 1 - res.CosineSimilarity
		if i == 0 {
			// Сид первым сырым скором, не нулем
			expected = score
		} else {
			expected = alpha*score + (1-alpha)*expected
		}
		assert.InDelta(t, expected, res.EMADrift, 1e-12, "EMA must follow the recurrence exactly")
	}

	assert.InDelta(t, expected, m.EMA(), 1e-12)
}

func TestAnalyze_WindowBounded(t *testing.T) {
	m, err := NewMonitor("test", 0.3, 0.15, 0.25, 4, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		res, aerr := m.Analyze(sampleOf([]float64{1, 0}, []float64{0, 1}))
		require.NoError(t, aerr)
		assert.LessOrEqual(t, res.WindowSize, 4, "window never grows past its configured size")
	}
}

func TestAnalyzeBatch_InOrderSharedEMA(t *testing.T) {
	m := testMonitor(t, 0.3)

	samples := []domain.DriftSample{
		sampleOf([]float64{1, 0}, []float64{1, 0}),    // score 0
		sampleOf([]float64{1, 2}, []float64{1, 2, 3}), // невалидный
		sampleOf([]float64{1, 0}, []float64{0, 1}),    // score 1
	}

	results, stats := m.AnalyzeBatch(samples)
	require.Len(t, results, 2)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 1.0, stats.MaxDrift, 1e-12)
	assert.InDelta(t, 0.5, stats.MeanDrift, 1e-12)

	// Второй валидный сэмпл видит EMA, посеянную первым: 0.3*1 + 0.7*0
	assert.InDelta(t, 0.3, results[1].EMADrift, 1e-12)
	assert.Equal(t, uint64(2), m.Status().TotalAnalyses)
}

func TestStatus_DistributionAdvisory(t *testing.T) {
	m := testMonitor(t, 1.0) // alpha=1: EMA == последний скор

	mustAnalyze := func(action []float64) {
		_, err := m.Analyze(sampleOf([]float64{1, 0}, action))
		require.NoError(t, err)
	}

	mustAnalyze([]float64{1, 0})     // score 0 -> ok
	mustAnalyze([]float64{1, 0.65})  // score ~0.16 -> warn
	mustAnalyze([]float64{0, 1})     // score 1 -> block

	st := m.Status()
	assert.Equal(t, int64(1), st.DecisionDistribution["ok"])
	assert.Equal(t, int64(1), st.DecisionDistribution["warn"])
	assert.Equal(t, int64(1), st.DecisionDistribution["block"])
	assert.InDelta(t, 1.0, st.CurrentEMA, 1e-12)
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	a := []float64{0.2, 0.5, 0.9}
	b := []float64{0.7, 0.1, 0.4}

	ab, err := cosineSimilarity(a, b)
	require.NoError(t, err)
	ba, err := cosineSimilarity(b, a)
	require.NoError(t, err)

	assert.InDelta(t, ab, ba, 1e-12)
	assert.False(t, math.IsNaN(ab))
}
