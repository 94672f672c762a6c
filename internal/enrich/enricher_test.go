package enrich

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

func planWith(content string) domain.Plan {
	return domain.Plan{
		ID:      "plan-1",
		AgentID: "agent-1",
		Content: content,
	}
}

func tagByName(tags []domain.SafetyTag, name string) *domain.SafetyTag {
	for i := range tags {
		if tags[i].Name == name {
			return &tags[i]
		}
	}
	return nil
}

func TestEnrich_DetectsPII(t *testing.T) {
	e := NewEnricher(zap.NewNop())

	enriched := e.Enrich(planWith("notify john.doe@example.com, SSN 123-45-6789"), Options{})
	tag := tagByName(enriched.DetectedTags, "pii")
	require.NotNil(t, tag, "email + ssn must produce a pii tag")
	assert.Equal(t, "privacy", tag.Category)
	assert.InDelta(t, 1.0, tag.Confidence, 1e-9, "ssn and email together max out confidence")
	assert.Equal(t, "detected", tag.Metadata["ssn"])
	assert.True(t, enriched.HasTag("pii"))
}

func TestEnrich_AdvancedModeWidensPII(t *testing.T) {
	e := NewEnricher(zap.NewNop())
	plan := planWith("call +1 (555) 123-4567 about the delivery")

	basic := e.Enrich(plan, Options{})
	assert.Nil(t, tagByName(basic.DetectedTags, "pii"), "phone-only plans are silent in basic mode")

	advanced := e.Enrich(plan, Options{AdvancedDetection: true})
	require.NotNil(t, tagByName(advanced.DetectedTags, "pii"))
}

func TestEnrich_DetectsFinancialAndCompliance(t *testing.T) {
	e := NewEnricher(zap.NewNop())

	enriched := e.Enrich(planWith("process invoice payment, GDPR data subject request"), Options{})

	fin := tagByName(enriched.DetectedTags, "financial")
	require.NotNil(t, fin)
	assert.Contains(t, fin.Metadata["keywords"], "invoice")

	comp := tagByName(enriched.DetectedTags, "compliance")
	require.NotNil(t, comp)
	assert.Contains(t, comp.Metadata["regimes"], "GDPR")
}

func TestEnrich_DetectsCredentials(t *testing.T) {
	e := NewEnricher(zap.NewNop())

	enriched := e.Enrich(planWith("use api_key=sk-live-abcdef123456 for the call"), Options{})
	tag := tagByName(enriched.DetectedTags, "credentials")
	require.NotNil(t, tag)
	assert.Equal(t, "security", tag.Category)
	assert.GreaterOrEqual(t, tag.Confidence, 0.7)
}

func TestEnrich_ConfidenceThresholdFilters(t *testing.T) {
	e := NewEnricher(zap.NewNop())
	plan := planWith("process the refund") // financial, confidence 0.62

	loose := e.Enrich(plan, Options{ConfidenceThreshold: 0.5})
	require.NotNil(t, tagByName(loose.DetectedTags, "financial"))

	strict := e.Enrich(plan, Options{ConfidenceThreshold: 0.9})
	assert.Nil(t, tagByName(strict.DetectedTags, "financial"),
		"tags below the threshold are dropped before they reach rules")
}

func TestEnrich_CacheHitReturnsEqualTags(t *testing.T) {
	e := NewEnricher(zap.NewNop())
	plan := planWith("wire transfer to account number 00-1234")
	opts := Options{EnableCaching: true, ConfidenceThreshold: 0.1}

	first := e.Enrich(plan, opts)
	require.False(t, first.Metadata.CacheHit)
	require.NotEmpty(t, first.DetectedTags)

	second := e.Enrich(plan, opts)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, first.DetectedTags, second.DetectedTags,
		"cached result is structurally identical to the fresh one")

	// Кэшированный срез не разделяется с вызывающим
	second.DetectedTags[0].Name = "mutated"
	third := e.Enrich(plan, opts)
	assert.NotEqual(t, "mutated", third.DetectedTags[0].Name)
}

func TestEnrich_CacheKeyedByOptions(t *testing.T) {
	e := NewEnricher(zap.NewNop())
	plan := planWith("invoice payment $100.00")

	basic := e.Enrich(plan, Options{EnableCaching: true})
	require.False(t, basic.Metadata.CacheHit)

	// Другой advanced-флаг — другой ключ, кэш не подменяет результат
	advanced := e.Enrich(plan, Options{EnableCaching: true, AdvancedDetection: true})
	assert.False(t, advanced.Metadata.CacheHit)
}

func TestEnrich_CacheStaysBounded(t *testing.T) {
	e := NewEnricher(zap.NewNop())
	opts := Options{EnableCaching: true}

	// Уникальный контент на каждый вызов — худший случай для кэша
	for i := 0; i < maxCacheEntries+50; i++ {
		plan := planWith(fmt.Sprintf("summarize report %d", i))
		e.Enrich(plan, opts)

		e.mu.RLock()
		size := len(e.cache)
		e.mu.RUnlock()
		require.LessOrEqual(t, size, maxCacheEntries,
			"cache must never grow past its cap on unique traffic")
	}

	// После сброса кэш остался рабочим
	last := planWith(fmt.Sprintf("summarize report %d", maxCacheEntries+49))
	hit := e.Enrich(last, opts)
	assert.True(t, hit.Metadata.CacheHit, "entries written after the reset are still served")
}

type faultyDetector struct {
	err   error
	panic bool
}

func (d *faultyDetector) Name() string { return "faulty" }

func (d *faultyDetector) Detect(plan domain.Plan, advanced bool) ([]domain.SafetyTag, error) {
	if d.panic {
		panic("pattern exploded")
	}
	return nil, d.err
}

func TestEnrich_DetectorFailureIsolated(t *testing.T) {
	e := NewEnricher(zap.NewNop())
	e.detectors = append([]Detector{&faultyDetector{err: errors.New("regex backtrack limit")}}, e.detectors...)

	enriched := e.Enrich(planWith("wire transfer to vendor"), Options{})
	require.NotNil(t, tagByName(enriched.DetectedTags, "financial"),
		"healthy detectors still contribute tags")
	assert.Equal(t, "regex backtrack limit", enriched.Metadata.DetectorErrors["faulty"])
}

func TestEnrich_DetectorPanicIsolated(t *testing.T) {
	e := NewEnricher(zap.NewNop())
	e.detectors = append([]Detector{&faultyDetector{panic: true}}, e.detectors...)

	enriched := e.Enrich(planWith("process the payroll run"), Options{})
	require.NotNil(t, tagByName(enriched.DetectedTags, "financial"))
	assert.Contains(t, enriched.Metadata.DetectorErrors["faulty"], "detector panic")
}

func TestEnrich_CleanPlanHasNoTags(t *testing.T) {
	e := NewEnricher(zap.NewNop())

	enriched := e.Enrich(planWith("summarize the weekly report"), Options{})
	assert.Empty(t, enriched.DetectedTags)
	assert.Empty(t, enriched.Metadata.DetectorErrors)
	assert.Equal(t, DetectorSetVersion, enriched.Metadata.DetectorVersion)
}
