package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

// Options — параметры одного вызова Enrich
type Options struct {
	EnableCaching       bool    `mapstructure:"enable_caching"`
	AdvancedDetection   bool    `mapstructure:"advanced_detection"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// maxCacheEntries — потолок кэша. При достижении кэш сбрасывается целиком
// (как Refresh у MemoEnforcer заменяет мапу): уникальный трафик не может
// раздуть память процесса, а повторы быстро прогревают кэш заново.
const maxCacheEntries = 4096

// Enricher прогоняет фиксированный набор независимых детекторов по плану
// и навешивает SafetyTag'и. Потокобезопасная мапа-кэш в стиле MemoEnforcer:
// ключ — стабильный хэш релевантных полей плана + версия набора детекторов
// + флаг advanced, так что смена паттернов инвалидирует кэш сама собой.
type Enricher struct {
	detectors []Detector
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string][]domain.SafetyTag
}

// NewEnricher создает энричер со стандартным набором детекторов
func NewEnricher(logger *zap.Logger) *Enricher {
	return &Enricher{
		detectors: defaultDetectors(),
		logger:    logger.Named("enrich"),
		cache:     make(map[string][]domain.SafetyTag),
	}
}

// Enrich сканирует план. Ошибка или паника отдельного детектора не валит
// весь вызов — его теги просто отсутствуют, а сбой фиксируется в метаданных.
func (e *Enricher) Enrich(plan domain.Plan, opts Options) domain.EnrichedPlan {
	start := time.Now()

	meta := domain.EnrichmentMetadata{
		DetectorVersion: DetectorSetVersion,
	}

	if opts.EnableCaching {
		key := e.cacheKey(plan, opts)
		e.mu.RLock()
		cached, ok := e.cache[key]
		e.mu.RUnlock()
		if ok {
			meta.CacheHit = true
			meta.DurationMs = time.Since(start).Milliseconds()
			return domain.EnrichedPlan{
				OriginalPlan: plan,
				DetectedTags: copyTags(cached),
				Metadata:     meta,
			}
		}
	}

	tags := make([]domain.SafetyTag, 0, len(e.detectors))
	for _, d := range e.detectors {
		detected, err := e.runDetector(d, plan, opts.AdvancedDetection)
		if err != nil {
			if meta.DetectorErrors == nil {
				meta.DetectorErrors = make(map[string]string)
			}
			meta.DetectorErrors[d.Name()] = err.Error()
			e.logger.Warn("detector failed, tags omitted",
				zap.String("detector", d.Name()),
				zap.String("plan_id", plan.ID),
				zap.Error(err),
			)
			continue
		}

		for _, tag := range detected {
			if tag.Confidence >= opts.ConfidenceThreshold {
				tags = append(tags, tag)
			}
		}
	}

	if opts.EnableCaching {
		key := e.cacheKey(plan, opts)
		e.mu.Lock()
		if len(e.cache) >= maxCacheEntries {
			e.cache = make(map[string][]domain.SafetyTag, maxCacheEntries)
			e.logger.Info("enrichment cache reset at capacity",
				zap.Int("capacity", maxCacheEntries),
			)
		}
		e.cache[key] = copyTags(tags)
		e.mu.Unlock()
	}

	meta.DurationMs = time.Since(start).Milliseconds()
	return domain.EnrichedPlan{
		OriginalPlan: plan,
		DetectedTags: tags,
		Metadata:     meta,
	}
}

// runDetector изолирует панику детектора (конфигурационный баг паттерна
// не должен ронять Hot Path)
func (e *Enricher) runDetector(d Detector, plan domain.Plan, advanced bool) (tags []domain.SafetyTag, err error) {
	defer func() {
		if r := recover(); r != nil {
			tags = nil
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return d.Detect(plan, advanced)
}

// cacheKey — sha256 по релевантным полям. Description и Content разделены
// нулевым байтом, чтобы конкатенация не давала коллизий на границе.
func (e *Enricher) cacheKey(plan domain.Plan, opts Options) string {
	h := sha256.New()
	h.Write([]byte(DetectorSetVersion))
	h.Write([]byte{0})
	h.Write([]byte(plan.Description))
	h.Write([]byte{0})
	h.Write([]byte(plan.Content))
	h.Write([]byte{0})
	if opts.AdvancedDetection {
		h.Write([]byte{1})
	}
	fmt.Fprintf(h, "%.4f", opts.ConfidenceThreshold)
	return hex.EncodeToString(h.Sum(nil))
}

func copyTags(tags []domain.SafetyTag) []domain.SafetyTag {
	out := make([]domain.SafetyTag, len(tags))
	copy(out, tags)
	return out
}
