package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/audit"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/drift"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/enrich"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/guard"
)

// DriftSettings — иммутабельная конфигурация мониторов (одна на все lane;
// отдельный конфиг на lane = отдельный core)
type DriftSettings struct {
	Alpha          float64 `mapstructure:"alpha"`
	WindowSize     int     `mapstructure:"window_size"`
	WarnThreshold  float64 `mapstructure:"warn_threshold"`
	BlockThreshold float64 `mapstructure:"block_threshold"`
}

// GovernanceRequest — один запрос на оценку: план + опциональный drift-сэмпл
// + контекст валидации. Action задает downstream-вызов, который выполняется
// ТОЛЬКО при разрешающем вердикте.
type GovernanceRequest struct {
	Plan    domain.Plan              `json:"plan"`
	Sample  *domain.DriftSample      `json:"drift_sample,omitempty"`
	Lane    string                   `json:"lane,omitempty"`
	Action  string                   `json:"action,omitempty"`
	Context domain.ValidationContext `json:"context"`
}

// GovernanceResponse — вердикт + результат downstream-вызова (если был)
type GovernanceResponse struct {
	Decision        domain.GovernanceDecision `json:"decision"`
	ExecutionResult json.RawMessage           `json:"execution_result,omitempty"`
}

// GuardianCore — сборка governance-пайплайна: enrich -> drift -> rules ->
// (execute) -> audit. Оценка чистая, единственное разделяемое состояние —
// EMA мониторов, синхронизированное в них самих.
type GuardianCore struct {
	enricher   *enrich.Enricher
	enrichOpts enrich.Options
	evaluator  guard.Evaluator
	blocklist  *BlocklistManager
	auditor    audit.Sink
	executor   ExecutionProvider
	metrics    *Metrics
	logger     *zap.Logger

	driftCfg DriftSettings
	monMu    sync.Mutex
	monitors map[string]*drift.Monitor // lane -> монитор, создаются лениво
}

// NewGuardianCore валидирует конфигурацию дрейфа на старте: монитор
// default-lane строится сразу, и кривой alpha/threshold роняет сборку,
// а не первый боевой запрос.
func NewGuardianCore(
	enricher *enrich.Enricher,
	enrichOpts enrich.Options,
	evaluator guard.Evaluator,
	blocklist *BlocklistManager,
	auditor audit.Sink,
	executor ExecutionProvider,
	driftCfg DriftSettings,
	metrics *Metrics,
	logger *zap.Logger,
) (*GuardianCore, error) {
	g := &GuardianCore{
		enricher:   enricher,
		enrichOpts: enrichOpts,
		evaluator:  evaluator,
		blocklist:  blocklist,
		auditor:    auditor,
		executor:   executor,
		driftCfg:   driftCfg,
		metrics:    metrics,
		logger:     logger.Named("core"),
		monitors:   make(map[string]*drift.Monitor),
	}

	m, err := drift.NewMonitor("default", driftCfg.Alpha, driftCfg.WarnThreshold,
		driftCfg.BlockThreshold, driftCfg.WindowSize, g.logger)
	if err != nil {
		return nil, fmt.Errorf("drift settings: %w", err)
	}
	g.monitors["default"] = m

	return g, nil
}

// MonitorFor возвращает монитор дрейфа для lane, создавая его при первом
// обращении. Один инстанс на (lane, config), состояние между lane не течет.
func (g *GuardianCore) MonitorFor(lane string) (*drift.Monitor, error) {
	if lane == "" {
		lane = "default"
	}

	g.monMu.Lock()
	defer g.monMu.Unlock()

	if m, ok := g.monitors[lane]; ok {
		return m, nil
	}

	m, err := drift.NewMonitor(lane, g.driftCfg.Alpha, g.driftCfg.WarnThreshold,
		g.driftCfg.BlockThreshold, g.driftCfg.WindowSize, g.logger)
	if err != nil {
		return nil, err
	}
	g.monitors[lane] = m
	return m, nil
}

// MonitorStatuses — снимок всех lane для status-эндпоинта
func (g *GuardianCore) MonitorStatuses() []domain.MonitorStatus {
	g.monMu.Lock()
	defer g.monMu.Unlock()

	out := make([]domain.MonitorStatus, 0, len(g.monitors))
	for _, m := range g.monitors {
		out = append(out, m.Status())
	}
	return out
}

// Process — основной пайплайн обработки одного запроса.
// Ошибку возвращает ТОЛЬКО на невалидный вход (drift-валидация): вызывающий
// обязан трактовать ее как «запрос непроверяем» и применять свой fail-safe.
// Отсутствие ошибки НЕ означает Allow — вердикт всегда в Decision.
func (g *GuardianCore) Process(ctx context.Context, req GovernanceRequest) (GovernanceResponse, error) {
	start := time.Now()

	if req.Context.CorrelationID == "" {
		req.Context.CorrelationID = extractTraceID(ctx)
	}

	// 1. Блоклист (самая дешевая проверка — In-memory)
	if g.blocklist != nil && g.blocklist.IsBlocked(req.Plan.AgentID) {
		decision := domain.GovernanceDecision{
			Decision:       domain.DecisionBlock,
			RulesTriggered: []string{"agent_blocklisted"},
			DecidingRule:   "agent_blocklisted",
			Reason:         fmt.Sprintf("agent %s is blocked by control plane", req.Plan.AgentID),
			CorrelationID:  req.Context.CorrelationID,
			Mode:           "LIVE",
			Timestamp:      time.Now(),
		}
		g.finish(req, domain.EnrichedPlan{OriginalPlan: req.Plan}, nil, decision, nil, start)
		return GovernanceResponse{Decision: decision}, nil
	}

	// 2. Enrichment (теги безопасности)
	enriched := g.enricher.Enrich(req.Plan, g.enrichOpts)

	// 3. Drift-анализ (если есть векторы намерения/действия)
	var driftResult *domain.DriftResult
	if req.Sample != nil {
		monitor, err := g.MonitorFor(req.Lane)
		if err != nil {
			return GovernanceResponse{}, err
		}
		res, err := monitor.Analyze(*req.Sample)
		if err != nil {
			// Ошибка валидации — наружу как есть, никакого дефолтного вердикта
			g.metrics.ErrorTotal.WithLabelValues("validation").Inc()
			return GovernanceResponse{}, err
		}
		driftResult = &res
	}

	// 4. Вердикт (один атомарный шаг, fail-safe внутри)
	decision := g.evaluator.Evaluate(enriched, driftResult, req.Context)

	// 5. Downstream-вызов — только на разрешающий вердикт
	var execResult json.RawMessage
	var execErr error
	if req.Action != "" && g.executor != nil &&
		(decision.Decision == domain.DecisionAllow || decision.Decision == domain.DecisionWarn) {
		resp, err := g.executor.Call(ctx, req.Action, []byte(req.Plan.Content))
		if err != nil {
			execErr = err
			g.metrics.ErrorTotal.WithLabelValues("execution").Inc()
			g.logger.Error("downstream execution failed",
				zap.String("correlation_id", decision.CorrelationID),
				zap.String("action", req.Action),
				zap.Error(err),
			)
		} else {
			execResult = resp
		}
	}

	g.finish(req, enriched, driftResult, decision, execErr, start)
	return GovernanceResponse{Decision: decision, ExecutionResult: execResult}, nil
}

// finish — метрики + асинхронный аудит. Общий хвост всех веток Process.
// execErr попадает в аудит: вердикт разрешил, но downstream упал — разбор
// инцидента идет по записи, а не по логам.
func (g *GuardianCore) finish(req GovernanceRequest, enriched domain.EnrichedPlan, driftResult *domain.DriftResult, decision domain.GovernanceDecision, execErr error, start time.Time) {
	elapsed := time.Since(start)

	g.metrics.DecisionTotal.WithLabelValues(req.Plan.AgentID, string(decision.Decision)).Inc()
	g.metrics.RequestDuration.WithLabelValues(req.Plan.AgentID, string(decision.Decision)).Observe(elapsed.Seconds())
	if decision.BypassActive {
		g.metrics.BypassedTotal.Inc()
	}

	rec := audit.FromDecision(
		uuid.New().String(), enriched, driftResult, decision, elapsed.Milliseconds())
	if execErr != nil {
		rec.Error = execErr.Error()
	}
	g.auditor.Log(rec)
}
