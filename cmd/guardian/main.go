package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/audit"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/connectors"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/engine"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/enrich"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/guard"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/infra"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/infra/auth"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/repository/postgres"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/server"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/telemetry"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Контекст жизненного цикла фоновых горутин: SIGTERM -> cancel -> слушатели гаснут
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура: Redis (control plane) + Postgres (durable audit)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(appCtx).Err(); err != nil {
		logger.Fatal("redis unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	auditRepo, err := postgres.NewAuditRepo(cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to open audit storage", zap.Error(err))
	}
	defer auditRepo.Close() //nolint:errcheck
	if err := auditRepo.Ping(appCtx); err != nil {
		logger.Fatal("audit storage unavailable", zap.Error(err))
	}

	trail := audit.NewTrail(auditRepo,
		cfg.Guardian.AuditBufferSize,
		cfg.Guardian.AuditBatchSize,
		cfg.Guardian.AuditFlushInterval,
		logger,
	)
	trail.Start()

	// 3. Control Plane: байпас + блоклист с Redis Pub/Sub
	bypass := engine.NewBypassManager(rdb, logger)
	if err := bypass.Init(appCtx); err != nil {
		logger.Fatal("failed to init bypass manager", zap.Error(err))
	}
	go bypass.StartListener(appCtx)

	blocklist := engine.NewBlocklistManager(rdb, logger)
	if err := blocklist.Init(appCtx); err != nil {
		logger.Fatal("failed to init blocklist manager", zap.Error(err))
	}
	go blocklist.StartListener(appCtx)

	// 4. Метрики
	reg := prometheus.NewRegistry()
	engMetrics := engine.NewMetrics(reg)
	telMetrics := telemetry.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 5. Телеметрия: тикер с кольцевым буфером
	ticker, err := telemetry.NewTicker(telemetry.TickerConfig{
		FPS:               cfg.Guardian.TickerFPS,
		Capacity:          cfg.Guardian.FrameCapacity,
		PressureThreshold: cfg.Guardian.PressureThreshold,
		DecimationFactor:  cfg.Guardian.DecimationFactor,
	}, runtimeSampler, telMetrics, logger)
	if err != nil {
		logger.Fatal("failed to build ticker", zap.Error(err))
	}
	// На каждом кадре обновляем гейдж заполненности аудит-буфера
	if err := ticker.Subscribe(func(_ domain.Frame) {
		engMetrics.AuditBufferFill.Set(trail.Fill())
	}); err != nil {
		logger.Fatal("failed to subscribe ticker", zap.Error(err))
	}
	if err := ticker.Start(); err != nil {
		logger.Fatal("failed to start ticker", zap.Error(err))
	}

	// 6. Governance-ядро
	rules := guard.DefaultRules(cfg.Guardian.DriftWarnThreshold, cfg.Guardian.DriftBlockThreshold)
	guardEngine := guard.NewEngine(rules, bypass, logger)

	var evaluator guard.Evaluator
	switch cfg.Guardian.EvaluatorMode {
	case "simulated":
		evaluator = &guard.SimulatedEvaluator{Engine: guardEngine, Logger: logger.Named("simulated")}
	default:
		evaluator = &guard.LiveEvaluator{Engine: guardEngine}
	}

	// Downstream: мок-коннектор модельного бэкенда, обернутый в Reliability
	// (ретраи, circuit breaker, rate limit)
	executor := engine.NewReliabilityWrapper(&connectors.MockModelConnector{}, engMetrics)

	core, err := engine.NewGuardianCore(
		enrich.NewEnricher(logger),
		enrich.Options{
			EnableCaching:       cfg.Guardian.EnrichCaching,
			AdvancedDetection:   cfg.Guardian.EnrichAdvancedDetection,
			ConfidenceThreshold: cfg.Guardian.EnrichConfidenceThreshold,
		},
		evaluator,
		blocklist,
		trail,
		executor,
		engine.DriftSettings{
			Alpha:          cfg.Guardian.DriftAlpha,
			WindowSize:     cfg.Guardian.DriftWindowSize,
			WarnThreshold:  cfg.Guardian.DriftWarnThreshold,
			BlockThreshold: cfg.Guardian.DriftBlockThreshold,
		},
		engMetrics,
		logger,
	)
	if err != nil {
		logger.Fatal("invalid drift settings", zap.Error(err))
	}

	// 7. JWT-валидатор (опционален: без ключа auth выключен)
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("invalid auth public key", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pub)
	} else {
		logger.Warn("auth public key is not configured, /v1/evaluate is UNPROTECTED")
	}

	// 8. HTTP Server
	srvApp := server.NewServer(cfg, logger, core, ticker, bypass, blocklist, validator)
	srv, err := srvApp.HTTPServer()
	if err != nil {
		logger.Fatal("failed to build http server", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("guardian engine started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("guardian engine stopping...")

	// Даем 5 секунд на завершение запросов, потом гасим фон
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel() // останавливаем pub/sub слушателей

	final := ticker.Stop()
	logger.Info("ticker stopped",
		zap.Uint64("frames_processed", final.FramesProcessed),
		zap.Uint64("ticks_dropped", final.TicksDropped),
		zap.Duration("uptime", final.Uptime),
	)

	trail.Stop() // финальный flush аудита — последним
	logger.Info("guardian engine stopped")
}

// runtimeSampler — снимок состояния процесса для кадра телеметрии
func runtimeSampler() map[string]interface{} {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]interface{}{
		"goroutines":     runtime.NumGoroutine(),
		"heap_alloc":     ms.HeapAlloc,
		"heap_objects":   ms.HeapObjects,
		"gc_cycles":      ms.NumGC,
		"pause_total_ns": ms.PauseTotalNs,
	}
}
