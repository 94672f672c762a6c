package engine

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/infra"
)

// BypassManager — аварийный kill-switch всего governance-контура.
// Пока флаг активен, Guardian Decision Engine продолжает вычислять и
// логировать вердикты, но наружу уходит Allow с bypass_active=true.
//
// Источник правды — Redis (ключ-флаг + Pub/Sub сигнал "on"/"off"),
// Hot Path читает только атомарный локальный флаг.
type BypassManager struct {
	active int32 // Атомарный флаг (0 - выключен, 1 - активен)
	rdb    *redis.Client
	logger *zap.Logger
}

func NewBypassManager(rdb *redis.Client, logger *zap.Logger) *BypassManager {
	return &BypassManager{
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "bypass")),
	}
}

// Init подтягивает текущее состояние флага при старте сервиса
func (m *BypassManager) Init(ctx context.Context) error {
	val, err := m.rdb.Get(ctx, infra.RedisKeyBypassFlag).Result()
	if err == redis.Nil {
		atomic.StoreInt32(&m.active, 0)
		return nil
	}
	if err != nil {
		return err
	}

	if val == "on" {
		atomic.StoreInt32(&m.active, 1)
		m.logger.Warn("EMERGENCY BYPASS IS ACTIVE AT STARTUP: all decisions forced to ALLOW")
	}
	return nil
}

// StartListener подписывается на сигналы байпаса в реальном времени
func (m *BypassManager) StartListener(ctx context.Context) {
	ListenControlResilient(ctx, m.rdb, m.logger, infra.RedisChanBypass,
		func() error { return m.Init(ctx) },
		func(_ string, status bool) {
			if status {
				atomic.StoreInt32(&m.active, 1)
				m.logger.Warn("EMERGENCY BYPASS ACTIVATED: governance decisions are not enforced")
			} else {
				atomic.StoreInt32(&m.active, 0)
				m.logger.Info("emergency bypass deactivated, enforcement restored")
			}
		},
	)
}

// Activate включает байпас и транслирует сигнал остальным инстансам
func (m *BypassManager) Activate(ctx context.Context) error {
	if err := m.rdb.Set(ctx, infra.RedisKeyBypassFlag, "on", 0).Err(); err != nil {
		return err
	}
	atomic.StoreInt32(&m.active, 1)
	return m.rdb.Publish(ctx, infra.RedisChanBypass, "on").Err()
}

// Deactivate выключает байпас
func (m *BypassManager) Deactivate(ctx context.Context) error {
	if err := m.rdb.Del(ctx, infra.RedisKeyBypassFlag).Err(); err != nil {
		return err
	}
	atomic.StoreInt32(&m.active, 0)
	return m.rdb.Publish(ctx, infra.RedisChanBypass, "off").Err()
}

// Active — максимально быстрая проверка для Hot Path
// (реализация guard.BypassProvider)
func (m *BypassManager) Active() bool {
	return atomic.LoadInt32(&m.active) == 1
}
