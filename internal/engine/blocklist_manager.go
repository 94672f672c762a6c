package engine

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/infra"
)

// BlocklistManager держит множество заблокированных агентов: их планы
// вообще не доходят до оценки правил, запрос отбивается сразу.
// L1 — потокобезопасная мапа в памяти, L2 — Redis set, синхронизация
// через Pub/Sub сигналы "agent:on" / "agent:off".
type BlocklistManager struct {
	mu            sync.RWMutex
	blockedAgents map[string]struct{}
	rdb           *redis.Client
	logger        *zap.Logger
}

func NewBlocklistManager(rdb *redis.Client, logger *zap.Logger) *BlocklistManager {
	return &BlocklistManager{
		blockedAgents: make(map[string]struct{}),
		rdb:           rdb,
		logger:        logger.With(zap.String("mod", "blocklist")),
	}
}

// Init загружает текущее состояние блокировок при старте сервиса
func (m *BlocklistManager) Init(ctx context.Context) error {
	agents, err := m.rdb.SMembers(ctx, infra.RedisKeyBlockedAgents).Result()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.blockedAgents = make(map[string]struct{}, len(agents))
	for _, id := range agents {
		m.blockedAgents[id] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// StartListener подписывается на изменения блоклиста в реальном времени
func (m *BlocklistManager) StartListener(ctx context.Context) {
	ListenControlResilient(ctx, m.rdb, m.logger, infra.RedisChanBlocklist,
		func() error { return m.Init(ctx) },
		m.applySignal,
	)
}

// applySignal — единственная точка изменения L1-состояния: ее используют
// и pub/sub-слушатель, и локальные Block/Unblock
func (m *BlocklistManager) applySignal(id string, blocked bool) {
	if id == "" {
		m.logger.Error("blocklist signal without agent id, ignored")
		return
	}
	m.mu.Lock()
	if blocked {
		m.blockedAgents[id] = struct{}{}
		m.logger.Warn("agent blocked by control plane", zap.String("agent_id", id))
	} else {
		delete(m.blockedAgents, id)
		m.logger.Info("agent unblocked", zap.String("agent_id", id))
	}
	m.mu.Unlock()
}

// Block добавляет агента в блоклист и транслирует сигнал
func (m *BlocklistManager) Block(ctx context.Context, agentID string) error {
	if err := m.rdb.SAdd(ctx, infra.RedisKeyBlockedAgents, agentID).Err(); err != nil {
		return err
	}
	m.applySignal(agentID, true)
	return m.rdb.Publish(ctx, infra.RedisChanBlocklist, agentID+":on").Err()
}

// Unblock снимает блокировку и транслирует сигнал остальным инстансам
func (m *BlocklistManager) Unblock(ctx context.Context, agentID string) error {
	if err := m.rdb.SRem(ctx, infra.RedisKeyBlockedAgents, agentID).Err(); err != nil {
		return err
	}
	m.applySignal(agentID, false)
	return m.rdb.Publish(ctx, infra.RedisChanBlocklist, agentID+":off").Err()
}

// IsBlocked — быстрая проверка для Hot Path
func (m *BlocklistManager) IsBlocked(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, blocked := m.blockedAgents[agentID]
	return blocked
}
