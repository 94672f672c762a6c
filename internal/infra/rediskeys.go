package infra

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "guardian"
)

// Ключи состояния
const (
	RedisKeyBlockedAgents = RedisNamespace + ":agents:blocked_set"
	RedisKeyBypassFlag    = RedisNamespace + ":bypass:active"
)

// Каналы Pub/Sub (управляющие сигналы)
const (
	// RedisChanBypass — глобальный аварийный байпас ("on"/"off")
	RedisChanBypass = RedisNamespace + ":bypass-signal"

	// RedisChanBlocklist — адресные блокировки агентов ("agent_id:on" / ":off")
	RedisChanBlocklist = RedisNamespace + ":agents:blocklist-signal"
)
