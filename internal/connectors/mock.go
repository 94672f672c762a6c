package connectors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockModelConnector имитирует downstream-вызов модели/инструмента.
// Нужен для локальной обкатки governance-контура без живого бэкенда:
// задержки и отказы правдоподобные, чтобы Circuit Breaker было чем заняться.
type MockModelConnector struct{}

func (c *MockModelConnector) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch action {
	case "model.generate":
		return []byte(`{"status": "generated", "tokens": 512}`), nil

	case "model.embed":
		return []byte(`{"status": "embedded", "dimensions": 768}`), nil

	case "tool.invoke":
		return []byte(`{"status": "invoked", "tool": "calculator"}`), nil

	case "unstable.backend":
		// Для проверки ретраев и предохранителя
		return nil, fmt.Errorf("backend internal error")

	case "throttled.backend":
		return nil, &ThrottleError{
			RetryAfter: 200 * time.Millisecond,
			Cause:      fmt.Errorf("quota exhausted"),
		}

	default:
		return nil, fmt.Errorf("action %s not supported by connector", action)
	}
}
