package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/connectors"
)

// ExecutionProvider — downstream-вызов (модель / коннектор), который serving
// loop выполняет ПОСЛЕ разрешающего вердикта. Само ядро решений его не зовет.
type ExecutionProvider interface {
	Call(ctx context.Context, action string, payload []byte) ([]byte, error)
}

type ReliabilityWrapper struct {
	next    ExecutionProvider
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *Metrics
}

func NewReliabilityWrapper(next ExecutionProvider, metrics *Metrics) *ReliabilityWrapper {
	w := &ReliabilityWrapper{next: next, metrics: metrics}

	// Настройка предохранителя
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "guardian-executor",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics == nil {
				return
			}
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1.0
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
		},
	})

	// Лимитер: 100 rps с burst'ом 20
	w.limiter = rate.NewLimiter(rate.Limit(100), 20)
	return w
}

func (w *ReliabilityWrapper) Call(ctx context.Context, action string, payload []byte) ([]byte, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalData []byte

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если downstream вернул ThrottleError (считал Retry-After)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// Иначе (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			finalData, callErr = w.next.Call(tCtx, action, payload)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.([]byte), nil
}
