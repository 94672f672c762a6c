package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// parseControlSignal разбирает сигнал control plane. Два формата:
//   - "agent-7:on" / "agent-7:off" — адресный сигнал (блоклист);
//   - "on" / "off"                 — глобальный флаг (аварийный байпас), id пустой.
func parseControlSignal(payload string) (id string, status bool, ok bool) {
	parts := strings.Split(payload, ":")
	switch len(parts) {
	case 1:
		id = ""
	case 2:
		id = parts[0]
	default:
		return "", false, false
	}

	state := parts[len(parts)-1]
	if state != "on" && state != "off" && state != "true" && state != "false" {
		return "", false, false
	}
	return id, state == "on" || state == "true", true
}

// ListenControlResilient — "живучая" подписка на управляющие сигналы Redis.
// Переживает обрыв соединения: на каждом переподключении зовет onReconnect
// (ресинхронизация L1-кэша из Redis), дальше стримит разобранные сигналы
// в onMessage. Выход — только по контексту.
func ListenControlResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(id string, status bool),
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		// Пока мы были оффлайн, сигналы могли пролететь мимо —
		// перечитываем состояние целиком
		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				id, status, valid := parseControlSignal(msg.Payload)
				if !valid {
					logger.Error("invalid control signal", zap.String("payload", msg.Payload))
					continue
				}
				onMessage(id, status)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
