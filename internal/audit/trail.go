package audit

/*
Файл trail.go реализует Audit Trail — асинхронный сборщик governance-вердиктов
для передачи во внешнее durable-хранилище.

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал отделяет Hot Path движка от
  задержек записи в БД. Вердикт не ждет диска.
- Batching: накопление записей в памяти и пакетная вставка по таймеру или
  при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке буфер вычитывается
  полностью (sync.WaitGroup + закрытие канала), Final Flush гарантирован.
- Load Shedding: при переполнении буфера запись уходит в структурный лог,
  а не блокирует продюсера.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются записи
type StorageInterface interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []Record) error
}

// Sink — то, что видит Hot Path: только неблокирующий Log
type Sink interface {
	Log(record Record)
}

type Trail struct {
	ch     chan Record
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	// closeMu упорядочивает продюсеров и close(ch): Log шлет под RLock,
	// Stop закрывает канал только взяв Lock — send-to-closed исключен
	closeMu sync.RWMutex
	closed  bool
}

// NewTrail создает трейл с буфером на bufferSize записей
func NewTrail(repo StorageInterface, bufferSize, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan Record, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit")),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход и ждет, пока воркер допишет остатки.
// Lock дожидается всех in-flight Log, только потом канал закрывается.
func (t *Trail) Stop() {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return
	}
	t.closed = true
	t.closeMu.Unlock()

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

// Log кладет запись в буфер. Никогда не блокирует: переполнение — это
// load shedding, запись уезжает в структурный лог, чтобы не потерять совсем.
func (t *Trail) Log(record Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	t.closeMu.RLock()
	defer t.closeMu.RUnlock()

	if t.closed {
		t.logger.Warn("audit record dropped: trail is stopping", zap.String("id", record.ID))
		return
	}

	select {
	case t.ch <- record:
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("correlation_id", record.CorrelationID),
			zap.String("decision", record.Decision),
		)
	}
}

// Fill — текущая заполненность буфера [0, 1] для метрик
func (t *Trail) Fill() float64 {
	return float64(len(t.ch)) / float64(cap(t.ch))
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Record, 0, t.batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на shutdown уже может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case record, ok := <-t.ch:
			if !ok {
				// Закрытие канала в Stop() — самодостаточный сигнал:
				// воркер сначала вычитал остатки, теперь финальный flush и выход
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, record)
			if len(batch) >= t.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
