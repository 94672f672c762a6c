package telemetry

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

// PushResult — исход одного push. Ошибок тут нет принципиально:
// телеметрия best-effort, потеря кадра под давлением — штатное событие,
// а не сбой (оно видно только в счетчиках).
type PushResult struct {
	Accepted            bool    `json:"accepted"`
	Utilization         float64 `json:"utilization"` // Заполненность ДО вставки
	DecimationTriggered bool    `json:"decimation_triggered"`
	Position            uint64  `json:"position"` // Порядковый номер принятого кадра
}

// BufferStatus — снимок для status()
type BufferStatus struct {
	Utilization float64 `json:"utilization"`
	Capacity    int     `json:"capacity"`
	CurrentSize int     `json:"current_size"`
}

// BackpressureStats — монотонные счетчики давления. Обновляются атомарно,
// читать через Snapshot(). Разделяется по ссылке с буфером.
type BackpressureStats struct {
	totalPushes         uint64
	totalDrops          uint64
	decimationEvents    uint64
	lastDecimationUtil  uint64 // Биты float64 (math.Float64bits)
}

// StatsSnapshot — согласованная копия счетчиков для внешнего потребителя
type StatsSnapshot struct {
	TotalPushes              uint64  `json:"total_pushes"`
	TotalDrops               uint64  `json:"total_drops"`
	DecimationEvents         uint64  `json:"decimation_events"`
	LastDecimationUtilization float64 `json:"last_decimation_utilization"`
}

// Snapshot атомарно вычитывает каждый счетчик. Между полями возможен skew,
// но каждое значение само по себе не «порвано».
func (s *BackpressureStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalPushes:               atomic.LoadUint64(&s.totalPushes),
		TotalDrops:                atomic.LoadUint64(&s.totalDrops),
		DecimationEvents:          atomic.LoadUint64(&s.decimationEvents),
		LastDecimationUtilization: math.Float64frombits(atomic.LoadUint64(&s.lastDecimationUtil)),
	}
}

// RingBuffer — кольцевой буфер фиксированной емкости с прореживанием
// (decimation) под давлением. Push НИКОГДА не блокирует продюсера:
// при заполненности >= pressureThreshold буфер выбрасывает каждый N-й
// из СТАРЫХ элементов (свежие данные ценнее), и только если места все равно
// нет — дропает входящий кадр.
//
// Емкость фиксируется при конструировании и не меняется. Все операции
// со слотами — под коротким мьютексом, счетчики — атомарные.
type RingBuffer struct {
	mu       sync.Mutex
	slots    []domain.Frame
	head     int // Позиция следующей записи
	tail     int // Позиция самого старого элемента
	count    int
	capacity int

	pressureThreshold float64
	decimationFactor  int

	position uint64 // Монотонный номер принятого кадра (под мьютексом)
	stats    *BackpressureStats
}

// NewRingBuffer валидирует конфигурацию и создает буфер.
// capacity <= 0 — ошибка конфигурации (fail fast, буфер непригоден).
func NewRingBuffer(capacity int, pressureThreshold float64, decimationFactor int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ringbuffer: capacity must be positive, got %d", capacity)
	}
	if pressureThreshold <= 0 || pressureThreshold > 1 {
		return nil, fmt.Errorf("ringbuffer: pressure threshold must be in (0, 1], got %f", pressureThreshold)
	}
	if decimationFactor < 2 {
		return nil, fmt.Errorf("ringbuffer: decimation factor must be >= 2, got %d", decimationFactor)
	}

	return &RingBuffer{
		slots:             make([]domain.Frame, capacity),
		capacity:          capacity,
		pressureThreshold: pressureThreshold,
		decimationFactor:  decimationFactor,
		stats:             &BackpressureStats{},
	}, nil
}

// Push кладет кадр в буфер. Не блокирует и не возвращает ошибок —
// вся деградация видна через PushResult и счетчики.
func (b *RingBuffer) Push(frame domain.Frame) PushResult {
	atomic.AddUint64(&b.stats.totalPushes, 1)

	b.mu.Lock()

	utilization := float64(b.count) / float64(b.capacity)
	decimated := false

	// Давление: прореживаем ДО вставки, чтобы освободить место пачкой,
	// а не дропать по одному на каждом push
	if utilization >= b.pressureThreshold {
		b.decimateLocked()
		decimated = true
		atomic.AddUint64(&b.stats.decimationEvents, 1)
		atomic.StoreUint64(&b.stats.lastDecimationUtil, math.Float64bits(utilization))
	}

	if b.count == b.capacity {
		// Даже после прореживания места нет — жертвуем входящим кадром.
		// Продюсер (тикер) на критическом пути, ждать ему нельзя.
		b.mu.Unlock()
		atomic.AddUint64(&b.stats.totalDrops, 1)
		return PushResult{
			Accepted:            false,
			Utilization:         utilization,
			DecimationTriggered: decimated,
		}
	}

	b.slots[b.head] = frame
	b.head = (b.head + 1) % b.capacity
	b.count++
	b.position++
	pos := b.position
	b.mu.Unlock()

	return PushResult{
		Accepted:            true,
		Utilization:         utilization,
		DecimationTriggered: decimated,
		Position:            pos,
	}
}

// decimateLocked выбрасывает каждый N-й элемент, считая ОТ СТАРЕЙШЕГО
// (политика «favor recency»: под давлением жертвуем историей, не свежими
// кадрами). Вызывается только под b.mu.
func (b *RingBuffer) decimateLocked() {
	if b.count == 0 {
		return
	}

	kept := make([]domain.Frame, 0, b.count)
	for i := 0; i < b.count; i++ {
		if i%b.decimationFactor == 0 {
			continue // Под нож: позиции 0, N, 2N... от хвоста
		}
		kept = append(kept, b.slots[(b.tail+i)%b.capacity])
	}

	// Перекладываем уцелевших в начало, сбрасываем указатели
	for i := range b.slots {
		b.slots[i] = domain.Frame{}
	}
	copy(b.slots, kept)
	b.tail = 0
	b.head = len(kept) % b.capacity
	b.count = len(kept)
}

// PopBatch вычитывает до max кадров от старейшего к новейшему.
// Потребители best-effort: пустой буфер — это nil, не ошибка.
func (b *RingBuffer) PopBatch(max int) []domain.Frame {
	if max <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := max
	if n > b.count {
		n = b.count
	}
	if n == 0 {
		return nil
	}

	out := make([]domain.Frame, n)
	for i := 0; i < n; i++ {
		out[i] = b.slots[b.tail]
		b.slots[b.tail] = domain.Frame{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

// Status — быстрый снимок заполненности для Hot Path мониторинга
func (b *RingBuffer) Status() BufferStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStatus{
		Utilization: float64(b.count) / float64(b.capacity),
		Capacity:    b.capacity,
		CurrentSize: b.count,
	}
}

// Stats отдает разделяемые счетчики (по ссылке, обновляются атомарно)
func (b *RingBuffer) Stats() *BackpressureStats {
	return b.stats
}
