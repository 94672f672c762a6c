package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

var (
	// ErrNotRunning возвращается на любую операцию с остановленным тикером.
	// Молчаливый no-op недопустим: вызывающий должен знать, что поток кадров мертв.
	ErrNotRunning = errors.New("ticker: not running")

	// ErrAlreadyRunning — повторный Start без Stop
	ErrAlreadyRunning = errors.New("ticker: already running")
)

// Состояния жизненного цикла (атомарный int32)
const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Sampler снимает текущее состояние процесса в payload кадра.
// Вызывается на каждом тике, должен быть быстрым (Hot Path).
type Sampler func() map[string]interface{}

// Subscriber получает каждый кадр после записи в буфер.
// Паника внутри колбэка изолируется и считается, тик не прерывается.
type Subscriber func(domain.Frame)

// TickerConfig — иммутабельная конфигурация на время жизни инстанса.
// Реконфигурация = пересоздание.
type TickerConfig struct {
	FPS               float64 `mapstructure:"fps"`
	Capacity          int     `mapstructure:"capacity"`
	PressureThreshold float64 `mapstructure:"pressure_threshold"`
	DecimationFactor  int     `mapstructure:"decimation_factor"`
}

// FinalStats — замороженный итог после Stop(). Повторный Stop возвращает
// ровно тот же снимок.
type FinalStats struct {
	FramesProcessed      uint64        `json:"frames_processed"`
	TicksDropped         uint64        `json:"ticks_dropped"`
	SubscriberExceptions uint64        `json:"subscriber_exceptions"`
	Buffer               StatsSnapshot `json:"buffer"`
	Uptime               time.Duration `json:"uptime"`
}

// TickerStatus — live-снимок для status()
type TickerStatus struct {
	FramesProcessed    uint64    `json:"frames_processed"`
	CurrentUtilization float64   `json:"current_utilization"`
	LastTickTimestamp  time.Time `json:"last_tick_timestamp"`
}

// Ticker («consciousness ticker») — периодический драйвер: на каждом тике
// снимает состояние процесса, присваивает монотонный SequenceID, кладет кадр
// в собственный RingBuffer и раздает подписчикам.
//
// Гарантии:
//   - отстающий тик не порождает «догоняющий» burst — пропущенные интервалы
//     просто считаются (time.Ticker коалесцирует их сам);
//   - сбой одного подписчика не трогает ни цикл, ни других подписчиков;
//   - Stop() идемпотентен и завершает цикл до следующего запланированного тика.
type Ticker struct {
	cfg     TickerConfig
	period  time.Duration
	buffer  *RingBuffer
	sampler Sampler
	metrics *Metrics
	logger  *zap.Logger

	subMu       sync.RWMutex
	subscribers []Subscriber

	state    int32 // stateIdle / stateRunning / stateStopped
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	seq             uint64
	framesProcessed uint64
	ticksDropped    uint64
	subExceptions   uint64
	lastTickNano    int64

	startedAt time.Time
	final     FinalStats
}

// NewTicker валидирует конфиг и собирает тикер с собственным буфером
func NewTicker(cfg TickerConfig, sampler Sampler, metrics *Metrics, logger *zap.Logger) (*Ticker, error) {
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("ticker: fps must be positive, got %f", cfg.FPS)
	}
	if sampler == nil {
		return nil, fmt.Errorf("ticker: sampler is required")
	}

	buffer, err := NewRingBuffer(cfg.Capacity, cfg.PressureThreshold, cfg.DecimationFactor)
	if err != nil {
		return nil, err
	}

	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Ticker{
		cfg:     cfg,
		period:  time.Duration(float64(time.Second) / cfg.FPS),
		buffer:  buffer,
		sampler: sampler,
		metrics: metrics,
		logger:  logger.Named("ticker"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Subscribe регистрирует подписчика. Разрешено до старта и на лету.
func (t *Ticker) Subscribe(fn Subscriber) error {
	if atomic.LoadInt32(&t.state) == stateStopped {
		return ErrNotRunning
	}
	t.subMu.Lock()
	t.subscribers = append(t.subscribers, fn)
	t.subMu.Unlock()
	return nil
}

// Start запускает периодический цикл в отдельной горутине
func (t *Ticker) Start() error {
	if !atomic.CompareAndSwapInt32(&t.state, stateIdle, stateRunning) {
		if atomic.LoadInt32(&t.state) == stateRunning {
			return ErrAlreadyRunning
		}
		return ErrNotRunning
	}

	t.startedAt = time.Now()
	go t.run()

	t.logger.Info("consciousness ticker started",
		zap.Float64("fps", t.cfg.FPS),
		zap.Int("capacity", t.cfg.Capacity),
	)
	return nil
}

func (t *Ticker) run() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			// time.Ticker не копит пропущенные срабатывания — если тик
			// опоздал больше чем на период, интервалы потеряны. Считаем их.
			if missed := int(now.Sub(last)/t.period) - 1; missed > 0 {
				atomic.AddUint64(&t.ticksDropped, uint64(missed))
				t.metrics.TicksDropped.Add(float64(missed))
			}
			last = now
			t.tick(now)
		}
	}
}

func (t *Ticker) tick(now time.Time) {
	start := time.Now()

	frame := domain.Frame{
		SequenceID: atomic.AddUint64(&t.seq, 1),
		Timestamp:  now,
		Payload:    t.sampler(),
	}

	res := t.buffer.Push(frame)
	t.metrics.BufferUtilization.Set(res.Utilization)
	if res.DecimationTriggered {
		t.metrics.DecimationEvents.Inc()
	}

	atomic.AddUint64(&t.framesProcessed, 1)
	atomic.StoreInt64(&t.lastTickNano, now.UnixNano())

	t.notify(frame)

	t.metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// notify раздает кадр подписчикам. Каждый вызов обернут в recover —
// чужая паника не должна убить цикл тикера.
func (t *Ticker) notify(frame domain.Frame) {
	t.subMu.RLock()
	subs := t.subscribers
	t.subMu.RUnlock()

	for i, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&t.subExceptions, 1)
					t.metrics.SubscriberExceptions.Inc()
					t.logger.Error("subscriber panic recovered",
						zap.Int("subscriber", i),
						zap.Uint64("sequence_id", frame.SequenceID),
						zap.Any("panic", r),
					)
				}
			}()
			fn(frame)
		}()
	}
}

// Stop останавливает цикл до следующего запланированного тика и замораживает
// итоговую статистику. Идемпотентен: любой повторный вызов вернет тот же снимок.
func (t *Ticker) Stop() FinalStats {
	t.stopOnce.Do(func() {
		if atomic.CompareAndSwapInt32(&t.state, stateRunning, stateStopped) {
			close(t.stopCh)
			<-t.doneCh
		} else {
			atomic.StoreInt32(&t.state, stateStopped)
		}

		t.final = FinalStats{
			FramesProcessed:      atomic.LoadUint64(&t.framesProcessed),
			TicksDropped:         atomic.LoadUint64(&t.ticksDropped),
			SubscriberExceptions: atomic.LoadUint64(&t.subExceptions),
			Buffer:               t.buffer.Stats().Snapshot(),
		}
		if !t.startedAt.IsZero() {
			t.final.Uptime = time.Since(t.startedAt)
		}

		t.logger.Info("consciousness ticker stopped",
			zap.Uint64("frames_processed", t.final.FramesProcessed),
			zap.Uint64("ticks_dropped", t.final.TicksDropped),
		)
	})
	return t.final
}

// Status — live-снимок. На остановленном тикере — ErrNotRunning.
func (t *Ticker) Status() (TickerStatus, error) {
	if atomic.LoadInt32(&t.state) != stateRunning {
		return TickerStatus{}, ErrNotRunning
	}

	var lastTick time.Time
	if nano := atomic.LoadInt64(&t.lastTickNano); nano != 0 {
		lastTick = time.Unix(0, nano)
	}

	return TickerStatus{
		FramesProcessed:    atomic.LoadUint64(&t.framesProcessed),
		CurrentUtilization: t.buffer.Status().Utilization,
		LastTickTimestamp:  lastTick,
	}, nil
}

// Buffer отдает внутренний буфер потребителям кадров (observability-слой).
// Доступен и после Stop — остатки кадров можно дочитать.
func (t *Ticker) Buffer() *RingBuffer {
	return t.buffer
}

// Metrics — инструментарий этого инстанса (свой на каждый тикер, не синглтон)
func (t *Ticker) Metrics() *Metrics {
	return t.metrics
}
