package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]Record
}

func (s *memStorage) WriteBatch(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]Record, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *memStorage) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestTrail_FlushesOnBatchSize(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 100, 5, time.Hour, zap.NewNop()) // таймер не участвует
	trail.Start()

	for i := 0; i < 12; i++ {
		trail.Log(Record{ID: "r", CorrelationID: "c"})
	}
	trail.Stop()

	assert.Equal(t, 12, storage.total(), "every record survives: two full batches plus the final flush")
	storage.mu.Lock()
	defer storage.mu.Unlock()
	require.GreaterOrEqual(t, len(storage.batches), 3)
	assert.Len(t, storage.batches[0], 5)
	assert.Len(t, storage.batches[1], 5)
}

func TestTrail_FlushesOnInterval(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 100, 1000, 20*time.Millisecond, zap.NewNop())
	trail.Start()
	defer trail.Stop()

	trail.Log(Record{ID: "r-1"})

	require.Eventually(t, func() bool {
		return storage.total() == 1
	}, time.Second, 5*time.Millisecond, "a lone record must flush by timer, not wait for a full batch")
}

func TestTrail_StopDrainsBuffer(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 1000, 100, time.Hour, zap.NewNop())
	trail.Start()

	for i := 0; i < 42; i++ {
		trail.Log(Record{ID: "r"})
	}
	trail.Stop()

	assert.Equal(t, 42, storage.total(), "Stop performs the final flush before returning")
}

func TestTrail_LogAfterStopDropped(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 10, 5, time.Hour, zap.NewNop())
	trail.Start()
	trail.Stop()

	// Не должно паниковать на закрытом канале
	trail.Log(Record{ID: "late"})
	assert.Equal(t, 0, storage.total())
}

func TestTrail_StopRacesWithProducers(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 1000, 100, time.Hour, zap.NewNop())
	trail.Start()

	// Продюсеры пишут, пока Stop закрывает канал: ни одна комбинация
	// планировщика не должна привести к send-to-closed-channel
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				trail.Log(Record{ID: "r"})
			}
		}()
	}

	trail.Stop()
	wg.Wait()

	assert.LessOrEqual(t, storage.total(), 8*200, "stored records never exceed produced")
}

func TestTrail_StopIdempotent(t *testing.T) {
	trail := NewTrail(&memStorage{}, 10, 5, time.Hour, zap.NewNop())
	trail.Start()
	trail.Stop()
	trail.Stop() // второй Stop — no-op, не double close
}

func TestTrail_FillReflectsBacklog(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 10, 100, time.Hour, zap.NewNop())
	// Воркер не запущен — записи копятся в канале
	for i := 0; i < 5; i++ {
		trail.Log(Record{ID: "r"})
	}
	assert.InDelta(t, 0.5, trail.Fill(), 1e-9)
}

func TestTrail_DefaultsApplied(t *testing.T) {
	trail := NewTrail(&memStorage{}, 0, 0, 0, zap.NewNop())
	assert.Equal(t, 100, trail.batchSize)
	assert.Equal(t, 500*time.Millisecond, trail.flushInterval)
	assert.Equal(t, 10000, cap(trail.ch))
}
