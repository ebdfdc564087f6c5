package implementation

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	mqtmodels "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
)

// MemoryReadingRepository keeps readings in process memory.
// Each device history is sorted ascending by timestamp, then insertion order,
// so the latest reading is always the last element.
type MemoryReadingRepository struct {
	mu      sync.RWMutex
	devices map[string][]mqtmodels.Reading
	nextSeq int64
	clock   *recordClock
}

// NewMemoryReadingRepository creates an empty in-memory repository
func NewMemoryReadingRepository() *MemoryReadingRepository {
	return NewMemoryReadingRepositoryWithClock(time.Now)
}

// NewMemoryReadingRepositoryWithClock creates an empty repository whose RecordedAt values come from now
func NewMemoryReadingRepositoryWithClock(now func() time.Time) *MemoryReadingRepository {
	return &MemoryReadingRepository{
		devices: make(map[string][]mqtmodels.Reading),
		nextSeq: 1,
		clock:   newRecordClock(now),
	}
}

// Insert appends a reading to its device history
func (r *MemoryReadingRepository) Insert(ctx context.Context, nr mqtmodels.NewReading) (mqtmodels.Reading, error) {
	if err := ctx.Err(); err != nil {
		return mqtmodels.Reading{}, interfaces.NewStorageError("insert", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeq
	r.nextSeq++

	stored := mqtmodels.Reading{
		ID:          strconv.FormatInt(seq, 10),
		DeviceID:    nr.DeviceID,
		Temperature: nr.Temperature,
		Timestamp:   nr.Timestamp,
		RecordedAt:  r.clock.Next(),
	}

	history := r.devices[nr.DeviceID]
	// First position holding a strictly newer timestamp, so among equal
	// timestamps the new reading lands last.
	i := sort.Search(len(history), func(i int) bool {
		return history[i].Timestamp > nr.Timestamp
	})
	history = append(history, mqtmodels.Reading{})
	copy(history[i+1:], history[i:])
	history[i] = stored
	r.devices[nr.DeviceID] = history

	return stored, nil
}

// FetchLatest returns the tail of the device history
func (r *MemoryReadingRepository) FetchLatest(ctx context.Context, deviceID string) (mqtmodels.Reading, error) {
	if err := ctx.Err(); err != nil {
		return mqtmodels.Reading{}, interfaces.NewStorageError("fetch latest", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.devices[deviceID]
	if len(history) == 0 {
		return mqtmodels.Reading{}, interfaces.ErrReadingNotFound
	}
	return history[len(history)-1], nil
}

// Ping always succeeds for the in-memory store
func (r *MemoryReadingRepository) Ping(ctx context.Context) error {
	return nil
}

// Count returns the number of stored readings across all devices
func (r *MemoryReadingRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, history := range r.devices {
		n += len(history)
	}
	return n
}
