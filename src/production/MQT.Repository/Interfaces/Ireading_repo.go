package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models"
)

// ReadingRepository is the append-only reading store shared by both ingestion paths
type ReadingRepository interface {
	// Insert persists a validated reading, assigning its ID and RecordedAt.
	// Engine failures are returned as *StorageError and are not retried.
	Insert(ctx context.Context, reading mqtmodels.NewReading) (mqtmodels.Reading, error)

	// FetchLatest returns the reading with the greatest Timestamp for deviceID.
	// Equal timestamps resolve to the most recently inserted reading.
	// Returns ErrReadingNotFound when the device has no readings.
	FetchLatest(ctx context.Context, deviceID string) (mqtmodels.Reading, error)

	// Ping checks that the backing engine is reachable
	Ping(ctx context.Context) error
}
