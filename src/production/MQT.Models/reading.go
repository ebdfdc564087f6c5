package mqtmodels

import "time"

// MaxSafeTimestamp is the largest epoch-millisecond value a reading may carry (2^53 - 1)
const MaxSafeTimestamp int64 = 1<<53 - 1

// Reading is a single persisted temperature observation
type Reading struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	Temperature float64   `json:"temperature"`
	Timestamp   int64     `json:"timestamp"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// NewReading is a validated reading that has not been stored yet.
// Only the validation package should construct one from untrusted input.
type NewReading struct {
	DeviceID    string
	Temperature float64
	Timestamp   int64
}
