package api_models

import (
	"time"

	mqtmodels "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models"
)

// StoredReading is the payload returned after a successful ingest
type StoredReading struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	Temperature float64   `json:"temperature"`
	Timestamp   int64     `json:"timestamp"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// LatestReading is the payload returned by the latest-reading query
type LatestReading struct {
	DeviceID    string    `json:"deviceId"`
	Temperature float64   `json:"temperature"`
	Timestamp   int64     `json:"timestamp"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// FieldDetail describes one violated validation rule
type FieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SuccessResponse wraps every successful reading response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

// ErrorResponse wraps every failed reading response
type ErrorResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error"`
	Message string        `json:"message,omitempty"`
	Details []FieldDetail `json:"details,omitempty"`
}

// NewStoredReading maps a persisted reading to its ingest payload
func NewStoredReading(r mqtmodels.Reading) StoredReading {
	return StoredReading{
		ID:          r.ID,
		DeviceID:    r.DeviceID,
		Temperature: r.Temperature,
		Timestamp:   r.Timestamp,
		RecordedAt:  r.RecordedAt,
	}
}

// NewLatestReading maps a persisted reading to its latest-query payload
func NewLatestReading(r mqtmodels.Reading) LatestReading {
	return LatestReading{
		DeviceID:    r.DeviceID,
		Temperature: r.Temperature,
		Timestamp:   r.Timestamp,
		RecordedAt:  r.RecordedAt,
	}
}
