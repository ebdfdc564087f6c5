package implementation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
)

// postgresSchema mirrors the validator's invariants as table constraints.
// idx_readings_device_latest carries id so ties on ts are resolved inside the index.
const postgresSchema = `
	CREATE TABLE IF NOT EXISTS readings (
		id          BIGSERIAL PRIMARY KEY,
		device_id   TEXT NOT NULL CHECK (btrim(device_id) <> ''),
		temperature DOUBLE PRECISION NOT NULL,
		ts          BIGINT NOT NULL CHECK (ts BETWEEN 0 AND 9007199254740991),
		recorded_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_readings_device_id ON readings (device_id);
	CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings (ts DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_device_latest ON readings (device_id, ts DESC, id DESC);
`

type PostgresReadingRepository struct {
	pool  *pgxpool.Pool
	clock *recordClock
}

func NewPostgresReadingRepository(pool *pgxpool.Pool) *PostgresReadingRepository {
	return &PostgresReadingRepository{pool: pool, clock: newRecordClock(time.Now)}
}

// EnsureSchema creates the readings table and its indexes if they don't exist
func (r *PostgresReadingRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return interfaces.NewStorageError("create schema", err)
	}
	return nil
}

func (r *PostgresReadingRepository) Insert(ctx context.Context, nr mqtmodels.NewReading) (mqtmodels.Reading, error) {
	query := `
		INSERT INTO readings (device_id, temperature, ts, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	recordedAt := r.clock.Next()

	var id int64
	if err := r.pool.QueryRow(ctx, query, nr.DeviceID, nr.Temperature, nr.Timestamp, recordedAt).Scan(&id); err != nil {
		return mqtmodels.Reading{}, interfaces.NewStorageError("insert", err)
	}

	return mqtmodels.Reading{
		ID:          strconv.FormatInt(id, 10),
		DeviceID:    nr.DeviceID,
		Temperature: nr.Temperature,
		Timestamp:   nr.Timestamp,
		RecordedAt:  recordedAt,
	}, nil
}

func (r *PostgresReadingRepository) FetchLatest(ctx context.Context, deviceID string) (mqtmodels.Reading, error) {
	query := `
		SELECT id, device_id, temperature, ts, recorded_at
		FROM readings
		WHERE device_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`

	var (
		reading mqtmodels.Reading
		id      int64
	)
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(&id, &reading.DeviceID, &reading.Temperature, &reading.Timestamp, &reading.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mqtmodels.Reading{}, interfaces.ErrReadingNotFound
		}
		return mqtmodels.Reading{}, interfaces.NewStorageError("fetch latest", err)
	}

	reading.ID = strconv.FormatInt(id, 10)
	reading.RecordedAt = reading.RecordedAt.UTC()
	return reading, nil
}

func (r *PostgresReadingRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return interfaces.NewStorageError("ping", err)
	}
	return nil
}
