package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
)

const latestKeyPrefix = "reading:latest:"

// Cache write modes understood by storeLatestScript
const (
	cacheModeInsert = "insert"
	cacheModeFill   = "fill"
)

// storeLatestScript replaces the cached reading only if the candidate is not
// older. A freshly inserted reading wins a timestamp tie; a read-through fill
// never replaces an entry with the same timestamp.
//
// KEYS[1] cache key, ARGV[1] timestamp, ARGV[2] reading JSON, ARGV[3] mode, ARGV[4] ttl ms
var storeLatestScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur then
	local c = tonumber(cur)
	local n = tonumber(ARGV[1])
	if c > n or (c == n and ARGV[3] ~= 'insert') then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'doc', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// CachedReadingRepository keeps the latest reading per device in Redis in
// front of another repository. The wrapped repository stays authoritative:
// cache failures are logged and never fail a call the wrapped store served.
type CachedReadingRepository struct {
	base   interfaces.ReadingRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *logger.Logger
}

func NewCachedReadingRepository(base interfaces.ReadingRepository, client redis.UniversalClient, ttl time.Duration, log *logger.Logger) *CachedReadingRepository {
	return &CachedReadingRepository{
		base:   base,
		client: client,
		ttl:    ttl,
		logger: log.WithComponent("latest-cache"),
	}
}

func latestKey(deviceID string) string {
	return latestKeyPrefix + deviceID
}

// Insert writes to the wrapped store, then writes the reading through to the
// cache. If the write-through fails the cached entry is dropped so the next
// read goes to the store instead of serving an older reading.
func (r *CachedReadingRepository) Insert(ctx context.Context, nr mqtmodels.NewReading) (mqtmodels.Reading, error) {
	stored, err := r.base.Insert(ctx, nr)
	if err != nil {
		return mqtmodels.Reading{}, err
	}

	if err := r.storeLatest(ctx, stored, cacheModeInsert); err != nil {
		r.logger.Logger.Warn().Err(err).Str("device_id", stored.DeviceID).Msg("Failed to update latest reading cache")
		r.invalidate(ctx, stored.DeviceID)
	}
	return stored, nil
}

func (r *CachedReadingRepository) FetchLatest(ctx context.Context, deviceID string) (mqtmodels.Reading, error) {
	cached, err := r.client.HGet(ctx, latestKey(deviceID), "doc").Result()
	switch {
	case err == nil:
		var reading mqtmodels.Reading
		if jerr := json.Unmarshal([]byte(cached), &reading); jerr == nil {
			return reading, nil
		} else {
			r.logger.Logger.Warn().Err(jerr).Str("device_id", deviceID).Msg("Discarding undecodable cache entry")
		}
	case errors.Is(err, redis.Nil):
	default:
		r.logger.Logger.Warn().Err(err).Str("device_id", deviceID).Msg("Latest reading cache lookup failed")
	}

	reading, err := r.base.FetchLatest(ctx, deviceID)
	if err != nil {
		return mqtmodels.Reading{}, err
	}

	if err := r.storeLatest(ctx, reading, cacheModeFill); err != nil {
		r.logger.Logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to fill latest reading cache")
	}
	return reading, nil
}

// Ping checks the wrapped store only; the cache is optional
func (r *CachedReadingRepository) Ping(ctx context.Context) error {
	return r.base.Ping(ctx)
}

// PingCache checks the Redis connection
func (r *CachedReadingRepository) PingCache(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *CachedReadingRepository) storeLatest(ctx context.Context, reading mqtmodels.Reading, mode string) error {
	doc, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	return storeLatestScript.Run(ctx, r.client,
		[]string{latestKey(reading.DeviceID)},
		strconv.FormatInt(reading.Timestamp, 10), string(doc), mode, r.ttl.Milliseconds(),
	).Err()
}

func (r *CachedReadingRepository) invalidate(ctx context.Context, deviceID string) {
	if err := r.client.Del(ctx, latestKey(deviceID)).Err(); err != nil {
		r.logger.Logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to drop latest reading cache entry")
	}
}
