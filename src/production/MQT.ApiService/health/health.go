package health

import (
	"context"
	"time"

	mqtingestor "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Ingestor"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
)

// Overall and per-check status values
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

const pingTimeout = 2 * time.Second

// Public error text for failed checks; the cause is only logged
const (
	ErrTextStoreUnreachable = "store unreachable"
	ErrTextCacheUnreachable = "cache unreachable"
)

// Pinger is anything that can report connectivity, such as a reading store
type Pinger interface {
	Ping(ctx context.Context) error
}

// CachePinger is implemented by stores fronted by the Redis latest cache
type CachePinger interface {
	PingCache(ctx context.Context) error
}

// ListenerStatus reports the MQTT listener state
type ListenerStatus interface {
	Status() mqtingestor.Status
}

// Check is the result of one dependency check
type Check struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Detail interface{} `json:"detail,omitempty"`
}

// Report is the body of the aggregated health endpoint
type Report struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

// HealthChecker aggregates store, cache and listener health
type HealthChecker struct {
	store    Pinger
	listener ListenerStatus
	logger   *logger.Logger
	started  time.Time
	now      func() time.Time
}

// NewHealthChecker creates a new health checker. listener may be nil when MQTT is disabled.
func NewHealthChecker(store Pinger, listener ListenerStatus, log *logger.Logger) *HealthChecker {
	return &HealthChecker{
		store:    store,
		listener: listener,
		logger:   log.WithComponent("health"),
		started:  time.Now(),
		now:      time.Now,
	}
}

// Ready reports whether the store answers a ping
func (h *HealthChecker) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return h.store.Ping(ctx)
}

// GetHealthStatus runs every check. The store decides between ok and down;
// a disconnected listener or unreachable cache only degrades the report.
func (h *HealthChecker) GetHealthStatus(ctx context.Context) Report {
	report := Report{
		Status:    StatusOK,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Uptime:    h.now().Sub(h.started).Truncate(time.Second).String(),
		Checks:    make(map[string]Check),
	}

	if err := h.Ready(ctx); err != nil {
		h.logger.WithError(err).Warn("Store health check failed")
		report.Checks["store"] = Check{Status: StatusDown, Error: ErrTextStoreUnreachable}
		report.Status = StatusDown
	} else {
		report.Checks["store"] = Check{Status: StatusOK}
	}

	if cache, ok := h.store.(CachePinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := cache.PingCache(pingCtx)
		cancel()
		if err != nil {
			h.logger.WithError(err).Warn("Cache health check failed")
			report.Checks["cache"] = Check{Status: StatusDown, Error: ErrTextCacheUnreachable}
			report.degrade()
		} else {
			report.Checks["cache"] = Check{Status: StatusOK}
		}
	}

	if h.listener == nil {
		report.Checks["mqtt"] = Check{Status: StatusDisabled}
		return report
	}

	status := h.listener.Status()
	if status.Connected {
		report.Checks["mqtt"] = Check{Status: StatusOK, Detail: status}
	} else {
		report.Checks["mqtt"] = Check{Status: StatusDown, Detail: status}
		report.degrade()
	}

	return report
}

func (r *Report) degrade() {
	if r.Status == StatusOK {
		r.Status = StatusDegraded
	}
}
