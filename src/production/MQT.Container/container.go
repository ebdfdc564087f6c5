package container

import (
	"context"
	"fmt"
	"sync"

	"gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.ApiService/health"
	config "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Config"
	mqtingestor "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Ingestor"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
	implementation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
	startup "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Startup/health"
	validation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Validation"
)

// Container manages dependencies and their lifecycle
type Container struct {
	storeCfg config.StoreConfig
	mqttCfg  config.MQTTConfig
	logger   *logger.Logger

	validator     *validation.Validator
	readingRepo   interfaces.ReadingRepository
	listener      *mqtingestor.Listener
	healthChecker *health.HealthChecker

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions, run in reverse order on shutdown
	cleanupFuncs []func() error
	shutdownOnce sync.Once
}

// ApiContainer manages dependencies for the API service
type ApiContainer struct {
	*Container
	config *config.Config
}

// IngestorContainer manages dependencies for the standalone MQTT ingestor service
type IngestorContainer struct {
	*Container
	config *config.IngestorConfig
}

// New creates a container from already loaded settings
func New(storeCfg config.StoreConfig, mqttCfg config.MQTTConfig, log *logger.Logger) *Container {
	return &Container{
		storeCfg:  storeCfg,
		mqttCfg:   mqttCfg,
		logger:    log,
		validator: validation.New(),
	}
}

// NewApiContainer creates a new container for the API service
func NewApiContainer() (*ApiContainer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load API configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("api")

	return &ApiContainer{
		Container: New(cfg.Store, cfg.MQTT, log),
		config:    cfg,
	}, nil
}

// NewIngestorContainer creates a new container for the MQTT Ingestor service
func NewIngestorContainer() (*IngestorContainer, error) {
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestor configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("ingestor")

	return &IngestorContainer{
		Container: New(cfg.Store, cfg.MQTT, log),
		config:    cfg,
	}, nil
}

// GetConfig returns the configuration
func (c *ApiContainer) GetConfig() *config.Config {
	return c.config
}

// GetConfig returns the ingestor configuration
func (c *IngestorContainer) GetConfig() *config.IngestorConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetValidator returns the shared reading validator
func (c *Container) GetValidator() *validation.Validator {
	return c.validator
}

// GetReadingRepository connects the configured store on first use, preparing
// its indexes or schema, and fronts it with the Redis cache when enabled
func (c *Container) GetReadingRepository(ctx context.Context) (interfaces.ReadingRepository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readingRepo != nil {
		return c.readingRepo, nil
	}

	repo, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}

	if c.storeCfg.Redis.Enabled() {
		client, err := startup.ConnectRedis(ctx, c.storeCfg.Redis)
		if err != nil {
			// The cache is optional; serve straight from the store
			c.logger.WithField("addr", c.storeCfg.Redis.Addr).WithError(err).Warn("Latest reading cache disabled")
		} else {
			c.cleanupFuncs = append(c.cleanupFuncs, client.Close)
			repo = implementation.NewCachedReadingRepository(repo, client, c.storeCfg.Redis.LatestTTL, c.logger)
			c.logger.Logger.Info().Str("addr", c.storeCfg.Redis.Addr).Dur("ttl", c.storeCfg.Redis.LatestTTL).Msg("Latest reading cache enabled")
		}
	}

	c.readingRepo = repo
	return repo, nil
}

func (c *Container) openStore(ctx context.Context) (interfaces.ReadingRepository, error) {
	switch c.storeCfg.Driver {
	case config.StoreDriverMongo:
		client, err := startup.ConnectMongoWithTimeout(ctx, c.storeCfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			return client.Disconnect(context.Background())
		})

		repo := implementation.NewMongoReadingRepository(startup.GetCollection(client, c.storeCfg.Mongo))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		c.logger.WithFields(map[string]interface{}{
			"db":         c.storeCfg.Mongo.DBName,
			"collection": c.storeCfg.Mongo.CollectionName,
		}).Info("Connected to MongoDB")
		return repo, nil

	case config.StoreDriverPostgres:
		pool, err := startup.ConnectPostgresWithTimeout(ctx, c.storeCfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			pool.Close()
			return nil
		})

		repo := implementation.NewPostgresReadingRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
		c.logger.Info("Connected to PostgreSQL")
		return repo, nil

	case config.StoreDriverMemory:
		c.logger.Warn("Using in-memory reading store; readings are lost on restart")
		return implementation.NewMemoryReadingRepository(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", c.storeCfg.Driver)
	}
}

// GetListener returns the MQTT listener, or nil when MQTT is disabled
func (c *Container) GetListener(ctx context.Context) (*mqtingestor.Listener, error) {
	if !c.mqttCfg.Enabled {
		return nil, nil
	}

	repo, err := c.GetReadingRepository(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener == nil {
		c.listener = mqtingestor.New(c.mqttCfg, repo, c.validator, c.logger)
	}
	return c.listener, nil
}

// GetHealthChecker returns the health checker
func (c *Container) GetHealthChecker(ctx context.Context) (*health.HealthChecker, error) {
	repo, err := c.GetReadingRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get store for health checker: %w", err)
	}
	listener, err := c.GetListener(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthChecker == nil {
		if listener != nil {
			c.healthChecker = health.NewHealthChecker(repo, listener, c.logger)
		} else {
			c.healthChecker = health.NewHealthChecker(repo, nil, c.logger)
		}
	}
	return c.healthChecker, nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown stops the listener and then closes store connections. Only the
// first call does anything.
func (c *Container) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.logger.Info("Shutting down container...")

		c.mu.Lock()
		listener := c.listener
		cleanups := c.cleanupFuncs
		c.cleanupFuncs = nil
		c.mu.Unlock()

		if listener != nil {
			listener.Stop()
		}

		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](); err != nil {
				c.logger.ErrorWithError(err, "Error during cleanup")
			}
		}

		c.logger.Info("Container shutdown complete")
	})
	return nil
}
