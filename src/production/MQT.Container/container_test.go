package container

import (
	"context"
	"errors"
	"testing"

	config "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Config"
	mqtingestor "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Ingestor"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
	implementation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Implementation"
)

func memoryContainer(mqttEnabled bool) *Container {
	return New(
		config.StoreConfig{Driver: config.StoreDriverMemory},
		config.MQTTConfig{Enabled: mqttEnabled, Topic: config.DefaultTopic, BrokerHost: "localhost", BrokerPort: 1883},
		logger.Nop(),
	)
}

func TestGetReadingRepositoryIsShared(t *testing.T) {
	c := memoryContainer(false)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	first, err := c.GetReadingRepository(context.Background())
	if err != nil {
		t.Fatalf("GetReadingRepository: %v", err)
	}
	if _, ok := first.(*implementation.MemoryReadingRepository); !ok {
		t.Fatalf("repo type = %T, want memory", first)
	}
	second, _ := c.GetReadingRepository(context.Background())
	if first != second {
		t.Error("repository built twice")
	}
}

func TestGetListenerDisabled(t *testing.T) {
	c := memoryContainer(false)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	l, err := c.GetListener(context.Background())
	if err != nil || l != nil {
		t.Fatalf("GetListener = %v, %v; want nil, nil", l, err)
	}

	h, err := c.GetHealthChecker(context.Background())
	if err != nil {
		t.Fatalf("GetHealthChecker: %v", err)
	}
	if got := h.GetHealthStatus(context.Background()).Checks["mqtt"].Status; got != "disabled" {
		t.Errorf("mqtt check = %s, want disabled", got)
	}
}

func TestShutdownStopsListenerOnce(t *testing.T) {
	c := memoryContainer(true)

	l, err := c.GetListener(context.Background())
	if err != nil || l == nil {
		t.Fatalf("GetListener = %v, %v", l, err)
	}

	calls := 0
	c.AddCleanupFunc(func() error {
		calls++
		return errors.New("close failed")
	})

	_ = c.Shutdown(context.Background())
	_ = c.Shutdown(context.Background())

	if l.State() != mqtingestor.StateStopped {
		t.Errorf("listener state = %s, want stopped", l.State())
	}
	if calls != 1 {
		t.Errorf("cleanup ran %d times, want 1", calls)
	}
}

func TestUnknownDriver(t *testing.T) {
	c := New(config.StoreConfig{Driver: "sqlite"}, config.MQTTConfig{}, logger.Nop())
	if _, err := c.GetReadingRepository(context.Background()); err == nil {
		t.Error("expected error for unknown driver")
	}
}
