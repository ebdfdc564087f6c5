package mqtingestor

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Models"
	implementation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
	validation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Validation"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

var _ mqtt.Message = (*fakeMessage)(nil)

type failingRepo struct {
	calls int
}

func (r *failingRepo) Insert(ctx context.Context, nr mqtmodels.NewReading) (mqtmodels.Reading, error) {
	r.calls++
	return mqtmodels.Reading{}, interfaces.NewStorageError("insert", errors.New("connection refused"))
}

func (r *failingRepo) FetchLatest(ctx context.Context, deviceID string) (mqtmodels.Reading, error) {
	return mqtmodels.Reading{}, interfaces.NewStorageError("fetch latest", errors.New("connection refused"))
}

func (r *failingRepo) Ping(ctx context.Context) error { return nil }

type panickingRepo struct {
	failingRepo
}

func (r *panickingRepo) Insert(ctx context.Context, nr mqtmodels.NewReading) (mqtmodels.Reading, error) {
	panic("boom")
}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:           true,
		BrokerHost:        "localhost",
		BrokerPort:        1883,
		Topic:             config.DefaultTopic,
		ClientID:          "listener-test",
		QoS:               1,
		KeepAlive:         30 * time.Second,
		PingTimeout:       10 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

var fixedNow = time.UnixMilli(1700000000000)

func newTestListener(t *testing.T, repo interfaces.ReadingRepository) *Listener {
	t.Helper()
	v := validation.NewWithClock(func() time.Time { return fixedNow })
	l := New(testMQTTConfig(), repo, v, logger.Nop())
	t.Cleanup(l.Stop)
	return l
}

func TestHandleMessageStoresStringTemperature(t *testing.T) {
	repo := implementation.NewMemoryReadingRepository()
	l := newTestListener(t, repo)

	outcome := l.HandleMessage(context.Background(), "iot/sensor/dev-2/temperature", []byte(`{"temperature":"19.3"}`))
	if outcome != OutcomeStored {
		t.Fatalf("outcome = %s, want stored", outcome)
	}

	latest, err := repo.FetchLatest(context.Background(), "dev-2")
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if latest.Temperature != 19.3 {
		t.Errorf("Temperature = %v, want 19.3", latest.Temperature)
	}
	if latest.Timestamp != fixedNow.UnixMilli() {
		t.Errorf("Timestamp = %d, want defaulted %d", latest.Timestamp, fixedNow.UnixMilli())
	}
}

func TestHandleMessageTopicWinsOverPayloadDevice(t *testing.T) {
	repo := implementation.NewMemoryReadingRepository()
	l := newTestListener(t, repo)

	outcome := l.HandleMessage(context.Background(), "iot/sensor/dev-3/temperature", []byte(`{"deviceId":"other","temperature":21,"timestamp":1700000000500}`))
	if outcome != OutcomeStored {
		t.Fatalf("outcome = %s, want stored", outcome)
	}
	if _, err := repo.FetchLatest(context.Background(), "other"); !errors.Is(err, interfaces.ErrReadingNotFound) {
		t.Errorf("payload deviceId was used: err = %v", err)
	}
	latest, err := repo.FetchLatest(context.Background(), "dev-3")
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if latest.Timestamp != 1700000000500 {
		t.Errorf("Timestamp = %d, want 1700000000500", latest.Timestamp)
	}
}

func TestHandleMessageRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    Outcome
	}{
		{"wrong metric", "iot/sensor/dev-1/humidity", `{"temperature":20}`, OutcomeInvalidTopic},
		{"too few levels", "iot/sensor/temperature", `{"temperature":20}`, OutcomeInvalidTopic},
		{"empty device", "iot/sensor//temperature", `{"temperature":20}`, OutcomeInvalidTopic},
		{"not json", "iot/sensor/dev-1/temperature", `not-json`, OutcomeInvalidPayload},
		{"json array", "iot/sensor/dev-1/temperature", `[1,2]`, OutcomeInvalidPayload},
		{"json null", "iot/sensor/dev-1/temperature", `null`, OutcomeInvalidPayload},
		{"missing temperature", "iot/sensor/dev-1/temperature", `{}`, OutcomeInvalidReading},
		{"non-numeric temperature", "iot/sensor/dev-1/temperature", `{"temperature":"abc"}`, OutcomeInvalidReading},
		{"bad timestamp", "iot/sensor/dev-1/temperature", `{"temperature":20,"timestamp":-1}`, OutcomeInvalidReading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := implementation.NewMemoryReadingRepository()
			l := newTestListener(t, repo)

			if got := l.HandleMessage(context.Background(), tt.topic, []byte(tt.payload)); got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
			if repo.Count() != 0 {
				t.Errorf("Count = %d, want 0", repo.Count())
			}
		})
	}
}

func TestHandleMessageSwallowsStoreFailure(t *testing.T) {
	repo := &failingRepo{}
	l := newTestListener(t, repo)

	for i := 0; i < 3; i++ {
		if got := l.HandleMessage(context.Background(), "iot/sensor/dev-1/temperature", []byte(`{"temperature":20}`)); got != OutcomeStoreFailed {
			t.Fatalf("outcome = %s, want store_failed", got)
		}
	}
	if repo.calls != 3 {
		t.Errorf("Insert called %d times, want 3", repo.calls)
	}
	if status := l.Status(); status.Failed != 3 {
		t.Errorf("Status().Failed = %d, want 3", status.Failed)
	}
}

func TestOnMessageRecoversFromPanic(t *testing.T) {
	l := newTestListener(t, &panickingRepo{})

	l.onMessage(nil, &fakeMessage{topic: "iot/sensor/dev-1/temperature", payload: []byte(`{"temperature":20}`)})

	// A following message is still processed
	l.readingRepo = implementation.NewMemoryReadingRepository()
	l.onMessage(nil, &fakeMessage{topic: "iot/sensor/dev-1/temperature", payload: []byte(`{"temperature":20}`)})
	if status := l.Status(); status.Stored != 1 {
		t.Errorf("Status().Stored = %d, want 1", status.Stored)
	}
}

func TestMessagesAfterStopAreIgnored(t *testing.T) {
	repo := implementation.NewMemoryReadingRepository()
	l := newTestListener(t, repo)

	l.Stop()
	l.Stop()

	if l.State() != StateStopped {
		t.Fatalf("State = %s, want stopped", l.State())
	}
	l.onMessage(nil, &fakeMessage{topic: "iot/sensor/dev-1/temperature", payload: []byte(`{"temperature":20}`)})
	if got := l.HandleMessage(context.Background(), "iot/sensor/dev-1/temperature", []byte(`{"temperature":20}`)); got != OutcomeStopped {
		t.Errorf("outcome = %s, want stopped", got)
	}
	if repo.Count() != 0 {
		t.Errorf("Count = %d, want 0", repo.Count())
	}
	if status := l.Status(); status.Ignored != 2 || status.State != "stopped" {
		t.Errorf("Status = %+v, want 2 ignored and stopped", status)
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop: err = %v, want ErrStopped", err)
	}
}

func TestInitialState(t *testing.T) {
	l := newTestListener(t, implementation.NewMemoryReadingRepository())
	if l.State() != StateDisconnected {
		t.Errorf("State = %s, want disconnected", l.State())
	}
	if l.IsConnected() {
		t.Error("IsConnected before Start")
	}
}

func TestTLSConfigRejectsBadCAFile(t *testing.T) {
	if _, err := tlsConfig("/nonexistent/ca.pem"); err == nil {
		t.Error("expected error for missing CA file")
	}

	f, err := os.CreateTemp(t.TempDir(), "ca-*.pem")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("not a certificate")
	_ = f.Close()
	if _, err := tlsConfig(f.Name()); err == nil {
		t.Error("expected error for CA file without certificates")
	}

	cfg, err := tlsConfig("")
	if err != nil || cfg == nil {
		t.Fatalf("tlsConfig(\"\") = %v, %v", cfg, err)
	}
}

type blockingRepo struct {
	base     interfaces.ReadingRepository
	entered  chan struct{}
	release  chan struct{}
	enterOne sync.Once
}

func (r *blockingRepo) Insert(ctx context.Context, nr mqtmodels.NewReading) (mqtmodels.Reading, error) {
	r.enterOne.Do(func() { close(r.entered) })
	<-r.release
	if err := ctx.Err(); err != nil {
		return mqtmodels.Reading{}, interfaces.NewStorageError("insert", err)
	}
	return r.base.Insert(ctx, nr)
}

func (r *blockingRepo) FetchLatest(ctx context.Context, deviceID string) (mqtmodels.Reading, error) {
	return r.base.FetchLatest(ctx, deviceID)
}

func (r *blockingRepo) Ping(ctx context.Context) error { return nil }

func TestStopLetsInFlightMessageFinish(t *testing.T) {
	repo := &blockingRepo{
		base:    implementation.NewMemoryReadingRepository(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	l := newTestListener(t, repo)

	handled := make(chan struct{})
	go func() {
		l.onMessage(nil, &fakeMessage{topic: "iot/sensor/dev-1/temperature", payload: []byte(`{"temperature":20}`)})
		close(handled)
	}()
	<-repo.entered

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	waitFor(t, func() bool { return l.State() == StateStopped })

	select {
	case <-stopped:
		t.Fatal("Stop returned while a message was still being stored")
	case <-time.After(50 * time.Millisecond):
	}

	close(repo.release)
	<-handled
	<-stopped

	if status := l.Status(); status.Stored != 1 || status.Failed != 0 {
		t.Errorf("Status = %+v, want the in-flight reading stored", status)
	}
	if _, err := repo.base.FetchLatest(context.Background(), "dev-1"); err != nil {
		t.Errorf("FetchLatest: %v", err)
	}
}

// deadBrokerConfig points at a port nothing listens on
func deadBrokerConfig() config.MQTTConfig {
	cfg := testMQTTConfig()
	cfg.BrokerHost = "127.0.0.1"
	cfg.BrokerPort = 1
	cfg.ReconnectInterval = 100 * time.Millisecond
	return cfg
}

func TestStopAbortsConnectRetry(t *testing.T) {
	l := New(deadBrokerConfig(), implementation.NewMemoryReadingRepository(), validation.New(), logger.Nop())

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	l.Stop()

	l.mu.Lock()
	client := l.client
	l.mu.Unlock()

	// A client still in its connect-retry loop reports IsConnected
	if client.IsConnected() {
		t.Error("client still retrying after Stop")
	}
	time.Sleep(300 * time.Millisecond)
	if client.IsConnected() || client.IsConnectionOpen() {
		t.Error("client resumed connecting after Stop")
	}
	if l.State() != StateStopped {
		t.Errorf("State = %s, want stopped", l.State())
	}
}

func TestStopRacingStartLeavesNoClient(t *testing.T) {
	for i := 0; i < 5; i++ {
		l := New(deadBrokerConfig(), implementation.NewMemoryReadingRepository(), validation.New(), logger.Nop())

		started := make(chan error, 1)
		go func() { started <- l.Start(context.Background()) }()
		l.Stop()
		err := <-started

		l.mu.Lock()
		client := l.client
		l.mu.Unlock()

		switch {
		case errors.Is(err, ErrStopped):
			if client != nil {
				t.Fatalf("run %d: Start refused but created a client", i)
			}
		case err == nil:
			// Start took the lock first, so Stop saw and tore down its client
			if client == nil {
				t.Fatalf("run %d: Start succeeded without a client", i)
			}
			waitFor(t, func() bool { return !client.IsConnected() })
		default:
			t.Fatalf("run %d: Start: %v", i, err)
		}
	}
}

// TestListenerAgainstBroker needs a reachable broker in TEST_MQTT_BROKER (host:port)
func TestListenerAgainstBroker(t *testing.T) {
	addr := os.Getenv("TEST_MQTT_BROKER")
	if addr == "" {
		t.Skip("TEST_MQTT_BROKER not set")
	}

	cfg := testMQTTConfig()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad TEST_MQTT_BROKER %q: %v", addr, err)
	}
	cfg.BrokerHost = host
	if cfg.BrokerPort, err = strconv.Atoi(port); err != nil {
		t.Fatalf("bad TEST_MQTT_BROKER port %q: %v", port, err)
	}

	repo := implementation.NewMemoryReadingRepository()
	l := New(cfg, repo, validation.New(), logger.Nop())
	t.Cleanup(l.Stop)

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return l.State() == StateSubscribed })

	pub := mqtt.NewClient(mqtt.NewClientOptions().AddBroker(cfg.BrokerURL()).SetClientID("listener-test-pub"))
	if tk := pub.Connect(); tk.Wait() && tk.Error() != nil {
		t.Fatalf("publisher connect: %v", tk.Error())
	}
	defer pub.Disconnect(100)

	if tk := pub.Publish("iot/sensor/dev-broker/temperature", 1, false, `{"temperature":23.5}`); tk.Wait() && tk.Error() != nil {
		t.Fatalf("publish: %v", tk.Error())
	}
	waitFor(t, func() bool {
		_, err := repo.FetchLatest(context.Background(), "dev-broker")
		return err == nil
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not met within 10s")
}
