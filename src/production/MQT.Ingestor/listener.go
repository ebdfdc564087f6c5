package mqtingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
	interfaces "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Repository/Interfaces"
	validation "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Validation"
)

const (
	subscribeTimeout  = 10 * time.Second
	drainTimeout      = 5 * time.Second
	disconnectQuiesce = 250 // ms
)

var (
	ErrAlreadyStarted = errors.New("mqtt listener already started")
	ErrStopped        = errors.New("mqtt listener stopped")
)

// State is the connection lifecycle of a Listener
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is what happened to a single delivered message
type Outcome int

const (
	OutcomeStored Outcome = iota
	OutcomeInvalidTopic
	OutcomeInvalidPayload
	OutcomeInvalidReading
	OutcomeStoreFailed
	OutcomeStopped
	outcomeCount
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeInvalidTopic:
		return "invalid_topic"
	case OutcomeInvalidPayload:
		return "invalid_payload"
	case OutcomeInvalidReading:
		return "invalid_reading"
	case OutcomeStoreFailed:
		return "store_failed"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the listener for health reporting
type Status struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Topic     string `json:"topic"`
	Stored    uint64 `json:"stored"`
	Rejected  uint64 `json:"rejected"`
	Failed    uint64 `json:"failed"`
	Ignored   uint64 `json:"ignored"`
}

// Listener subscribes to device temperature topics and stores every valid
// reading. Bad messages and store failures are logged and dropped; they never
// block delivery or end the subscription.
type Listener struct {
	cfg         config.MQTTConfig
	readingRepo interfaces.ReadingRepository
	validator   *validation.Validator
	logger      *logger.Logger

	mu      sync.Mutex
	client  mqtt.Client
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	state    atomic.Int32
	stopping atomic.Bool
	stopOnce sync.Once
	// inflight is read-held by every message callback so Stop can wait for them
	inflight sync.RWMutex
	counts   [outcomeCount]atomic.Uint64
}

func New(cfg config.MQTTConfig, readingRepo interfaces.ReadingRepository, validator *validation.Validator, log *logger.Logger) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		cfg:         cfg,
		readingRepo: readingRepo,
		validator:   validator,
		logger:      log.WithComponent("mqtt-listener"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start connects to the broker in the background. The subscription is
// (re)established on every successful connect. ctx bounds the lifetime of
// store calls made for received messages.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopping.Load() {
		return ErrStopped
	}
	if l.started {
		return ErrAlreadyStarted
	}

	opts, err := l.clientOptions()
	if err != nil {
		return err
	}

	l.cancel()
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.client = mqtt.NewClient(opts)
	l.started = true
	l.setState(StateConnecting)

	l.logger.Logger.Info().
		Str("broker", l.cfg.BrokerURL()).
		Str("topic", l.cfg.SubscriptionTopic()).
		Msg("Connecting to MQTT broker")

	token := l.client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			l.logger.WithError(err).Error("MQTT connect failed")
		}
	}()

	return nil
}

// Stop ends the subscription and disconnects, including a connect that is
// still retrying. In-flight messages get up to drainTimeout to finish before
// their context is cancelled. Safe to call more than once; only the first
// call has any effect.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopping.Store(true)
		l.state.Store(int32(StateStopped))
		client := l.client
		cancel := l.cancel
		l.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			l.inflight.Lock()
			l.inflight.Unlock()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(drainTimeout):
			l.logger.Warn("Timed out waiting for in-flight messages, cancelling them")
			cancel()
			<-drained
		}
		cancel()

		if client != nil {
			if client.IsConnectionOpen() {
				if token := client.Unsubscribe(l.cfg.SubscriptionTopic()); !token.WaitTimeout(subscribeTimeout) {
					l.logger.Warn("Timed out unsubscribing from MQTT topic")
				}
			}
			client.Disconnect(disconnectQuiesce)
		}
		l.logger.Info("MQTT listener stopped")
	})
}

// State returns the current lifecycle state
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil && l.client.IsConnectionOpen()
}

func (l *Listener) Status() Status {
	return Status{
		State:     l.State().String(),
		Connected: l.IsConnected(),
		Broker:    l.cfg.BrokerURL(),
		Topic:     l.cfg.SubscriptionTopic(),
		Stored:    l.counts[OutcomeStored].Load(),
		Rejected:  l.counts[OutcomeInvalidTopic].Load() + l.counts[OutcomeInvalidPayload].Load() + l.counts[OutcomeInvalidReading].Load(),
		Failed:    l.counts[OutcomeStoreFailed].Load(),
		Ignored:   l.counts[OutcomeStopped].Load(),
	}
}

// HandleMessage runs one message through topic parsing, relaxed validation
// and the store
func (l *Listener) HandleMessage(ctx context.Context, topic string, payload []byte) Outcome {
	outcome := l.handle(ctx, topic, payload)
	l.counts[outcome].Add(1)
	return outcome
}

func (l *Listener) handle(ctx context.Context, topic string, payload []byte) Outcome {
	if l.stopping.Load() {
		return OutcomeStopped
	}

	deviceID, ok := DeviceIDFromTopic(topic)
	if !ok {
		l.logger.Logger.Warn().Str("topic", topic).Msg("Ignoring message on unexpected topic")
		return OutcomeInvalidTopic
	}

	candidate, err := validation.DecodeCandidate(payload)
	if err != nil {
		l.logger.Logger.Warn().Str("topic", topic).Int("payload_bytes", len(payload)).Msg("Ignoring message with non-object payload")
		return OutcomeInvalidPayload
	}
	candidate.DeviceID = deviceID

	reading, err := l.validator.ValidateRelaxed(candidate)
	if err != nil {
		l.logger.Logger.Warn().Err(err).Str("device_id", deviceID).Msg("Ignoring invalid reading")
		return OutcomeInvalidReading
	}

	stored, err := l.readingRepo.Insert(ctx, reading)
	if err != nil {
		l.logger.Logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to store reading")
		return OutcomeStoreFailed
	}

	l.logger.Logger.Debug().
		Str("device_id", stored.DeviceID).
		Str("id", stored.ID).
		Float64("temperature", stored.Temperature).
		Int64("timestamp", stored.Timestamp).
		Msg("Stored reading")
	return OutcomeStored
}

// onMessage is the paho callback; it must never panic back into the client
func (l *Listener) onMessage(_ mqtt.Client, m mqtt.Message) {
	l.inflight.RLock()
	defer l.inflight.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Logger.Error().Interface("panic", r).Str("topic", m.Topic()).Msg("Recovered from panic while handling message")
		}
	}()

	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()

	l.HandleMessage(ctx, m.Topic(), m.Payload())
}

func (l *Listener) onConnect(c mqtt.Client) {
	if l.stopping.Load() {
		return
	}

	topic := l.cfg.SubscriptionTopic()
	token := c.Subscribe(topic, byte(l.cfg.QoS), l.onMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		l.logger.Logger.Error().Str("topic", topic).Msg("Timed out subscribing to MQTT topic")
		return
	}
	if err := token.Error(); err != nil {
		l.logger.Logger.Error().Err(err).Str("topic", topic).Msg("MQTT subscribe failed")
		return
	}

	l.setState(StateSubscribed)
	l.logger.Logger.Info().Str("topic", topic).Int("qos", l.cfg.QoS).Msg("Subscribed to MQTT topic")
}

func (l *Listener) onConnectionLost(_ mqtt.Client, err error) {
	l.setState(StateDisconnected)
	l.logger.Logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (l *Listener) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	l.setState(StateConnecting)
	l.logger.Debug("Reconnecting to MQTT broker")
}

// setState moves to s unless the listener has already stopped
func (l *Listener) setState(s State) {
	for {
		cur := l.state.Load()
		if State(cur) == StateStopped {
			return
		}
		if l.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (l *Listener) clientOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(l.cfg.BrokerURL()).
		SetClientID(fmt.Sprintf("%s-%d", l.cfg.ClientID, time.Now().UnixMilli())).
		SetOrderMatters(false).
		SetKeepAlive(l.cfg.KeepAlive).
		SetPingTimeout(l.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(l.cfg.ReconnectInterval).
		SetConnectRetry(true).
		SetConnectRetryInterval(l.cfg.ReconnectInterval).
		SetCleanSession(true).
		SetOnConnectHandler(l.onConnect).
		SetConnectionLostHandler(l.onConnectionLost).
		SetReconnectingHandler(l.onReconnecting)

	if l.cfg.BrokerUser != "" {
		opts.SetUsername(l.cfg.BrokerUser)
		opts.SetPassword(l.cfg.BrokerPass)
	}

	if l.cfg.UseTLS {
		tlsCfg, err := tlsConfig(l.cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	return opts, nil
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read broker CA file: %w", err)
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("broker CA file %s contains no certificates", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}
