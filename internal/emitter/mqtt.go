package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/retry"
)

// ErrNotConnected is returned by Emit before Connect succeeded or while the
// client is reconnecting.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// MQTTConfig configures the MQTT frame publisher
type MQTTConfig struct {
	Broker         string // host:port (required)
	Topic          string // frame topic (required)
	ClientID       string
	Source         string // camera name stamped on every message
	QoS            byte
	PublishTimeout time.Duration // default 2s
	Retry          retry.Config
}

// MQTTEmitter publishes frames to an MQTT broker.
type MQTTEmitter struct {
	cfg     MQTTConfig
	client  mqtt.Client
	retries retry.State

	connected atomic.Bool
	published atomic.Uint64
	bytes     atomic.Uint64
	errors    atomic.Uint64
}

// NewMQTTEmitter validates cfg and creates a disconnected emitter.
func NewMQTTEmitter(cfg MQTTConfig) (*MQTTEmitter, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("emitter: mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("emitter: mqtt topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("emitter: invalid QoS %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "event-capture-frames"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.Retry.MaxRetryDelay <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &MQTTEmitter{cfg: cfg}, nil
}

// Connect establishes the broker connection, retrying with backoff.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(e.cfg.Retry.MaxRetryDelay)

	opts.OnConnect = func(mqtt.Client) {
		e.connected.Store(true)
		slog.Info("emitter: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.connected.Store(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)

	connect := func(context.Context) error {
		token := e.client.Connect()
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("mqtt connection timeout")
		}
		return token.Error()
	}
	if err := retry.Do(ctx, "emitter: connect "+e.cfg.Broker, connect, e.cfg.Retry, &e.retries); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.connected.Store(true)
	return nil
}

// Emit publishes frame on the configured topic. Implements eventcapture.FrameSink.
func (e *MQTTEmitter) Emit(ctx context.Context, frame eventcapture.Frame) error {
	if !e.connected.Load() {
		e.errors.Add(1)
		return ErrNotConnected
	}

	payload, err := Encode(e.cfg.Source, frame)
	if err != nil {
		e.errors.Add(1)
		return err
	}

	token := e.client.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	select {
	case <-token.Done():
	case <-time.After(e.cfg.PublishTimeout):
		e.errors.Add(1)
		return fmt.Errorf("emitter: publish timeout for frame %d", frame.Seq)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		e.errors.Add(1)
		return fmt.Errorf("emitter: publish failed: %w", err)
	}

	e.published.Add(1)
	e.bytes.Add(uint64(len(payload)))

	slog.Debug("emitter: frame published",
		"topic", e.cfg.Topic,
		"seq", frame.Seq,
		"size", len(payload),
		"trace_id", frame.TraceID,
	)
	return nil
}

// Disconnect closes the MQTT connection.
func (e *MQTTEmitter) Disconnect() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
	}
	e.connected.Store(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	return Stats{
		Connected: e.connected.Load(),
		Published: e.published.Load(),
		Bytes:     e.bytes.Load(),
		Errors:    e.errors.Load(),
	}
}
