// Package bridge is a live event source fed by a camera driver over MQTT.
//
// The driver publishes msgpack Packets on a topic; the bridge normalises them
// into event batches and queues them until the acquisition loop polls. Packets
// that arrive while the queue is full are dropped, never blocking the MQTT
// client.
//
// Packets are expected in sequence and time order. A packet that steps back a
// little is late and dropped. One that jumps far back, or comes from a
// different driver source, starts a new stream epoch: the driver restarted and
// ordering is tracked from that packet on.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/retry"
)

const (
	DefaultBuffer         = 1024
	DefaultConnectTimeout = 5 * time.Second
	DefaultResyncSeq      = 64
	DefaultResyncTime     = time.Second
)

// Config configures the MQTT bridge
type Config struct {
	Broker         string // host:port (required)
	Topic          string // event topic (required)
	ClientID       string
	QoS            byte
	Height         int // sensor height, events outside are dropped
	Width          int // sensor width
	Buffer         int // queued packets (default 1024)
	ConnectTimeout time.Duration
	Retry          retry.Config

	// A packet more than ResyncSeq sequence numbers or ResyncTime of sensor
	// time behind the last accepted one starts a new epoch instead of being
	// dropped as late.
	ResyncSeq  uint64
	ResyncTime time.Duration
}

// Stats contains bridge statistics
type Stats struct {
	Packets      uint64 // packets accepted
	Events       uint64 // events queued
	Dropped      uint64 // packets dropped on a full queue
	Late         uint64 // packets older than the last accepted one
	OutOfBounds  uint64 // events outside the sensor
	DecodeErrors uint64
	SeqGaps      uint64 // missing sequence numbers
	Epochs       uint64 // stream restarts detected after the first packet
	Reconnects   uint32
	Connected    bool
}

// Source subscribes to a driver topic and implements eventcapture.EventSource.
type Source struct {
	cfg    Config
	client mqtt.Client

	batches chan queued
	pending *queued // first packet of the next epoch, owned by NextBatch
	retries retry.State

	mu         sync.Mutex
	lastSeq    uint64
	lastT      int64
	lastSource string
	seenAny    bool
	isActive   bool

	packets      atomic.Uint64
	events       atomic.Uint64
	dropped      atomic.Uint64
	late         atomic.Uint64
	outOfBounds  atomic.Uint64
	decodeErrors atomic.Uint64
	seqGaps      atomic.Uint64
	epochs       atomic.Uint64
	connected    atomic.Bool
}

type queued struct {
	events eventcapture.EventBatch
	epoch  uint64
}

// New validates cfg and creates a disconnected bridge.
func New(cfg Config) (*Source, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("bridge: broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("bridge: topic is required")
	}
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("bridge: invalid sensor shape %dx%d", cfg.Height, cfg.Width)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("bridge: invalid QoS %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "event-capture-bridge"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Retry.MaxRetryDelay <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.ResyncSeq == 0 {
		cfg.ResyncSeq = DefaultResyncSeq
	}
	if cfg.ResyncTime <= 0 {
		cfg.ResyncTime = DefaultResyncTime
	}

	return &Source{
		cfg:     cfg,
		batches: make(chan queued, cfg.Buffer),
	}, nil
}

// Start connects to the broker with exponential backoff and subscribes.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isActive {
		s.mu.Unlock()
		return fmt.Errorf("bridge: already started")
	}
	s.isActive = true
	s.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(s.cfg.Retry.MaxRetryDelay)
	opts.SetOrderMatters(true)

	opts.OnConnect = func(c mqtt.Client) {
		s.connected.Store(true)
		// Re-subscribe on every (re)connect; clean sessions drop subscriptions
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
		go func() {
			if token.WaitTimeout(s.cfg.ConnectTimeout) && token.Error() != nil {
				slog.Error("bridge: subscribe failed", "topic", s.cfg.Topic, "error", token.Error())
			}
		}()
		slog.Info("bridge: connected",
			"broker", s.cfg.Broker,
			"topic", s.cfg.Topic,
			"client_id", s.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.connected.Store(false)
		slog.Warn("bridge: connection lost, will auto-reconnect",
			"error", err,
			"broker", s.cfg.Broker,
		)
	}

	s.client = mqtt.NewClient(opts)

	connect := func(ctx context.Context) error {
		token := s.client.Connect()
		if !token.WaitTimeout(s.cfg.ConnectTimeout) {
			return fmt.Errorf("connection timeout after %v", s.cfg.ConnectTimeout)
		}
		return token.Error()
	}

	if err := retry.Do(ctx, "bridge: connect "+s.cfg.Broker, connect, s.cfg.Retry, &s.retries); err != nil {
		s.mu.Lock()
		s.isActive = false
		s.mu.Unlock()
		return fmt.Errorf("bridge: failed to connect: %w", err)
	}

	return nil
}

func (s *Source) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.ingest(msg.Payload())
}

// ingest decodes one payload and queues it without blocking.
func (s *Source) ingest(payload []byte) {
	p, err := Decode(payload)
	if err != nil {
		s.decodeErrors.Add(1)
		slog.Warn("bridge: dropping undecodable packet", "error", err, "size", len(payload))
		return
	}

	batch, oob, err := normalize(p, s.cfg.Height, s.cfg.Width)
	s.outOfBounds.Add(uint64(oob))
	if err != nil {
		s.decodeErrors.Add(1)
		slog.Warn("bridge: dropping malformed packet", "error", err)
		return
	}

	s.mu.Lock()
	if s.seenAny && s.restarted(p, batch) {
		s.epochs.Add(1)
		slog.Info("bridge: stream restarted",
			"source", p.Source,
			"seq", p.Seq,
			"last_source", s.lastSource,
			"last_seq", s.lastSeq,
			"last_t", s.lastT,
		)
		s.seenAny = false
		s.lastSeq = 0
		s.lastT = 0
	}
	if s.seenAny {
		if p.Seq <= s.lastSeq {
			s.mu.Unlock()
			s.late.Add(1)
			slog.Debug("bridge: dropping late packet", "seq", p.Seq, "last_seq", s.lastSeq)
			return
		}
		if gap := p.Seq - s.lastSeq - 1; gap > 0 {
			s.seqGaps.Add(gap)
		}
		// The sequence number was delivered even if its events are stale
		s.lastSeq = p.Seq
		if len(batch) > 0 && batch.First() < s.lastT {
			s.mu.Unlock()
			s.late.Add(1)
			slog.Debug("bridge: dropping late packet", "seq", p.Seq, "first_t", batch.First(), "last_t", s.lastT)
			return
		}
	}
	s.seenAny = true
	s.lastSeq = p.Seq
	s.lastSource = p.Source
	if len(batch) > 0 {
		s.lastT = batch.Last()
	}
	epoch := s.epochs.Load()
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	select {
	case s.batches <- queued{events: batch, epoch: epoch}:
		s.packets.Add(1)
		s.events.Add(uint64(len(batch)))
	default:
		s.dropped.Add(1)
	}
}

// restarted reports whether p belongs to a new stream epoch. Caller holds mu.
func (s *Source) restarted(p Packet, batch eventcapture.EventBatch) bool {
	if p.Source != s.lastSource {
		return true
	}
	if s.lastSeq > p.Seq && s.lastSeq-p.Seq > s.cfg.ResyncSeq {
		return true
	}
	return len(batch) > 0 && batch.First() < s.lastT-s.cfg.ResyncTime.Microseconds()
}

// NextBatch drains queued packets without blocking. It stops at an epoch
// boundary so a batch never mixes events from before and after a restart.
func (s *Source) NextBatch() (eventcapture.EventBatch, error) {
	out := eventcapture.EventBatch{}
	var (
		epoch uint64
		have  bool
	)
	if s.pending != nil {
		out = append(out, s.pending.events...)
		epoch, have = s.pending.epoch, true
		s.pending = nil
	}
	for {
		select {
		case q := <-s.batches:
			if have && q.epoch != epoch {
				s.pending = &q
				return out, nil
			}
			out = append(out, q.events...)
			epoch, have = q.epoch, true
		default:
			return out, nil
		}
	}
}

// Close unsubscribes and disconnects.
func (s *Source) Close() error {
	s.mu.Lock()
	active := s.isActive
	s.isActive = false
	s.mu.Unlock()

	if !active || s.client == nil {
		return nil
	}

	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
		s.client.Disconnect(250)
	}
	s.connected.Store(false)

	slog.Info("bridge: disconnected",
		"packets", s.packets.Load(),
		"dropped", s.dropped.Load(),
	)
	return nil
}

// Stats returns bridge statistics
func (s *Source) Stats() Stats {
	return Stats{
		Packets:      s.packets.Load(),
		Events:       s.events.Load(),
		Dropped:      s.dropped.Load(),
		Late:         s.late.Load(),
		OutOfBounds:  s.outOfBounds.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		SeqGaps:      s.seqGaps.Load(),
		Epochs:       s.epochs.Load(),
		Reconnects:   s.retries.Retries.Load(),
		Connected:    s.connected.Load(),
	}
}
