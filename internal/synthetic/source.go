// Package synthetic provides a live event source that generates uniformly
// random DVS events at a configured rate. It stands in for a camera driver in
// demos and soak tests.
package synthetic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/events"
)

const (
	// DefaultInterval is the generator period.
	DefaultInterval = 5 * time.Millisecond
	// DefaultBuffer is the number of pending batches kept before dropping.
	DefaultBuffer = 256
)

// Config configures a synthetic source
type Config struct {
	Height    int
	Width     int
	EventRate float64       // events per second (required)
	Interval  time.Duration // generator period (default 5ms)
	Buffer    int           // pending batches (default 256)
	Seed      uint64
}

// Stats contains generator statistics
type Stats struct {
	Generated uint64 // events generated
	Delivered uint64 // events handed out by NextBatch
	Dropped   uint64 // events lost because nobody polled
	IsRunning bool
}

// Source generates events in a background goroutine; NextBatch drains them.
type Source struct {
	cfg Config

	batches chan eventcapture.EventBatch
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	startTime time.Time

	generated atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New validates cfg and creates a stopped source.
func New(cfg Config) (*Source, error) {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("synthetic: invalid sensor shape %dx%d", cfg.Height, cfg.Width)
	}
	if cfg.EventRate <= 0 {
		return nil, fmt.Errorf("synthetic: event rate must be positive, got %v", cfg.EventRate)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}

	return &Source{
		cfg:     cfg,
		batches: make(chan eventcapture.EventBatch, cfg.Buffer),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins generating events.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("synthetic: source already running")
	}
	s.isRunning = true
	s.startTime = time.Now()
	s.mu.Unlock()

	slog.Info("synthetic: source starting",
		"sensor", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"event_rate", s.cfg.EventRate,
		"interval", s.cfg.Interval,
	)

	s.wg.Add(1)
	go s.generate(ctx)

	return nil
}

// NextBatch returns every event generated since the previous call. It never blocks.
func (s *Source) NextBatch() (eventcapture.EventBatch, error) {
	var out eventcapture.EventBatch
	for {
		select {
		case b := <-s.batches:
			out = append(out, b...)
		default:
			if out == nil {
				out = eventcapture.EventBatch{}
			}
			s.delivered.Add(uint64(len(out)))
			return out, nil
		}
	}
}

// Close stops the generator. It is idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	slog.Info("synthetic: source stopped",
		"events_generated", s.generated.Load(),
		"events_dropped", s.dropped.Load(),
		"duration", time.Since(s.startTime),
	)
	return nil
}

// Stats returns generator statistics
func (s *Source) Stats() Stats {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()

	return Stats{
		Generated: s.generated.Load(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		IsRunning: running,
	}
}

// generate emits one batch per interval with timestamps relative to Start.
func (s *Source) generate(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var (
		prevMicros int64
		carry      float64
		seq        uint64
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			nowMicros := now.Sub(s.startTime).Microseconds()
			span := nowMicros - prevMicros
			if span <= 0 {
				continue
			}

			// Fractional events carry over to the next interval
			want := s.cfg.EventRate*float64(span)/1e6 + carry
			n := int(want)
			carry = want - float64(n)

			batch := events.SynthesizeSpan(n, s.cfg.Height, s.cfg.Width, prevMicros, span, s.cfg.Seed+seq)
			prevMicros = nowMicros
			seq++
			if len(batch) == 0 {
				continue
			}
			s.generated.Add(uint64(len(batch)))

			select {
			case s.batches <- batch:
			default:
				s.dropped.Add(uint64(len(batch)))
			}
		}
	}
}
