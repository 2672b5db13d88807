package eventcapture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/cadence"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/histogram"
	"github.com/google/uuid"
)

// EventCamera is the real-time acquisition loop: once per host tick it pulls
// events from the source, runs them through the transform pipeline, bins them
// into a histogram frame and emits the frame to the sink.
//
// Step, Pause, Start and Close must be called from a single goroutine (the host
// runtime's tick goroutine). Stats may be called from anywhere.
type EventCamera struct {
	// Configuration
	shape       EventVolume
	transform   *Compose
	device      string
	biases      map[string]int
	pausePolicy PausePolicy
	now         func() time.Time

	// Collaborators
	source   EventSource
	windowed WindowedSource
	sink     FrameSink

	// Loop state (tick goroutine only)
	volume        *histogram.Volume
	lastIteration time.Time
	pauseTime     time.Time
	started       bool
	seq           uint64

	// Statistics (atomic for thread-safety)
	ticks         atomic.Uint64
	framesEmitted atomic.Uint64
	emptyFrames   atomic.Uint64
	eventsIn      atomic.Uint64
	eventsOut     atomic.Uint64
	eventsDropped atomic.Uint64
	clippedEvents atomic.Uint64
	pauses        atomic.Uint64
	lastSpan      atomic.Int64

	cadenceMu sync.Mutex
	cadence   *cadence.Tracker
}

// Option customises an EventCamera.
type Option func(*EventCamera)

// WithClock replaces time.Now as the loop's wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *EventCamera) {
		c.now = now
	}
}

// NewEventCamera validates cfg and builds an acquisition loop.
//
// Validates configuration at construction time (fail-fast principle):
//   - sensor height and width must be positive
//   - NumOutputTimeBins must be 1 (0 defaults to 1)
//   - biases cannot be combined with a recording device
//   - source and sink are required
//   - the output shape (explicit or inferred from the transform pipeline)
//     must accept one synthetic batch run through the pipeline and the binner
//
// Every failure is a *ConfigurationError; no camera is returned with it.
func NewEventCamera(cfg CameraConfig, source EventSource, sink FrameSink, opts ...Option) (*EventCamera, error) {
	if cfg.SensorHeight <= 0 || cfg.SensorWidth <= 0 {
		return nil, &ConfigurationError{
			Field:  "sensor_shape",
			Reason: fmt.Sprintf("invalid sensor shape %dx%d", cfg.SensorHeight, cfg.SensorWidth),
		}
	}

	bins := cfg.NumOutputTimeBins
	if bins == 0 {
		bins = 1
	}
	if bins != 1 {
		return nil, &ConfigurationError{
			Field:  "num_output_time_bins",
			Reason: fmt.Sprintf("must be 1, got %d (multi-bin output is not implemented)", cfg.NumOutputTimeBins),
		}
	}

	if len(cfg.Biases) > 0 && cfg.Device != "" {
		return nil, &ConfigurationError{
			Field:  "biases",
			Reason: "cannot set biases when reading from a recording",
		}
	}

	if cfg.PausePolicy != PauseFail && cfg.PausePolicy != PauseDropResync {
		return nil, &ConfigurationError{
			Field:  "pause_policy",
			Reason: fmt.Sprintf("unknown pause policy %d", cfg.PausePolicy),
		}
	}

	if source == nil {
		return nil, &ConfigurationError{Field: "source", Reason: "event source is required"}
	}
	if sink == nil {
		return nil, &ConfigurationError{Field: "sink", Reason: "frame sink is required"}
	}

	var shape EventVolume
	if cfg.OutputShape != nil {
		shape = *cfg.OutputShape
	} else {
		in := EventVolume{
			TimeBins:   bins,
			Polarities: NumPolarities,
			Height:     cfg.SensorHeight,
			Width:      cfg.SensorWidth,
		}
		shape = cfg.Transform.OutputShape(in)
		shape.TimeBins = bins
	}
	if !shape.Valid() {
		return nil, &ConfigurationError{
			Field:  "output_shape",
			Reason: fmt.Sprintf("non-positive output shape %s", shape),
		}
	}

	dryRunEvents := cfg.DryRunEvents
	if dryRunEvents <= 0 {
		dryRunEvents = DefaultDryRunEvents
	}
	if err := dryRun(cfg.SensorHeight, cfg.SensorWidth, cfg.Transform, shape, dryRunEvents, cfg.DryRunSeed); err != nil {
		return nil, err
	}

	c := &EventCamera{
		shape:       shape,
		transform:   cfg.Transform,
		device:      cfg.Device,
		biases:      cfg.Biases,
		pausePolicy: cfg.PausePolicy,
		now:         time.Now,
		source:      source,
		sink:        sink,
		volume:      histogram.NewVolume(shape),
		cadence:     cadence.NewTracker(cadence.DefaultWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	if w, ok := source.(WindowedSource); ok {
		c.windowed = w
	}

	// Start indistinguishable from "just resumed"
	t := c.now()
	c.lastIteration = t
	c.pauseTime = t

	slog.Info("event-capture: camera created",
		"sensor", fmt.Sprintf("%dx%d", cfg.SensorWidth, cfg.SensorHeight),
		"device", deviceName(cfg.Device),
		"transforms", cfg.Transform.Len(),
		"output_shape", shape.String(),
		"pause_policy", cfg.PausePolicy.String(),
		"windowed_source", c.windowed != nil,
	)

	return c, nil
}

func deviceName(device string) string {
	if device == "" {
		return "live"
	}
	return device
}

// OutputShape returns the (time_bins, polarities, height, width) frame shape.
func (c *EventCamera) OutputShape() EventVolume {
	return c.shape
}

// Start performs runtime initialisation: it rejects bias configuration, which
// is not implemented, and starts the source if it implements Starter.
func (c *EventCamera) Start(ctx context.Context) error {
	if c.started {
		return fmt.Errorf("event-capture: camera already started")
	}

	if len(c.biases) > 0 {
		return fmt.Errorf("event-capture: %w", ErrBiasesNotImplemented)
	}

	if s, ok := c.source.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("event-capture: failed to start source: %w", err)
		}
	}

	c.started = true

	slog.Info("event-capture: camera started", "device", deviceName(c.device))
	return nil
}

// Close releases the source if it implements io.Closer.
func (c *EventCamera) Close() error {
	c.started = false
	if closer, ok := c.source.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("event-capture: failed to close source: %w", err)
		}
	}
	return nil
}

// Pause records that the host runtime paused the loop. Nothing is drained here;
// the next Step attributes the paused interval according to the pause policy.
func (c *EventCamera) Pause() {
	c.pauseTime = c.now()
	c.pauses.Add(1)

	slog.Info("event-capture: paused",
		"since_last_tick", c.pauseTime.Sub(c.lastIteration),
	)
}

// Step runs one acquisition cycle and emits exactly one frame.
//
// A source error leaves the timing reference untouched. Once events have been
// read the tick's window is consumed: a transform or emit failure loses that
// window's frame and the next tick starts at this tick's time. Unimplemented
// features (ErrPauseNotImplemented) should be treated as fatal by the host.
func (c *EventCamera) Step(ctx context.Context) error {
	if !c.started {
		return ErrNotStarted
	}

	now := c.now()

	var (
		batch EventBatch
		err   error
	)
	if c.pauseTime.After(c.lastIteration) {
		batch, err = c.resume(now)
	} else {
		batch, err = c.pull(clampSpan(now.Sub(c.lastIteration)))
	}
	if err != nil {
		return err
	}
	// Windowed sources have already advanced past this span
	c.lastIteration = now
	c.eventsIn.Add(uint64(len(batch)))

	frame, err := c.render(batch, now)
	if err != nil {
		return err
	}

	if err := c.sink.Emit(ctx, frame); err != nil {
		return fmt.Errorf("event-capture: failed to emit frame %d: %w", frame.Seq, err)
	}

	c.seq = frame.Seq
	c.ticks.Add(1)
	c.framesEmitted.Add(1)

	c.cadenceMu.Lock()
	c.cadence.Observe(now)
	c.cadenceMu.Unlock()

	slog.Debug("event-capture: frame emitted",
		"seq", frame.Seq,
		"events", frame.Events,
		"span_us", frame.SpanMicros,
		"empty", frame.Empty,
		"trace_id", frame.TraceID,
	)

	return nil
}

// clampSpan applies the MinTickSpan floor against clock jitter.
func clampSpan(d time.Duration) time.Duration {
	return max(d, MinTickSpan)
}

// pull fetches the next batch: a window of span for recordings, a
// non-blocking poll otherwise.
func (c *EventCamera) pull(span time.Duration) (EventBatch, error) {
	var (
		batch EventBatch
		err   error
	)
	if c.windowed != nil {
		batch, err = c.windowed.LoadDelta(span)
	} else {
		batch, err = c.source.NextBatch()
	}
	if err != nil {
		return nil, fmt.Errorf("event-capture: failed to read events: %w", err)
	}
	return batch, nil
}

// resume handles the first tick after a pause.
//
// Under PauseDropResync the events that belong to the interval before the pause
// are kept and the events of the paused interval are discarded, so the frame
// cadence resynchronises with the live stream.
func (c *EventCamera) resume(now time.Time) (EventBatch, error) {
	if c.pausePolicy == PauseFail {
		return nil, fmt.Errorf("event-capture: %w", ErrPauseNotImplemented)
	}

	keepSpan := clampSpan(c.pauseTime.Sub(c.lastIteration))
	dropSpan := clampSpan(now.Sub(c.pauseTime))

	var (
		batch   EventBatch
		dropped int
	)
	if c.windowed != nil {
		var err error
		batch, err = c.pull(keepSpan)
		if err != nil {
			return nil, err
		}
		stale, err := c.pull(dropSpan)
		if err != nil {
			return nil, err
		}
		dropped = len(stale)
	} else {
		polled, err := c.pull(keepSpan)
		if err != nil {
			return nil, err
		}
		if len(polled) > 0 {
			var tail EventBatch
			batch, tail = polled.SplitAt(polled.First() + keepSpan.Microseconds())
			dropped = len(tail)
		}
	}

	c.eventsDropped.Add(uint64(dropped))

	c.cadenceMu.Lock()
	c.cadence.Reset()
	c.cadenceMu.Unlock()

	slog.Info("event-capture: resumed after pause",
		"policy", c.pausePolicy.String(),
		"kept_span", keepSpan,
		"dropped_span", dropSpan,
		"events_kept", len(batch),
		"events_dropped", dropped,
	)

	return batch, nil
}

// render transforms and bins batch into a frame. An empty batch (before or
// after transformation) yields an all-zero frame without invoking the binner.
func (c *EventCamera) render(batch EventBatch, now time.Time) (Frame, error) {
	if len(batch) > 0 && c.transform.Len() > 0 {
		var err error
		batch, err = c.transform.Apply(batch)
		if err != nil {
			return Frame{}, fmt.Errorf("event-capture: %w", err)
		}
	}
	c.eventsOut.Add(uint64(len(batch)))

	frame := Frame{
		Seq:       c.seq + 1,
		Timestamp: now,
		Shape:     c.shape,
		TraceID:   uuid.New().String(),
	}

	if len(batch) == 0 {
		c.volume.Reset()
		frame.Empty = true
		c.emptyFrames.Add(1)
	} else {
		span := batch.Span()
		if err := histogram.Quantized(batch, c.volume, span, true); err != nil {
			return Frame{}, fmt.Errorf("event-capture: failed to bin events: %w", err)
		}
		frame.Events = len(batch)
		frame.SpanMicros = span
		c.lastSpan.Store(span)
		c.clippedEvents.Add(uint64(c.volume.Clipped()))
	}

	frame.Data = c.volume.Clone()
	return frame, nil
}

// Stats returns current loop statistics.
//
// Thread-safe - uses atomic operations for counters.
func (c *EventCamera) Stats() CaptureStats {
	c.cadenceMu.Lock()
	cs := c.cadence.Stats()
	c.cadenceMu.Unlock()

	return CaptureStats{
		Ticks:          c.ticks.Load(),
		FramesEmitted:  c.framesEmitted.Load(),
		EmptyFrames:    c.emptyFrames.Load(),
		EventsIn:       c.eventsIn.Load(),
		EventsOut:      c.eventsOut.Load(),
		EventsDropped:  c.eventsDropped.Load(),
		ClippedEvents:  c.clippedEvents.Load(),
		Pauses:         c.pauses.Load(),
		LastSpanMicros: c.lastSpan.Load(),
		OutputShape:    c.shape,
		Cadence: CadenceStats{
			Ticks:      cs.Ticks,
			RateMean:   cs.RateMean,
			RateStdDev: cs.RateStdDev,
			JitterMean: cs.JitterMean,
			JitterMax:  cs.JitterMax,
			IsStable:   cs.IsStable,
		},
	}
}
