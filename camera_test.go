package eventcapture_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

// fakeClock is a manually advanced wall clock.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// windowSource records every LoadDelta span and replays queued batches.
type windowSource struct {
	spans   []time.Duration
	batches []eventcapture.EventBatch
	polls   int
}

func (s *windowSource) NextBatch() (eventcapture.EventBatch, error) {
	s.polls++
	return eventcapture.EventBatch{}, nil
}

func (s *windowSource) LoadDelta(span time.Duration) (eventcapture.EventBatch, error) {
	s.spans = append(s.spans, span)
	if len(s.batches) == 0 {
		return eventcapture.EventBatch{}, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

// flakyWindowSource fails its first fail reads without consuming anything.
type flakyWindowSource struct {
	windowSource
	fail int
}

func (s *flakyWindowSource) LoadDelta(span time.Duration) (eventcapture.EventBatch, error) {
	if s.fail > 0 {
		s.fail--
		return nil, errors.New("device busy")
	}
	return s.windowSource.LoadDelta(span)
}

// collector is a FrameSink that keeps every frame.
type collector struct {
	frames []eventcapture.Frame
	err    error
}

func (c *collector) Emit(_ context.Context, f eventcapture.Frame) error {
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *collector) last(t *testing.T) eventcapture.Frame {
	t.Helper()
	if len(c.frames) == 0 {
		t.Fatal("No frame emitted")
	}
	return c.frames[len(c.frames)-1]
}

func sensor4x4() eventcapture.CameraConfig {
	return eventcapture.CameraConfig{SensorHeight: 4, SensorWidth: 4}
}

func newStartedCamera(t *testing.T, cfg eventcapture.CameraConfig, src eventcapture.EventSource, sink eventcapture.FrameSink, clk *fakeClock) *eventcapture.EventCamera {
	t.Helper()
	cam, err := eventcapture.NewEventCamera(cfg, src, sink, eventcapture.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewEventCamera() failed: %v", err)
	}
	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return cam
}

// TestNewEventCamera_FailFast tests that configuration errors are caught at
// construction time rather than on the first tick.
func TestNewEventCamera_FailFast(t *testing.T) {
	offByTen := eventcapture.TransformFunc{
		Fn: func(b eventcapture.EventBatch) (eventcapture.EventBatch, error) {
			out := make(eventcapture.EventBatch, len(b))
			for i, ev := range b {
				ev.X += 10
				out[i] = ev
			}
			return out, nil
		},
	}
	shrinkLie := eventcapture.TransformFunc{
		Fn: func(b eventcapture.EventBatch) (eventcapture.EventBatch, error) { return b, nil },
		Shape: func(in eventcapture.EventVolume) eventcapture.EventVolume {
			in.Height, in.Width = 2, 2
			return in
		},
	}
	panics := eventcapture.TransformFunc{
		Fn: func(b eventcapture.EventBatch) (eventcapture.EventBatch, error) {
			_ = b[len(b)+1]
			return b, nil
		},
	}
	failing := eventcapture.TransformFunc{
		Fn: func(eventcapture.EventBatch) (eventcapture.EventBatch, error) {
			return nil, errors.New("boom")
		},
	}

	tests := []struct {
		name    string
		mutate  func(*eventcapture.CameraConfig)
		noSrc   bool
		noSink  bool
		wantErr bool
		errMsg  string
	}{
		{name: "valid config", mutate: func(*eventcapture.CameraConfig) {}},
		{
			name:   "one time bin",
			mutate: func(c *eventcapture.CameraConfig) { c.NumOutputTimeBins = 1 },
		},
		{
			name:    "two time bins",
			mutate:  func(c *eventcapture.CameraConfig) { c.NumOutputTimeBins = 2 },
			wantErr: true,
			errMsg:  "num_output_time_bins",
		},
		{
			name:    "negative time bins",
			mutate:  func(c *eventcapture.CameraConfig) { c.NumOutputTimeBins = -1 },
			wantErr: true,
			errMsg:  "num_output_time_bins",
		},
		{
			name: "biases with recording",
			mutate: func(c *eventcapture.CameraConfig) {
				c.Biases = map[string]int{"bias_diff_on": 10}
				c.Device = "recording.evt"
			},
			wantErr: true,
			errMsg:  "cannot set biases when reading from a recording",
		},
		{
			name:   "biases on live camera",
			mutate: func(c *eventcapture.CameraConfig) { c.Biases = map[string]int{"bias_diff_on": 10} },
		},
		{
			name:   "recording without biases",
			mutate: func(c *eventcapture.CameraConfig) { c.Device = "recording.evt" },
		},
		{
			name:    "zero sensor height",
			mutate:  func(c *eventcapture.CameraConfig) { c.SensorHeight = 0 },
			wantErr: true,
			errMsg:  "invalid sensor shape",
		},
		{
			name:    "missing source",
			mutate:  func(*eventcapture.CameraConfig) {},
			noSrc:   true,
			wantErr: true,
			errMsg:  "event source is required",
		},
		{
			name:    "missing sink",
			mutate:  func(*eventcapture.CameraConfig) {},
			noSink:  true,
			wantErr: true,
			errMsg:  "frame sink is required",
		},
		{
			name: "non-positive override shape",
			mutate: func(c *eventcapture.CameraConfig) {
				c.OutputShape = &eventcapture.EventVolume{TimeBins: 1, Polarities: 2, Height: 0, Width: 4}
			},
			wantErr: true,
			errMsg:  "non-positive output shape",
		},
		{
			name: "override shape too small",
			mutate: func(c *eventcapture.CameraConfig) {
				c.OutputShape = &eventcapture.EventVolume{TimeBins: 1, Polarities: 2, Height: 2, Width: 2}
			},
			wantErr: true,
			errMsg:  "not compatible",
		},
		{
			name:    "transform writes outside its shape",
			mutate:  func(c *eventcapture.CameraConfig) { c.Transform = eventcapture.NewCompose(offByTen) },
			wantErr: true,
			errMsg:  "not compatible",
		},
		{
			name:    "transform declares a smaller shape",
			mutate:  func(c *eventcapture.CameraConfig) { c.Transform = eventcapture.NewCompose(shrinkLie) },
			wantErr: true,
			errMsg:  "not compatible",
		},
		{
			name:    "transform panics",
			mutate:  func(c *eventcapture.CameraConfig) { c.Transform = eventcapture.NewCompose(panics) },
			wantErr: true,
			errMsg:  "panic during dry run",
		},
		{
			name:    "transform fails",
			mutate:  func(c *eventcapture.CameraConfig) { c.Transform = eventcapture.NewCompose(failing) },
			wantErr: true,
			errMsg:  "boom",
		},
		{
			name:    "unknown pause policy",
			mutate:  func(c *eventcapture.CameraConfig) { c.PausePolicy = eventcapture.PausePolicy(7) },
			wantErr: true,
			errMsg:  "unknown pause policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sensor4x4()
			tt.mutate(&cfg)

			var src eventcapture.EventSource = eventcapture.NewBatchSource()
			if tt.noSrc {
				src = nil
			}
			var sink eventcapture.FrameSink = &collector{}
			if tt.noSink {
				sink = nil
			}

			cam, err := eventcapture.NewEventCamera(cfg, src, sink)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error containing %q, got nil", tt.errMsg)
				}
				if cam != nil {
					t.Errorf("Expected nil camera on error")
				}
				if !errors.Is(err, eventcapture.ErrConfiguration) {
					t.Errorf("Expected ErrConfiguration, got %v", err)
				}
				var cfgErr *eventcapture.ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Errorf("Expected *ConfigurationError, got %T", err)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if cam == nil {
				t.Fatal("Expected camera, got nil")
			}
		})
	}
}

// TestEventCamera_EndToEnd bins three events on a 4x4 sensor.
func TestEventCamera_EndToEnd(t *testing.T) {
	clk := newFakeClock()
	sink := &collector{}
	src := eventcapture.NewBatchSource(eventcapture.EventBatch{
		{X: 0, Y: 0, Polarity: 0, Timestamp: 0},
		{X: 1, Y: 1, Polarity: 1, Timestamp: 5},
		{X: 0, Y: 0, Polarity: 0, Timestamp: 10},
	})

	cam := newStartedCamera(t, sensor4x4(), src, sink, clk)

	want := eventcapture.EventVolume{TimeBins: 1, Polarities: 2, Height: 4, Width: 4}
	if cam.OutputShape() != want {
		t.Fatalf("Expected shape %s, got %s", want, cam.OutputShape())
	}

	clk.Advance(33 * time.Millisecond)
	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() failed: %v", err)
	}

	f := sink.last(t)
	if f.Shape != want {
		t.Errorf("Expected frame shape %s, got %s", want, f.Shape)
	}
	if len(f.Data) != want.Size() {
		t.Fatalf("Expected %d cells, got %d", want.Size(), len(f.Data))
	}
	if got := f.At(0, 0, 0, 0); got != 2 {
		t.Errorf("Expected channel 0 at (0,0) = 2, got %d", got)
	}
	if got := f.At(0, 1, 1, 1); got != 1 {
		t.Errorf("Expected channel 1 at (1,1) = 1, got %d", got)
	}

	sum := 0
	for _, v := range f.Data {
		sum += int(v)
	}
	if sum != 3 {
		t.Errorf("Expected all other cells zero (sum 3), got sum %d", sum)
	}

	if f.Seq != 1 || f.Events != 3 || f.SpanMicros != 10 || f.Empty {
		t.Errorf("Unexpected frame metadata: seq=%d events=%d span=%d empty=%v",
			f.Seq, f.Events, f.SpanMicros, f.Empty)
	}
	if f.TraceID == "" {
		t.Error("Expected TraceID to be set")
	}
}

func TestEventCamera_EmptyBatchYieldsZeroFrame(t *testing.T) {
	tests := []struct {
		name      string
		batch     eventcapture.EventBatch
		transform *eventcapture.Compose
		wantShape eventcapture.EventVolume
	}{
		{
			name:      "no events",
			batch:     eventcapture.EventBatch{},
			wantShape: eventcapture.EventVolume{TimeBins: 1, Polarities: 2, Height: 4, Width: 4},
		},
		{
			name:      "all events cropped away",
			batch:     eventcapture.EventBatch{{X: 3, Y: 3, Timestamp: 1}},
			transform: eventcapture.NewCompose(eventcapture.Crop{Width: 2, Height: 2}),
			wantShape: eventcapture.EventVolume{TimeBins: 1, Polarities: 2, Height: 2, Width: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			sink := &collector{}
			cfg := sensor4x4()
			cfg.Transform = tt.transform

			// A first non-empty tick proves the volume is reset between frames
			src := eventcapture.NewBatchSource(
				eventcapture.EventBatch{{X: 0, Y: 0, Timestamp: 1}},
				tt.batch,
			)
			cam := newStartedCamera(t, cfg, src, sink, clk)

			for i := 0; i < 2; i++ {
				clk.Advance(20 * time.Millisecond)
				if err := cam.Step(context.Background()); err != nil {
					t.Fatalf("Step() %d failed: %v", i, err)
				}
			}

			f := sink.last(t)
			if !f.Empty {
				t.Error("Expected Empty frame")
			}
			if f.Shape != tt.wantShape {
				t.Errorf("Expected shape %s, got %s", tt.wantShape, f.Shape)
			}
			if len(f.Data) != tt.wantShape.Size() {
				t.Errorf("Expected %d cells, got %d", tt.wantShape.Size(), len(f.Data))
			}
			for i, v := range f.Data {
				if v != 0 {
					t.Fatalf("Expected all-zero frame, cell %d = %d", i, v)
				}
			}

			if stats := cam.Stats(); stats.EmptyFrames != 1 {
				t.Errorf("Expected 1 empty frame, got %d", stats.EmptyFrames)
			}
		})
	}
}

func TestEventCamera_Saturation(t *testing.T) {
	clk := newFakeClock()
	sink := &collector{}

	batch := make(eventcapture.EventBatch, 300)
	for i := range batch {
		batch[i] = eventcapture.Event{X: 2, Y: 1, Polarity: 1, Timestamp: int64(i)}
	}

	cam := newStartedCamera(t, sensor4x4(), eventcapture.NewBatchSource(batch), sink, clk)
	clk.Advance(20 * time.Millisecond)
	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() failed: %v", err)
	}

	f := sink.last(t)
	if got := f.At(0, 1, 1, 2); got != 255 {
		t.Errorf("Expected saturated count 255, got %d", got)
	}
	if stats := cam.Stats(); stats.ClippedEvents != 45 {
		t.Errorf("Expected 45 clipped events, got %d", stats.ClippedEvents)
	}
}

func TestEventCamera_FullCellIsNotClipped(t *testing.T) {
	clk := newFakeClock()
	sink := &collector{}

	batch := make(eventcapture.EventBatch, 255)
	for i := range batch {
		batch[i] = eventcapture.Event{X: 0, Y: 3, Polarity: 0, Timestamp: int64(i)}
	}

	cam := newStartedCamera(t, sensor4x4(), eventcapture.NewBatchSource(batch), sink, clk)
	clk.Advance(20 * time.Millisecond)
	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() failed: %v", err)
	}

	if got := sink.last(t).At(0, 0, 3, 0); got != 255 {
		t.Errorf("Expected count 255, got %d", got)
	}
	if stats := cam.Stats(); stats.ClippedEvents != 0 {
		t.Errorf("Expected no clipped events, got %d", stats.ClippedEvents)
	}
}

// TestEventCamera_MinTickSpan tests the 10ms floor on the requested window.
func TestEventCamera_MinTickSpan(t *testing.T) {
	clk := newFakeClock()
	src := &windowSource{}
	cam := newStartedCamera(t, sensor4x4(), src, &collector{}, clk)

	steps := []time.Duration{0, 3 * time.Millisecond, 25 * time.Millisecond, 10 * time.Millisecond}
	for _, d := range steps {
		clk.Advance(d)
		if err := cam.Step(context.Background()); err != nil {
			t.Fatalf("Step() failed: %v", err)
		}
	}

	want := []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 25 * time.Millisecond, 10 * time.Millisecond}
	if len(src.spans) != len(want) {
		t.Fatalf("Expected %d LoadDelta calls, got %d", len(want), len(src.spans))
	}
	for i := range want {
		if src.spans[i] != want[i] {
			t.Errorf("Span %d: expected %v, got %v", i, want[i], src.spans[i])
		}
	}
	if src.polls != 0 {
		t.Errorf("Expected windowed source never polled, got %d polls", src.polls)
	}
}

func TestEventCamera_StepBeforeStart(t *testing.T) {
	cam, err := eventcapture.NewEventCamera(sensor4x4(), eventcapture.NewBatchSource(), &collector{})
	if err != nil {
		t.Fatalf("NewEventCamera() failed: %v", err)
	}

	if err := cam.Step(context.Background()); !errors.Is(err, eventcapture.ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
}

func TestEventCamera_BiasesRejectedAtStart(t *testing.T) {
	cfg := sensor4x4()
	cfg.Biases = map[string]int{"bias_fo": 5}

	cam, err := eventcapture.NewEventCamera(cfg, eventcapture.NewBatchSource(), &collector{})
	if err != nil {
		t.Fatalf("NewEventCamera() failed: %v", err)
	}

	err = cam.Start(context.Background())
	if !errors.Is(err, eventcapture.ErrBiasesNotImplemented) {
		t.Fatalf("Expected ErrBiasesNotImplemented, got %v", err)
	}
	if !errors.Is(err, eventcapture.ErrUnimplemented) {
		t.Errorf("Expected ErrUnimplemented, got %v", err)
	}
	if errors.Is(err, eventcapture.ErrConfiguration) {
		t.Errorf("Biases at runtime must not be a configuration error")
	}
}

func TestEventCamera_PauseFail(t *testing.T) {
	clk := newFakeClock()
	sink := &collector{}
	cam := newStartedCamera(t, sensor4x4(), &windowSource{}, sink, clk)

	clk.Advance(20 * time.Millisecond)
	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() before pause failed: %v", err)
	}

	clk.Advance(5 * time.Millisecond)
	cam.Pause()
	clk.Advance(time.Second)

	err := cam.Step(context.Background())
	if !errors.Is(err, eventcapture.ErrPauseNotImplemented) {
		t.Fatalf("Expected ErrPauseNotImplemented, got %v", err)
	}
	if !strings.Contains(err.Error(), "pause handling not implemented") {
		t.Errorf("Expected message 'pause handling not implemented', got %q", err.Error())
	}
	if len(sink.frames) != 1 {
		t.Errorf("Expected no frame emitted on failed tick, got %d frames", len(sink.frames))
	}

	// Timing reference is not updated, so the error persists
	if err := cam.Step(context.Background()); !errors.Is(err, eventcapture.ErrPauseNotImplemented) {
		t.Errorf("Expected ErrPauseNotImplemented on retry, got %v", err)
	}
}

func TestEventCamera_PauseDropResync_Windowed(t *testing.T) {
	clk := newFakeClock()
	sink := &collector{}
	src := &windowSource{
		batches: []eventcapture.EventBatch{
			{{X: 0, Y: 0, Timestamp: 0}},
			{{X: 1, Y: 0, Timestamp: 100}, {X: 1, Y: 0, Timestamp: 200}},
			{{X: 2, Y: 2, Timestamp: 300}, {X: 2, Y: 2, Timestamp: 400}, {X: 2, Y: 2, Timestamp: 500}},
			{{X: 3, Y: 3, Timestamp: 600}},
		},
	}
	cfg := sensor4x4()
	cfg.PausePolicy = eventcapture.PauseDropResync
	cam := newStartedCamera(t, cfg, src, sink, clk)

	clk.Advance(20 * time.Millisecond)
	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() failed: %v", err)
	}

	clk.Advance(5 * time.Millisecond)
	cam.Pause()
	clk.Advance(100 * time.Millisecond)

	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() after resume failed: %v", err)
	}

	clk.Advance(30 * time.Millisecond)
	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() after resync failed: %v", err)
	}

	wantSpans := []time.Duration{
		20 * time.Millisecond,  // normal tick
		10 * time.Millisecond,  // pre-pause interval (5ms, floored)
		100 * time.Millisecond, // paused interval, discarded
		30 * time.Millisecond,  // normal tick
	}
	if len(src.spans) != len(wantSpans) {
		t.Fatalf("Expected spans %v, got %v", wantSpans, src.spans)
	}
	for i := range wantSpans {
		if src.spans[i] != wantSpans[i] {
			t.Errorf("Span %d: expected %v, got %v", i, wantSpans[i], src.spans[i])
		}
	}

	if len(sink.frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(sink.frames))
	}
	resumed := sink.frames[1]
	if resumed.Events != 2 || resumed.At(0, 0, 0, 1) != 2 {
		t.Errorf("Expected resumed frame to hold the 2 pre-pause events, got %d events", resumed.Events)
	}
	if resumed.At(0, 0, 2, 2) != 0 {
		t.Errorf("Expected paused-interval events to be discarded")
	}

	stats := cam.Stats()
	if stats.EventsDropped != 3 {
		t.Errorf("Expected 3 dropped events, got %d", stats.EventsDropped)
	}
	if stats.Pauses != 1 {
		t.Errorf("Expected 1 pause, got %d", stats.Pauses)
	}
	if stats.FramesEmitted != 3 {
		t.Errorf("Expected 3 frames emitted, got %d", stats.FramesEmitted)
	}
}

func TestEventCamera_PauseDropResync_Polled(t *testing.T) {
	clk := newFakeClock()
	sink := &collector{}
	src := eventcapture.NewBatchSource(
		eventcapture.EventBatch{},
		eventcapture.EventBatch{
			{X: 0, Y: 0, Timestamp: 1_000},
			{X: 0, Y: 0, Timestamp: 6_000},
			{X: 0, Y: 0, Timestamp: 16_000},
			{X: 1, Y: 1, Timestamp: 30_000},
			{X: 1, Y: 1, Timestamp: 90_000},
		},
	)
	cfg := sensor4x4()
	cfg.PausePolicy = eventcapture.PauseDropResync
	cam := newStartedCamera(t, cfg, src, sink, clk)

	clk.Advance(20 * time.Millisecond)
	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() failed: %v", err)
	}

	clk.Advance(15 * time.Millisecond)
	cam.Pause()
	clk.Advance(200 * time.Millisecond)

	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() after resume failed: %v", err)
	}

	// Cutoff is first timestamp + 15ms = 16000us
	f := sink.last(t)
	if f.Events != 3 {
		t.Errorf("Expected 3 events kept, got %d", f.Events)
	}
	if f.At(0, 0, 0, 0) != 3 || f.At(0, 0, 1, 1) != 0 {
		t.Errorf("Expected only pre-pause pixel counts, got (0,0)=%d (1,1)=%d", f.At(0, 0, 0, 0), f.At(0, 0, 1, 1))
	}
	if stats := cam.Stats(); stats.EventsDropped != 2 {
		t.Errorf("Expected 2 dropped events, got %d", stats.EventsDropped)
	}
}

// TestEventCamera_SinkErrorConsumesWindow tests that a failed emit does not
// widen the next window: the recording cursor already moved past it.
func TestEventCamera_SinkErrorConsumesWindow(t *testing.T) {
	clk := newFakeClock()
	src := &windowSource{}
	sink := &collector{err: errors.New("downstream full")}
	cam := newStartedCamera(t, sensor4x4(), src, sink, clk)

	clk.Advance(20 * time.Millisecond)
	if err := cam.Step(context.Background()); err == nil {
		t.Fatal("Expected emit error, got nil")
	}

	sink.err = nil
	clk.Advance(20 * time.Millisecond)
	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() failed: %v", err)
	}

	want := []time.Duration{20 * time.Millisecond, 20 * time.Millisecond}
	if len(src.spans) != len(want) {
		t.Fatalf("Expected %d LoadDelta calls, got %d", len(want), len(src.spans))
	}
	for i := range want {
		if src.spans[i] != want[i] {
			t.Errorf("Span %d: expected %v, got %v", i, want[i], src.spans[i])
		}
	}
	if f := sink.last(t); f.Seq != 1 {
		t.Errorf("Expected first delivered frame to have Seq 1, got %d", f.Seq)
	}
}

// TestEventCamera_SourceErrorKeepsTimingReference tests that a failed read
// leaves the window open for the next tick.
func TestEventCamera_SourceErrorKeepsTimingReference(t *testing.T) {
	clk := newFakeClock()
	src := &flakyWindowSource{fail: 1}
	cam := newStartedCamera(t, sensor4x4(), src, &collector{}, clk)

	clk.Advance(20 * time.Millisecond)
	if err := cam.Step(context.Background()); err == nil {
		t.Fatal("Expected source error, got nil")
	}

	clk.Advance(20 * time.Millisecond)
	if err := cam.Step(context.Background()); err != nil {
		t.Fatalf("Step() failed: %v", err)
	}

	if got := src.spans[len(src.spans)-1]; got != 40*time.Millisecond {
		t.Errorf("Expected span to cover both ticks (40ms), got %v", got)
	}
}

func TestEventCamera_RuntimeTransformError(t *testing.T) {
	clk := newFakeClock()
	sink := &collector{}
	// Passes the 1000-event dry run, fails on small live batches
	picky := eventcapture.TransformFunc{
		Fn: func(b eventcapture.EventBatch) (eventcapture.EventBatch, error) {
			if len(b) < 10 {
				return nil, errors.New("batch too small")
			}
			return b, nil
		},
	}
	cfg := sensor4x4()
	cfg.Transform = eventcapture.NewCompose(picky)

	src := eventcapture.NewBatchSource(eventcapture.EventBatch{{X: 1, Y: 1, Timestamp: 1}})
	cam := newStartedCamera(t, cfg, src, sink, clk)

	clk.Advance(20 * time.Millisecond)
	err := cam.Step(context.Background())
	if err == nil || !strings.Contains(err.Error(), "batch too small") {
		t.Fatalf("Expected transform error, got %v", err)
	}
	if len(sink.frames) != 0 {
		t.Errorf("Expected no frame on failed tick, got %d", len(sink.frames))
	}
}

func TestEventCamera_FrameDataIsCopy(t *testing.T) {
	clk := newFakeClock()
	sink := &collector{}
	src := eventcapture.NewBatchSource(
		eventcapture.EventBatch{{X: 0, Y: 0, Timestamp: 1}},
		eventcapture.EventBatch{{X: 3, Y: 3, Timestamp: 2}},
	)
	cam := newStartedCamera(t, sensor4x4(), src, sink, clk)

	for i := 0; i < 2; i++ {
		clk.Advance(20 * time.Millisecond)
		if err := cam.Step(context.Background()); err != nil {
			t.Fatalf("Step() failed: %v", err)
		}
	}

	if sink.frames[0].At(0, 0, 0, 0) != 1 {
		t.Errorf("Expected first frame to keep its counts after the next tick")
	}
	if sink.frames[1].At(0, 0, 0, 0) != 0 {
		t.Errorf("Expected second frame to be reset")
	}
	if sink.frames[1].Seq != 2 {
		t.Errorf("Expected Seq 2, got %d", sink.frames[1].Seq)
	}
}

func TestEventCamera_Stats(t *testing.T) {
	clk := newFakeClock()
	src := eventcapture.NewBatchSource(
		eventcapture.EventBatch{{X: 0, Y: 0, Timestamp: 0}, {X: 3, Y: 3, Timestamp: 50}},
	)
	cfg := sensor4x4()
	cfg.Transform = eventcapture.NewCompose(eventcapture.Crop{Width: 2, Height: 2})
	cam := newStartedCamera(t, cfg, src, &collector{}, clk)

	for i := 0; i < 5; i++ {
		clk.Advance(20 * time.Millisecond)
		if err := cam.Step(context.Background()); err != nil {
			t.Fatalf("Step() failed: %v", err)
		}
	}

	stats := cam.Stats()
	if stats.Ticks != 5 || stats.FramesEmitted != 5 {
		t.Errorf("Expected 5 ticks and frames, got %d/%d", stats.Ticks, stats.FramesEmitted)
	}
	if stats.EventsIn != 2 || stats.EventsOut != 1 {
		t.Errorf("Expected 2 in / 1 out, got %d/%d", stats.EventsIn, stats.EventsOut)
	}
	if stats.EmptyFrames != 4 {
		t.Errorf("Expected 4 empty frames, got %d", stats.EmptyFrames)
	}
	if stats.OutputShape.Height != 2 || stats.OutputShape.Width != 2 {
		t.Errorf("Expected 2x2 output shape, got %s", stats.OutputShape)
	}
	if stats.Cadence.Ticks != 5 {
		t.Errorf("Expected cadence over 5 ticks, got %d", stats.Cadence.Ticks)
	}
	if stats.Cadence.RateMean < 49 || stats.Cadence.RateMean > 51 {
		t.Errorf("Expected ~50Hz tick rate, got %.2f", stats.Cadence.RateMean)
	}
	if !stats.Cadence.IsStable {
		t.Error("Expected perfectly regular ticks to be stable")
	}
}

func TestEventCamera_StartTwice(t *testing.T) {
	cam := newStartedCamera(t, sensor4x4(), eventcapture.NewBatchSource(), &collector{}, newFakeClock())
	if err := cam.Start(context.Background()); err == nil {
		t.Error("Expected error on second Start")
	}
}

// lifecycleSource records Start/Close calls.
type lifecycleSource struct {
	eventcapture.BatchSource
	started, closed bool
	startErr        error
}

func (s *lifecycleSource) Start(context.Context) error {
	s.started = true
	return s.startErr
}

func (s *lifecycleSource) Close() error {
	s.closed = true
	return nil
}

func TestEventCamera_SourceLifecycle(t *testing.T) {
	src := &lifecycleSource{}
	cam, err := eventcapture.NewEventCamera(sensor4x4(), src, &collector{})
	if err != nil {
		t.Fatalf("NewEventCamera() failed: %v", err)
	}
	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !src.started {
		t.Error("Expected source Start to be called")
	}
	if err := cam.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !src.closed {
		t.Error("Expected source Close to be called")
	}

	failing := &lifecycleSource{startErr: errors.New("no device")}
	cam, err = eventcapture.NewEventCamera(sensor4x4(), failing, &collector{})
	if err != nil {
		t.Fatalf("NewEventCamera() failed: %v", err)
	}
	if err := cam.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "no device") {
		t.Errorf("Expected source start error, got %v", err)
	}
}
