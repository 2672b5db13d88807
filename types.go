package eventcapture

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/events"
)

// Event is re-exported from the internal package to avoid import cycles.
// See internal/events/event.go for field documentation.
type Event = events.Event

// EventBatch is a time-ordered sequence of events, possibly empty.
type EventBatch = events.Batch

// EventVolume describes a (time_bins, polarities, height, width) tensor shape.
type EventVolume = events.Volume

// NumPolarities is the polarity count of the raw sensor.
const NumPolarities = events.NumPolarities

// MinTickSpan is the floor applied to the elapsed time between ticks.
const MinTickSpan = 10 * time.Millisecond

// Frame is one emitted histogram tensor.
type Frame struct {
	// Seq is the monotonic frame sequence number (starts at 1)
	Seq uint64
	// Timestamp is the wall-clock time of the tick that produced the frame
	Timestamp time.Time
	// Shape is the tensor shape (time_bins, polarities, height, width)
	Shape EventVolume
	// Data holds the saturating 8-bit counts in row-major (T, P, H, W) order.
	// It is a copy owned by the receiver.
	Data []uint8
	// Events is the number of events binned into this frame
	Events int
	// SpanMicros is the time span covered by the binned events
	SpanMicros int64
	// Empty is true when no event survived acquisition and transformation
	Empty bool
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// At returns the count at [t, p, y, x].
func (f Frame) At(t, p, y, x int) uint8 {
	s := f.Shape
	return f.Data[((t*s.Polarities+p)*s.Height+y)*s.Width+x]
}

// PausePolicy selects how the first tick after a pause attributes events.
type PausePolicy int

const (
	// PauseFail aborts the tick with ErrPauseNotImplemented
	PauseFail PausePolicy = iota
	// PauseDropResync emits the events that preceded the pause and discards the
	// events that arrived while paused
	PauseDropResync
)

// String returns a human-readable representation of the policy
func (p PausePolicy) String() string {
	switch p {
	case PauseFail:
		return "fail"
	case PauseDropResync:
		return "drop-resync"
	default:
		return "unknown"
	}
}

// ParsePausePolicy parses "fail" or "drop-resync".
func ParsePausePolicy(s string) (PausePolicy, error) {
	switch s {
	case "", "fail":
		return PauseFail, nil
	case "drop-resync", "drop":
		return PauseDropResync, nil
	default:
		return PauseFail, &ConfigurationError{Field: "pause_policy", Reason: "unknown pause policy " + s}
	}
}

// CameraConfig contains the construction parameters of an EventCamera
type CameraConfig struct {
	// SensorHeight and SensorWidth are the raw sensor resolution (required)
	SensorHeight int
	SensorWidth  int
	// Device is a recording path; empty means a live camera
	Device string
	// Biases are sensor bias registers; not supported with a recording device
	// and not implemented at runtime
	Biases map[string]int
	// Transform is the optional event transformation pipeline
	Transform *Compose
	// NumOutputTimeBins must be 1 (0 defaults to 1)
	NumOutputTimeBins int
	// OutputShape overrides shape inference when set
	OutputShape *EventVolume
	// PausePolicy selects resume handling (default PauseFail)
	PausePolicy PausePolicy
	// DryRunEvents is the synthetic batch size used by the validator (default 1000)
	DryRunEvents int
	// DryRunSeed seeds the synthetic batch
	DryRunSeed uint64
}

// CaptureStats is a snapshot of acquisition loop counters
type CaptureStats struct {
	// Ticks is the number of Step calls that completed
	Ticks uint64
	// FramesEmitted is the number of frames handed to the sink
	FramesEmitted uint64
	// EmptyFrames is the number of all-zero frames emitted
	EmptyFrames uint64
	// EventsIn is the number of events pulled from the source
	EventsIn uint64
	// EventsOut is the number of events left after transformation
	EventsOut uint64
	// EventsDropped is the number of events discarded when resuming after a pause
	EventsDropped uint64
	// ClippedEvents is the number of events not counted because their cell was
	// already at 255, summed over frames
	ClippedEvents uint64
	// Pauses is the number of Pause calls
	Pauses uint64
	// LastSpanMicros is the span of the last binned batch
	LastSpanMicros int64
	// OutputShape is the frame shape
	OutputShape EventVolume
	// Cadence describes how regularly Step has been called
	Cadence CadenceStats
}

// CadenceStats describes the host tick rate
type CadenceStats struct {
	// Ticks in the measurement window
	Ticks int
	// RateMean is the mean tick rate in Hz
	RateMean float64
	// RateStdDev is the standard deviation of the instantaneous tick rate
	RateStdDev float64
	// JitterMean is the mean deviation from the expected interval
	JitterMean time.Duration
	// JitterMax is the worst deviation from the expected interval
	JitterMax time.Duration
	// IsStable is true if rate stddev < 15% of mean and jitter < 20% of interval
	IsStable bool
}
