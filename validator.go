package eventcapture

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/histogram"
)

// DefaultDryRunEvents is the size of the synthetic validation batch.
const DefaultDryRunEvents = 1000

const incompatibleTransform = "transformation is not compatible with the declared output shape"

// dryRun pushes one synthetic batch through the pipeline and the binner.
//
// It only proves shape compatibility for that batch; it says nothing about
// real data. Panics raised by user transforms are reported as configuration
// errors rather than crashing the caller.
func dryRun(height, width int, pipeline *Compose, shape EventVolume, n int, seed uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ConfigurationError{
				Field:  "transform",
				Reason: incompatibleTransform,
				Err:    fmt.Errorf("panic during dry run: %v", r),
			}
		}
	}()

	batch := events.Synthesize(n, height, width, 0, seed)

	out, err := pipeline.Apply(batch)
	if err != nil {
		return &ConfigurationError{Field: "transform", Reason: incompatibleTransform, Err: err}
	}

	if len(out) > 0 {
		vol := histogram.NewVolume(shape)
		if err := histogram.Quantized(out, vol, out.Span(), true); err != nil {
			return &ConfigurationError{Field: "transform", Reason: incompatibleTransform, Err: err}
		}
	}

	slog.Debug("event-capture: dry run passed",
		"synthetic_events", len(batch),
		"transformed_events", len(out),
		"output_shape", shape.String(),
	)

	return nil
}
