// Package histogram converts time-ordered event batches into dense, polarity
// separated, time-binned 8-bit count volumes.
package histogram

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/events"
)

// MaxCount is the saturation value of a cell.
const MaxCount = 255

// ErrEmptyBatch is returned by Quantized when there is no event to derive a time span from.
var ErrEmptyBatch = errors.New("histogram: empty event batch")

// IndexError reports an event that does not fit in the target volume.
type IndexError struct {
	Index int
	Event events.Event
	Shape events.Volume
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("histogram: event %d (x=%d y=%d p=%d) outside volume %s",
		e.Index, e.Event.X, e.Event.Y, e.Event.Polarity, e.Shape)
}

// Volume is a dense (T, P, H, W) buffer of saturating 8-bit counters.
// It is not safe for concurrent use.
type Volume struct {
	shape   events.Volume
	data    []uint8
	clipped int
}

// NewVolume allocates a zeroed volume. Panics if the shape has a non-positive dimension.
func NewVolume(shape events.Volume) *Volume {
	if !shape.Valid() {
		panic(fmt.Sprintf("histogram: invalid volume shape %s", shape))
	}
	return &Volume{
		shape: shape,
		data:  make([]uint8, shape.Size()),
	}
}

// Shape returns the volume shape.
func (v *Volume) Shape() events.Volume {
	return v.shape
}

// Reset zeroes every cell and the clipped count.
func (v *Volume) Reset() {
	clear(v.data)
	v.clipped = 0
}

// At returns the count at [t, p, y, x].
func (v *Volume) At(t, p, y, x int) uint8 {
	return v.data[v.offset(t, p, y, x)]
}

// Bytes exposes the backing buffer in (T, P, H, W) row-major order.
// The slice is reused across calls to Quantized.
func (v *Volume) Bytes() []uint8 {
	return v.data
}

// Clone returns a copy of the backing buffer.
func (v *Volume) Clone() []uint8 {
	out := make([]uint8, len(v.data))
	copy(out, v.data)
	return out
}

// Sum returns the total of all counters.
func (v *Volume) Sum() int {
	total := 0
	for _, c := range v.data {
		total += int(c)
	}
	return total
}

// Saturated returns the number of cells at MaxCount.
func (v *Volume) Saturated() int {
	n := 0
	for _, c := range v.data {
		if c == MaxCount {
			n++
		}
	}
	return n
}

// Clipped returns the number of increments lost to saturation since the last Reset.
func (v *Volume) Clipped() int {
	return v.clipped
}

func (v *Volume) offset(t, p, y, x int) int {
	s := v.shape
	return ((t*s.Polarities+p)*s.Height+y)*s.Width + x
}

// Quantized accumulates batch into vol.
//
// The span (microseconds, by convention last minus first timestamp) is split into
// vol.TimeBins equal windows starting at the first event; every event increments
// [window, polarity, y, x] by one, saturating at MaxCount. A non-positive span puts
// every event in window 0. With reset the volume is zeroed first.
//
// Returns ErrEmptyBatch for an empty batch and *IndexError when an event falls
// outside the volume; in the latter case the volume holds a partial result.
func Quantized(batch events.Batch, vol *Volume, span int64, reset bool) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}
	if reset {
		vol.Reset()
	}

	s := vol.shape
	bins := int64(s.TimeBins)
	t0 := batch[0].Timestamp

	for i, ev := range batch {
		if ev.X < 0 || ev.X >= s.Width || ev.Y < 0 || ev.Y >= s.Height ||
			ev.Polarity < 0 || ev.Polarity >= s.Polarities {
			return &IndexError{Index: i, Event: ev, Shape: s}
		}

		bin := int64(0)
		if span > 0 && bins > 1 {
			bin = (ev.Timestamp - t0) * bins / span
			if bin < 0 {
				bin = 0
			} else if bin >= bins {
				bin = bins - 1
			}
		}

		off := vol.offset(int(bin), ev.Polarity, ev.Y, ev.X)
		if vol.data[off] < MaxCount {
			vol.data[off]++
		} else {
			vol.clipped++
		}
	}

	return nil
}
