// Package events holds the plain data model shared by the root package and the
// internal binner, sources and sinks.
//
// Types here are re-exported by the parent package as aliases so that internal
// packages can use them without importing the public API (no import cycle).
package events

import "fmt"

// NumPolarities is the polarity count of a raw DVS sensor (OFF=0, ON=1).
const NumPolarities = 2

// Event is a single brightness-change report from the sensor.
type Event struct {
	// Timestamp in microseconds (monotonic within a stream)
	Timestamp int64
	// X is the pixel column
	X int
	// Y is the pixel row
	Y int
	// Polarity is the sign of the change, used directly as a channel index
	Polarity int
}

// Batch is a time-ordered sequence of events. It may be empty.
type Batch []Event

// First returns the timestamp of the first event (0 for an empty batch).
func (b Batch) First() int64 {
	if len(b) == 0 {
		return 0
	}
	return b[0].Timestamp
}

// Last returns the timestamp of the last event (0 for an empty batch).
func (b Batch) Last() int64 {
	if len(b) == 0 {
		return 0
	}
	return b[len(b)-1].Timestamp
}

// Span returns Last - First in microseconds.
func (b Batch) Span() int64 {
	return b.Last() - b.First()
}

// IsSorted reports whether timestamps are non-decreasing.
func (b Batch) IsSorted() bool {
	for i := 1; i < len(b); i++ {
		if b[i].Timestamp < b[i-1].Timestamp {
			return false
		}
	}
	return true
}

// SplitAt returns the events with Timestamp <= cutoff and the remainder.
// The batch must be sorted.
func (b Batch) SplitAt(cutoff int64) (head, tail Batch) {
	i := 0
	for i < len(b) && b[i].Timestamp <= cutoff {
		i++
	}
	return b[:i], b[i:]
}

// Volume describes the shape of a (time_bins, polarities, height, width) tensor.
// It never holds data.
type Volume struct {
	TimeBins   int
	Polarities int
	Height     int
	Width      int
}

// Dims returns the shape as (T, P, H, W).
func (v Volume) Dims() [4]int {
	return [4]int{v.TimeBins, v.Polarities, v.Height, v.Width}
}

// Size returns the number of cells.
func (v Volume) Size() int {
	return v.TimeBins * v.Polarities * v.Height * v.Width
}

// Valid reports whether every dimension is positive.
func (v Volume) Valid() bool {
	return v.TimeBins > 0 && v.Polarities > 0 && v.Height > 0 && v.Width > 0
}

// String renders the shape as "(T, P, H, W)".
func (v Volume) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", v.TimeBins, v.Polarities, v.Height, v.Width)
}
