// Package recording reads and writes DVS event recordings.
//
// A recording is a msgpack stream: one Header followed by any number of
// Chunks. Chunks are columnar (one slice per field) and time-ordered, both
// within and across chunks.
package recording

import (
	"errors"
	"fmt"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

const (
	// Magic identifies an event recording.
	Magic = "EVTREC"
	// Version is the current format version.
	Version = 1
	// DefaultChunkSize is the number of events per chunk written by Writer.
	DefaultChunkSize = 4096
)

var (
	ErrBadMagic   = errors.New("recording: not an event recording")
	ErrBadVersion = errors.New("recording: unsupported format version")
	ErrUnsorted   = errors.New("recording: events are not time-ordered")
)

// Header describes the sensor that produced the recording.
type Header struct {
	Magic   string `msgpack:"magic"`
	Version int    `msgpack:"version"`
	Height  int    `msgpack:"height"`
	Width   int    `msgpack:"width"`
	// Origin is the sensor timestamp (microseconds) of the recording start
	Origin int64  `msgpack:"origin"`
	Source string `msgpack:"source,omitempty"`
}

func (h Header) validate() error {
	if h.Magic != Magic {
		return ErrBadMagic
	}
	if h.Version != Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if h.Height <= 0 || h.Width <= 0 {
		return fmt.Errorf("recording: invalid sensor shape %dx%d", h.Height, h.Width)
	}
	return nil
}

// Chunk is one columnar block of events.
type Chunk struct {
	T []int64  `msgpack:"t"`
	X []uint16 `msgpack:"x"`
	Y []uint16 `msgpack:"y"`
	P []uint8  `msgpack:"p"`
}

func chunkFromBatch(b eventcapture.EventBatch) Chunk {
	c := Chunk{
		T: make([]int64, len(b)),
		X: make([]uint16, len(b)),
		Y: make([]uint16, len(b)),
		P: make([]uint8, len(b)),
	}
	for i, ev := range b {
		c.T[i] = ev.Timestamp
		c.X[i] = uint16(ev.X)
		c.Y[i] = uint16(ev.Y)
		c.P[i] = uint8(ev.Polarity)
	}
	return c
}

func (c Chunk) batch() (eventcapture.EventBatch, error) {
	n := len(c.T)
	if len(c.X) != n || len(c.Y) != n || len(c.P) != n {
		return nil, fmt.Errorf("recording: ragged chunk (t=%d x=%d y=%d p=%d)", n, len(c.X), len(c.Y), len(c.P))
	}
	b := make(eventcapture.EventBatch, n)
	for i := range b {
		b[i] = eventcapture.Event{
			Timestamp: c.T[i],
			X:         int(c.X[i]),
			Y:         int(c.Y[i]),
			Polarity:  int(c.P[i]),
		}
	}
	return b, nil
}
