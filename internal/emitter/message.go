// Package emitter publishes histogram frames to message brokers.
//
// Frames are encoded as msgpack Messages. Emitters are blocking sinks: run
// them behind a framebus subscriber so the acquisition loop never waits on
// the network.
package emitter

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

// Message is the wire form of a frame.
type Message struct {
	Source     string    `msgpack:"source"`
	Seq        uint64    `msgpack:"seq"`
	Timestamp  time.Time `msgpack:"ts"`
	Shape      [4]int    `msgpack:"shape"` // (T, P, H, W)
	Data       []byte    `msgpack:"data"`
	Events     int       `msgpack:"events"`
	SpanMicros int64     `msgpack:"span_us"`
	Empty      bool      `msgpack:"empty,omitempty"`
	TraceID    string    `msgpack:"trace_id"`
}

// Encode marshals frame for source.
func Encode(source string, frame eventcapture.Frame) ([]byte, error) {
	m := Message{
		Source:     source,
		Seq:        frame.Seq,
		Timestamp:  frame.Timestamp,
		Shape:      frame.Shape.Dims(),
		Data:       frame.Data,
		Events:     frame.Events,
		SpanMicros: frame.SpanMicros,
		Empty:      frame.Empty,
		TraceID:    frame.TraceID,
	}
	b, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("emitter: failed to encode frame %d: %w", frame.Seq, err)
	}
	return b, nil
}

// Decode unmarshals a message and checks that Data matches Shape.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("emitter: failed to decode frame: %w", err)
	}
	size := m.Shape[0] * m.Shape[1] * m.Shape[2] * m.Shape[3]
	if len(m.Data) != size {
		return Message{}, fmt.Errorf("emitter: frame %d has %d cells, shape %v needs %d", m.Seq, len(m.Data), m.Shape, size)
	}
	return m, nil
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published uint64
	Bytes     uint64
	Errors    uint64
}
