package bridge

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/recording"
)

// Packet is the wire record a camera driver publishes: a sequence number and
// a columnar block of events in sensor time.
// Any non-zero polarity is an ON event.
type Packet struct {
	Source string          `msgpack:"source,omitempty"`
	Seq    uint64          `msgpack:"seq"`
	Events recording.Chunk `msgpack:"events"`
}

// Encode marshals a batch into a packet payload.
func Encode(source string, seq uint64, batch eventcapture.EventBatch) ([]byte, error) {
	p := Packet{Source: source, Seq: seq}
	p.Events.T = make([]int64, len(batch))
	p.Events.X = make([]uint16, len(batch))
	p.Events.Y = make([]uint16, len(batch))
	p.Events.P = make([]uint8, len(batch))
	for i, ev := range batch {
		p.Events.T[i] = ev.Timestamp
		p.Events.X[i] = uint16(ev.X)
		p.Events.Y[i] = uint16(ev.Y)
		p.Events.P[i] = uint8(ev.Polarity)
	}

	b, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to encode packet: %w", err)
	}
	return b, nil
}

// Decode unmarshals a packet payload.
func Decode(payload []byte) (Packet, error) {
	var p Packet
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return Packet{}, fmt.Errorf("bridge: failed to decode packet: %w", err)
	}
	return p, nil
}

// normalize converts a packet to an event batch, dropping events outside the
// sensor. It returns the batch and the number of dropped events.
func normalize(p Packet, height, width int) (eventcapture.EventBatch, int, error) {
	c := p.Events
	n := len(c.T)
	if len(c.X) != n || len(c.Y) != n || len(c.P) != n {
		return nil, 0, fmt.Errorf("bridge: ragged packet %d (t=%d x=%d y=%d p=%d)", p.Seq, n, len(c.X), len(c.Y), len(c.P))
	}

	out := make(eventcapture.EventBatch, 0, n)
	dropped := 0
	for i := 0; i < n; i++ {
		x, y := int(c.X[i]), int(c.Y[i])
		if x >= width || y >= height {
			dropped++
			continue
		}
		pol := 0
		if c.P[i] != 0 {
			pol = 1
		}
		out = append(out, eventcapture.Event{Timestamp: c.T[i], X: x, Y: y, Polarity: pol})
	}

	if !out.IsSorted() {
		return nil, dropped, fmt.Errorf("bridge: packet %d is not time-ordered", p.Seq)
	}
	return out, dropped, nil
}
