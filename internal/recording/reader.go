package recording

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

// Reader replays a recording. It implements eventcapture.WindowedSource:
// LoadDelta returns consecutive windows of stream time, NextBatch returns one
// chunk at a time. Both return an empty batch at the end of the recording.
//
// Reader is not safe for concurrent use.
type Reader struct {
	path   string
	closer io.Closer
	dec    *msgpack.Decoder
	header Header

	pending eventcapture.EventBatch // decoded, not yet delivered
	cursor  int64                   // end of the last window (exclusive)
	eof     bool
	read    uint64
}

// Open opens path and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recording: failed to open %s: %w", path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("recording: %s: %w", path, err)
	}
	r.path = path
	r.closer = f

	slog.Info("recording: opened",
		"path", path,
		"sensor", fmt.Sprintf("%dx%d", r.header.Width, r.header.Height),
		"source", r.header.Source,
	)
	return r, nil
}

// NewReader reads the header from src.
func NewReader(src io.Reader) (*Reader, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(src))

	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}

	return &Reader{
		dec:    dec,
		header: h,
		cursor: h.Origin,
	}, nil
}

// Header returns the recording header.
func (r *Reader) Header() Header {
	return r.header
}

// Read returns the number of events delivered so far.
func (r *Reader) Read() uint64 {
	return r.read
}

// Done reports whether every event has been delivered.
func (r *Reader) Done() bool {
	return r.eof && len(r.pending) == 0
}

// NextBatch returns the next chunk, or an empty batch at the end.
func (r *Reader) NextBatch() (eventcapture.EventBatch, error) {
	if len(r.pending) == 0 {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
	out := r.pending
	r.pending = nil
	if len(out) > 0 {
		r.cursor = out.Last() + 1
	}
	r.read += uint64(len(out))
	if out == nil {
		out = eventcapture.EventBatch{}
	}
	return out, nil
}

// LoadDelta returns the events in [cursor, cursor+span) and advances the cursor.
func (r *Reader) LoadDelta(span time.Duration) (eventcapture.EventBatch, error) {
	end := r.cursor + span.Microseconds()

	for !r.eof && (len(r.pending) == 0 || r.pending.Last() < end) {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}

	head, tail := r.pending.SplitAt(end - 1)
	out := slices.Clone(head)
	if out == nil {
		out = eventcapture.EventBatch{}
	}
	r.pending = tail
	r.cursor = end
	r.read += uint64(len(out))
	return out, nil
}

// fill decodes one more chunk into pending.
func (r *Reader) fill() error {
	if r.eof {
		return nil
	}

	var c Chunk
	if err := r.dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
			slog.Debug("recording: end of stream", "path", r.path, "events", r.read+uint64(len(r.pending)))
			return nil
		}
		return fmt.Errorf("recording: failed to read chunk: %w", err)
	}

	b, err := c.batch()
	if err != nil {
		return err
	}
	if len(r.pending) > 0 && len(b) > 0 && b.First() < r.pending.Last() {
		return ErrUnsorted
	}
	r.pending = append(r.pending, b...)
	return nil
}

// Close closes the underlying file if Open opened it.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
