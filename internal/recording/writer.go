package recording

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

// Writer appends event batches to a recording.
type Writer struct {
	mu        sync.Mutex
	buf       *bufio.Writer
	enc       *msgpack.Encoder
	closer    io.Closer
	chunkSize int
	last      int64
	written   uint64
}

// Create creates (or truncates) path and writes the header.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recording: failed to create %s: %w", path, err)
	}
	w, err := NewWriter(f, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes the header to dst. Magic and Version are filled in.
func NewWriter(dst io.Writer, h Header) (*Writer, error) {
	h.Magic = Magic
	h.Version = Version
	if err := h.validate(); err != nil {
		return nil, err
	}

	buf := bufio.NewWriter(dst)
	w := &Writer{
		buf:       buf,
		enc:       msgpack.NewEncoder(buf),
		chunkSize: DefaultChunkSize,
		last:      h.Origin,
	}
	if err := w.enc.Encode(&h); err != nil {
		return nil, fmt.Errorf("recording: failed to write header: %w", err)
	}
	return w, nil
}

// Write appends batch. Events must not be older than anything written before.
func (w *Writer) Write(batch eventcapture.EventBatch) error {
	if len(batch) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if batch.First() < w.last || !batch.IsSorted() {
		return ErrUnsorted
	}

	for start := 0; start < len(batch); start += w.chunkSize {
		end := min(start+w.chunkSize, len(batch))
		c := chunkFromBatch(batch[start:end])
		if err := w.enc.Encode(&c); err != nil {
			return fmt.Errorf("recording: failed to write chunk: %w", err)
		}
	}

	w.last = batch.Last()
	w.written += uint64(len(batch))
	return nil
}

// Written returns the number of events written.
func (w *Writer) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes buffered chunks and closes the file if Create opened it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("recording: failed to flush: %w", err)
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Tee wraps src so that every polled batch is also appended to w.
// Write failures are returned from NextBatch.
func Tee(src eventcapture.EventSource, w *Writer) eventcapture.EventSource {
	return &teeSource{EventSource: src, w: w}
}

type teeSource struct {
	eventcapture.EventSource
	w *Writer
}

func (t *teeSource) NextBatch() (eventcapture.EventBatch, error) {
	b, err := t.EventSource.NextBatch()
	if err != nil {
		return b, err
	}
	if err := t.w.Write(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Start starts the wrapped source if it is an eventcapture.Starter.
func (t *teeSource) Start(ctx context.Context) error {
	if s, ok := t.EventSource.(eventcapture.Starter); ok {
		return s.Start(ctx)
	}
	return nil
}

// Close closes the wrapped source and then the writer.
func (t *teeSource) Close() error {
	var errs []error
	if c, ok := t.EventSource.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, t.w.Close())
	return errors.Join(errs...)
}
