package eventcapture

import (
	"context"
	"errors"
	"time"
)

// EventSource is the camera collaborator of the acquisition loop.
//
// Implementations must guarantee:
//   - NextBatch() never blocks; it returns an empty batch when nothing arrived
//   - returned batches are time-ordered and already normalised to Event
//   - a batch is not modified by the source after it was returned
type EventSource interface {
	// NextBatch returns the events that arrived since the previous call.
	NextBatch() (EventBatch, error)
}

// WindowedSource is a source that can deliver a given amount of stream time,
// such as a recording. The loop prefers LoadDelta over NextBatch when available.
type WindowedSource interface {
	EventSource

	// LoadDelta returns the next span of stream time. It returns an empty batch,
	// not an error, at the end of the stream.
	LoadDelta(span time.Duration) (EventBatch, error)
}

// Starter is implemented by sources that need to connect or open files before
// the first tick.
type Starter interface {
	Start(ctx context.Context) error
}

// FrameSink is the output port of the acquisition loop. Emit is called exactly
// once per tick and owns the frame afterwards.
type FrameSink interface {
	Emit(ctx context.Context, frame Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(ctx context.Context, frame Frame) error

// Emit calls f.
func (f FrameSinkFunc) Emit(ctx context.Context, frame Frame) error {
	return f(ctx, frame)
}

// MultiSink emits every frame to each sink in order and joins their errors.
// All sinks receive the same Data slice, so they must treat it as read-only.
func MultiSink(sinks ...FrameSink) FrameSink {
	return FrameSinkFunc(func(ctx context.Context, frame Frame) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Emit(ctx, frame); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// BatchSource replays a fixed list of batches through NextBatch, then returns
// empty batches. Useful for tests and offline tooling.
type BatchSource struct {
	batches []EventBatch
	next    int
}

// NewBatchSource returns a source that yields batches in order.
func NewBatchSource(batches ...EventBatch) *BatchSource {
	return &BatchSource{batches: batches}
}

// NextBatch returns the next queued batch, or an empty one once drained.
func (s *BatchSource) NextBatch() (EventBatch, error) {
	if s.next >= len(s.batches) {
		return EventBatch{}, nil
	}
	b := s.batches[s.next]
	s.next++
	return b, nil
}
