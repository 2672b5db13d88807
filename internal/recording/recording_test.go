package recording

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

func ev(t int64, x, y, p int) eventcapture.Event {
	return eventcapture.Event{Timestamp: t, X: x, Y: y, Polarity: p}
}

func writeRecording(t *testing.T, h Header, chunkSize int, batches ...eventcapture.EventBatch) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, h)
	require.NoError(t, err)
	if chunkSize > 0 {
		w.chunkSize = chunkSize
	}
	for _, b := range batches {
		require.NoError(t, w.Write(b))
	}
	require.NoError(t, w.Close())
	return &buf
}

func TestReader_LoadDeltaWindows(t *testing.T) {
	buf := writeRecording(t, Header{Height: 4, Width: 4}, 2,
		eventcapture.EventBatch{ev(0, 0, 0, 0), ev(5_000, 1, 1, 1), ev(9_999, 2, 2, 0)},
		eventcapture.EventBatch{ev(10_000, 3, 3, 1), ev(25_000, 0, 1, 0)},
	)

	r, err := NewReader(buf)
	require.NoError(t, err)
	require.Equal(t, 4, r.Header().Height)

	w1, err := r.LoadDelta(10 * time.Millisecond)
	require.NoError(t, err)
	require.Len(t, w1, 3, "[0, 10000) holds three events")

	w2, err := r.LoadDelta(10 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, eventcapture.EventBatch{ev(10_000, 3, 3, 1)}, w2)

	w3, err := r.LoadDelta(time.Second)
	require.NoError(t, err)
	require.Len(t, w3, 1)
	require.True(t, r.Done())

	w4, err := r.LoadDelta(time.Second)
	require.NoError(t, err)
	require.NotNil(t, w4)
	require.Empty(t, w4)
	require.Equal(t, uint64(5), r.Read())
}

func TestReader_NextBatchReturnsChunks(t *testing.T) {
	buf := writeRecording(t, Header{Height: 4, Width: 4}, 2,
		eventcapture.EventBatch{ev(1, 0, 0, 0), ev(2, 0, 0, 0), ev(3, 0, 0, 0)},
	)

	r, err := NewReader(buf)
	require.NoError(t, err)

	b, err := r.NextBatch()
	require.NoError(t, err)
	require.Len(t, b, 2)

	b, err = r.NextBatch()
	require.NoError(t, err)
	require.Len(t, b, 1)

	b, err = r.NextBatch()
	require.NoError(t, err)
	require.Empty(t, b)
}

func TestReader_RejectsForeignStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, msgpack.NewEncoder(&buf).Encode(&Header{Magic: "NOPE", Version: 1, Height: 1, Width: 1}))
	_, err := NewReader(&buf)
	require.ErrorIs(t, err, ErrBadMagic)

	buf.Reset()
	require.NoError(t, msgpack.NewEncoder(&buf).Encode(&Header{Magic: Magic, Version: 99, Height: 1, Width: 1}))
	_, err = NewReader(&buf)
	require.ErrorIs(t, err, ErrBadVersion)

	_, err = NewReader(bytes.NewReader(nil))
	require.Error(t, err)
}

func TestReader_RaggedChunk(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	require.NoError(t, enc.Encode(&Header{Magic: Magic, Version: Version, Height: 2, Width: 2}))
	require.NoError(t, enc.Encode(&Chunk{T: []int64{1, 2}, X: []uint16{0}, Y: []uint16{0, 1}, P: []uint8{0, 1}}))

	r, err := NewReader(&buf)
	require.NoError(t, err)
	_, err = r.LoadDelta(time.Second)
	require.ErrorContains(t, err, "ragged chunk")
}

func TestWriter_RejectsOutOfOrder(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Header{Height: 2, Width: 2})
	require.NoError(t, err)

	require.NoError(t, w.Write(eventcapture.EventBatch{ev(10, 0, 0, 0)}))
	require.ErrorIs(t, w.Write(eventcapture.EventBatch{ev(5, 0, 0, 0)}), ErrUnsorted)
	require.ErrorIs(t, w.Write(eventcapture.EventBatch{ev(20, 0, 0, 0), ev(15, 0, 0, 0)}), ErrUnsorted)
	require.Equal(t, uint64(1), w.Written())

	_, err = NewWriter(&buf, Header{Height: 0, Width: 2})
	require.Error(t, err)
}

func TestTee_RecordsPolledBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tee.evtrec")
	w, err := Create(path, Header{Height: 4, Width: 4, Source: "test"})
	require.NoError(t, err)

	src := Tee(eventcapture.NewBatchSource(
		eventcapture.EventBatch{ev(1, 1, 1, 0)},
		eventcapture.EventBatch{ev(2, 2, 2, 1), ev(3, 3, 3, 1)},
	), w)

	for i := 0; i < 3; i++ {
		_, err := src.NextBatch()
		require.NoError(t, err)
	}
	require.NoError(t, src.(interface{ Close() error }).Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, "test", r.Header().Source)

	all, err := r.LoadDelta(time.Second)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

// TestReader_DrivesEventCamera replays a recording through the acquisition loop.
func TestReader_DrivesEventCamera(t *testing.T) {
	buf := writeRecording(t, Header{Height: 4, Width: 4}, 0,
		eventcapture.EventBatch{ev(0, 0, 0, 0), ev(5, 1, 1, 1), ev(10, 0, 0, 0), ev(40_000, 3, 3, 1)},
	)
	r, err := NewReader(buf)
	require.NoError(t, err)

	var frames []eventcapture.Frame
	sink := eventcapture.FrameSinkFunc(func(_ context.Context, f eventcapture.Frame) error {
		frames = append(frames, f)
		return nil
	})

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cam, err := eventcapture.NewEventCamera(
		eventcapture.CameraConfig{SensorHeight: 4, SensorWidth: 4, Device: "memory"},
		r, sink,
		eventcapture.WithClock(func() time.Time { return clock }),
	)
	require.NoError(t, err)
	require.NoError(t, cam.Start(context.Background()))

	for i := 0; i < 2; i++ {
		clock = clock.Add(33 * time.Millisecond)
		require.NoError(t, cam.Step(context.Background()))
	}

	require.Len(t, frames, 2)
	require.Equal(t, uint8(2), frames[0].At(0, 0, 0, 0))
	require.Equal(t, uint8(1), frames[0].At(0, 1, 1, 1))
	require.Equal(t, 3, frames[0].Events)
	require.Equal(t, uint8(1), frames[1].At(0, 1, 3, 3))
}
