package eventcapture_test

import (
	"context"
	"errors"
	"testing"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

func TestMultiSink_EmitsToEverySink(t *testing.T) {
	var a, b collector
	failing := eventcapture.FrameSinkFunc(func(context.Context, eventcapture.Frame) error {
		return errors.New("broker down")
	})

	sink := eventcapture.MultiSink(&a, failing, &b)
	err := sink.Emit(context.Background(), eventcapture.Frame{Seq: 7})
	if err == nil || err.Error() != "broker down" {
		t.Errorf("Expected joined sink error, got %v", err)
	}
	if len(a.frames) != 1 || len(b.frames) != 1 {
		t.Fatalf("Expected both sinks to receive the frame, got %d and %d", len(a.frames), len(b.frames))
	}
	if b.frames[0].Seq != 7 {
		t.Errorf("Expected seq 7, got %d", b.frames[0].Seq)
	}
}

func TestMultiSink_Empty(t *testing.T) {
	if err := eventcapture.MultiSink().Emit(context.Background(), eventcapture.Frame{}); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestBatchSource_DrainsThenEmpty(t *testing.T) {
	src := eventcapture.NewBatchSource(
		eventcapture.EventBatch{{Timestamp: 1}},
		eventcapture.EventBatch{{Timestamp: 2}, {Timestamp: 3}},
	)

	for i, want := range []int{1, 2, 0, 0} {
		b, err := src.NextBatch()
		if err != nil {
			t.Fatalf("NextBatch %d failed: %v", i, err)
		}
		if len(b) != want {
			t.Errorf("NextBatch %d: expected %d events, got %d", i, want, len(b))
		}
	}
}
