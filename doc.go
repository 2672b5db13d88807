// Package eventcapture turns a stream of DVS (dynamic vision sensor) events into
// fixed-shape 8-bit histogram frames at the host runtime's tick rate.
//
// This module is the event-camera counterpart of stream-capture in Orion 2.0:
// where stream-capture decodes RTSP video into RGB frames, event-capture bins
// asynchronous per-pixel brightness-change events into polarity-separated
// count tensors that downstream workers consume like any other frame.
//
// # Quick Start
//
//	cfg := eventcapture.CameraConfig{
//	    SensorHeight: 480,
//	    SensorWidth:  640,
//	    Transform: eventcapture.NewCompose(
//	        eventcapture.Downsample{FactorX: 2, FactorY: 2},
//	    ),
//	}
//
//	sink := eventcapture.FrameSinkFunc(func(ctx context.Context, f eventcapture.Frame) error {
//	    process(f) // f.Shape == (1, 2, 240, 320)
//	    return nil
//	})
//
//	cam, err := eventcapture.NewEventCamera(cfg, source, sink)
//	if err != nil {
//	    log.Fatal(err) // *ConfigurationError, detected before any tick
//	}
//	defer cam.Close()
//
//	// Tick every 33ms until ctx is cancelled
//	err = cam.Run(ctx, 33*time.Millisecond, nil)
//
// # Frame Format
//
// Every tick emits exactly one frame of shape (T, P, H, W):
//
//   - T: output time bins (always 1)
//   - P: polarity channels (2, or 1 after MergePolarities)
//   - H, W: sensor size after spatial transforms
//
// Data is row-major uint8. Cell (0, p, y, x) counts the events of polarity p at
// pixel (x, y) during the tick, saturating at 255. A tick without events emits
// an all-zero frame with Empty set.
//
// # Transforms and Shape Inference
//
// A Compose applies transforms in order and folds their OutputShape over the
// sensor shape, so the frame shape is known at construction time. The camera
// validates it with a dry run: 1000 synthetic events are pushed through the
// pipeline and the binner, and any failure (including a panic in a user
// transform) becomes a *ConfigurationError. The dry run proves compatibility
// for one synthetic batch only.
//
// Built-in transforms: Crop, Downsample, MergePolarities, FlipLR, FlipUD,
// RefractoryFilter. TransformFunc adapts plain functions.
//
// # Timing
//
// Each tick requests max(now - last_iteration, 10ms) of stream time from a
// WindowedSource (recordings) or polls EventSource.NextBatch (live cameras).
// The 10ms floor (MinTickSpan) absorbs clock jitter and zero-length intervals.
//
// # Pause Handling
//
// Pause records the pause time. The first Step after a pause consults
// CameraConfig.PausePolicy:
//
//   - PauseFail (default): Step returns ErrPauseNotImplemented; hosts treat it as fatal
//   - PauseDropResync: keep the events from before the pause, discard the paused interval
//
// # Errors
//
//   - *ConfigurationError (errors.Is(err, ErrConfiguration)): rejected at construction
//   - ErrBiasesNotImplemented: bias programming requested, returned by Start
//   - ErrPauseNotImplemented: resume under PauseFail, returned by Step
//
// # Thread Safety
//
// Start, Step, Pause, Run and Close belong to one goroutine. Stats() uses atomic
// operations and may be called from any goroutine.
//
// # Sources and Sinks
//
// The cmd/event-capture binary wires the loop to concrete adapters:
//
//   - synthetic: random live events for demos and soak tests
//   - recording: msgpack event recordings (WindowedSource)
//   - MQTT bridge: events published by a camera driver
//   - framebus fan-out, MQTT and Kafka frame emitters, GStreamer preview
//
// # Limitations
//
//   - Single output time bin
//   - No sensor bias programming
//   - Frames are counts, not timestamps or voxel grids
package eventcapture
