package main

import (
	"context"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/control"
)

// startControl connects the MQTT control plane. Pause and resume go through
// request so they reach the camera on its Run goroutine.
func startControl(ctx context.Context, cfg *config.Config, cam *eventcapture.EventCamera,
	request func(eventcapture.Control) error, paused func() bool, shutdown context.CancelFunc) (*control.Handler, error) {

	h, err := control.NewHandler(control.Config{
		Broker:   cfg.Control.Broker,
		Topic:    cfg.Control.Topic,
		ClientID: cfg.Control.ClientID,
		QoS:      cfg.Control.QoS,
	}, control.Callbacks{
		OnGetStatus: func() map[string]any {
			st := cam.Stats()
			return map[string]any{
				"instance_id":    cfg.InstanceID,
				"paused":         paused(),
				"output_shape":   st.OutputShape.String(),
				"ticks":          st.Ticks,
				"frames_emitted": st.FramesEmitted,
				"empty_frames":   st.EmptyFrames,
				"events_in":      st.EventsIn,
				"events_out":     st.EventsOut,
				"events_dropped": st.EventsDropped,
				"clipped_events": st.ClippedEvents,
				"tick_rate_hz":   st.Cadence.RateMean,
				"tick_stable":    st.Cadence.IsStable,
			}
		},
		OnPause:  func() error { return request(eventcapture.ControlPause) },
		OnResume: func() error { return request(eventcapture.ControlResume) },
		OnShutdown: func() error {
			shutdown()
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if err := h.Start(ctx); err != nil {
		return nil, err
	}
	return h, nil
}
