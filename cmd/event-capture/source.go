package main

import (
	"fmt"
	"io"
	"log/slog"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/bridge"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/recording"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/synthetic"
)

// eventSource is the camera's source plus handles kept for statistics.
type eventSource struct {
	eventcapture.EventSource

	synthetic *synthetic.Source
	bridge    *bridge.Source
	replay    *recording.Reader
	recorder  *recording.Writer
}

func buildSource(cfg *config.Config) (*eventSource, error) {
	s := &eventSource{}

	switch cfg.Source.Type {
	case config.SourceRecording:
		r, err := recording.Open(cfg.Device)
		if err != nil {
			return nil, err
		}
		h := r.Header()
		if h.Height != cfg.Sensor.Height || h.Width != cfg.Sensor.Width {
			r.Close()
			return nil, fmt.Errorf("recording %s is %dx%d, sensor is configured as %dx%d",
				cfg.Device, h.Width, h.Height, cfg.Sensor.Width, cfg.Sensor.Height)
		}
		s.replay = r
		s.EventSource = r

	case config.SourceBridge:
		b, err := bridge.New(bridge.Config{
			Broker:   cfg.Source.Bridge.Broker,
			Topic:    cfg.Source.Bridge.Topic,
			ClientID: cfg.Source.Bridge.ClientID,
			QoS:      cfg.Source.Bridge.QoS,
			Height:   cfg.Sensor.Height,
			Width:    cfg.Sensor.Width,
			Buffer:   cfg.Source.Bridge.Buffer,
		})
		if err != nil {
			return nil, err
		}
		s.bridge = b
		s.EventSource = b

	default:
		g, err := synthetic.New(synthetic.Config{
			Height:    cfg.Sensor.Height,
			Width:     cfg.Sensor.Width,
			EventRate: cfg.Source.Synthetic.EventRate,
			Seed:      cfg.Source.Synthetic.Seed,
		})
		if err != nil {
			return nil, err
		}
		s.synthetic = g
		s.EventSource = g
	}

	if cfg.Record.Path != "" {
		w, err := recording.Create(cfg.Record.Path, recording.Header{
			Height: cfg.Sensor.Height,
			Width:  cfg.Sensor.Width,
			Source: cfg.InstanceID,
		})
		if err != nil {
			s.close()
			return nil, err
		}
		s.recorder = w
		s.EventSource = recording.Tee(s.EventSource, w)
		slog.Info("Recording events", "path", cfg.Record.Path)
	}

	return s, nil
}

// close releases the source when the camera never took ownership of it.
func (s *eventSource) close() {
	if c, ok := s.EventSource.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("Error closing source", "error", err)
		}
	}
}
