package config

import (
	"fmt"
	"regexp"
	"time"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Source types
const (
	SourceSynthetic = "synthetic"
	SourceRecording = "recording"
	SourceBridge    = "bridge"
)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "event-capture"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.Sensor.Height <= 0 || cfg.Sensor.Width <= 0 {
		return fmt.Errorf("sensor.height and sensor.width must be > 0")
	}

	if _, err := eventcapture.ParsePausePolicy(cfg.PausePolicy); err != nil {
		return err
	}

	if cfg.TickIntervalMS < 0 {
		return fmt.Errorf("tick_interval_ms must be >= 0")
	}
	if cfg.TickIntervalMS == 0 {
		cfg.TickIntervalMS = 33
	}

	if cfg.NumOutputTimeBins < 0 {
		return fmt.Errorf("num_output_time_bins must be >= 0")
	}
	if s := cfg.OutputShape; s != nil {
		if s.TimeBins == 0 {
			s.TimeBins = 1
		}
		if s.TimeBins < 0 || s.Polarities <= 0 || s.Height <= 0 || s.Width <= 0 {
			return fmt.Errorf("output_shape dimensions must be > 0")
		}
	}

	if err := validateSource(cfg); err != nil {
		return err
	}

	if err := validateSinks(cfg); err != nil {
		return err
	}

	if cfg.Control.Enabled {
		if cfg.Control.Broker == "" {
			return fmt.Errorf("control.broker is required")
		}
		if cfg.Control.Topic == "" {
			cfg.Control.Topic = fmt.Sprintf("care/dvs/%s/control", cfg.InstanceID)
		}
		if cfg.Control.QoS > 2 {
			return fmt.Errorf("control.qos must be 0, 1 or 2")
		}
	}

	// Catches bad transform parameters before the camera dry run
	if _, err := BuildCompose(cfg); err != nil {
		return err
	}

	return nil
}

func validateSource(cfg *Config) error {
	src := &cfg.Source
	if src.Type == "" {
		src.Type = SourceSynthetic
		if cfg.Device != "" {
			src.Type = SourceRecording
		}
	}

	switch src.Type {
	case SourceSynthetic:
		if src.Synthetic.EventRate < 0 {
			return fmt.Errorf("source.synthetic.event_rate must be >= 0")
		}
		if src.Synthetic.EventRate == 0 {
			src.Synthetic.EventRate = 100_000
		}
	case SourceRecording:
		if cfg.Device == "" {
			return fmt.Errorf("device is required for a recording source")
		}
	case SourceBridge:
		if src.Bridge.Broker == "" {
			return fmt.Errorf("source.bridge.broker is required")
		}
		if src.Bridge.Topic == "" {
			src.Bridge.Topic = fmt.Sprintf("care/dvs/%s/events", cfg.InstanceID)
		}
		if src.Bridge.QoS > 2 {
			return fmt.Errorf("source.bridge.qos must be 0, 1 or 2")
		}
	default:
		return fmt.Errorf("unknown source.type %q (want synthetic, recording or bridge)", src.Type)
	}

	if src.Type != SourceRecording && cfg.Device != "" {
		return fmt.Errorf("device is set but source.type is %q", src.Type)
	}
	if cfg.Record.Path != "" && src.Type == SourceRecording {
		return fmt.Errorf("record.path cannot be used while replaying a recording")
	}
	return nil
}

func validateSinks(cfg *Config) error {
	s := &cfg.Sinks
	if s.BusBuffer <= 0 {
		s.BusBuffer = 8
	}

	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			return fmt.Errorf("sinks.mqtt.broker is required")
		}
		if s.MQTT.Topic == "" {
			s.MQTT.Topic = fmt.Sprintf("care/dvs/%s/frames", cfg.InstanceID)
		}
		if s.MQTT.QoS > 2 {
			return fmt.Errorf("sinks.mqtt.qos must be 0, 1 or 2")
		}
	}

	if s.Kafka.Enabled {
		if len(s.Kafka.Brokers) == 0 {
			return fmt.Errorf("sinks.kafka.brokers is required")
		}
		if s.Kafka.Topic == "" {
			s.Kafka.Topic = "event-frames"
		}
	}

	if s.Preview.Enabled && s.Preview.Scale <= 0 {
		s.Preview.Scale = 1
	}
	return nil
}

// BuildCompose turns the transforms list into a pipeline. Stages that depend on
// the frame size (flips) use the shape produced by the stages before them.
func BuildCompose(cfg *Config) (*eventcapture.Compose, error) {
	shape := eventcapture.EventVolume{
		TimeBins:   1,
		Polarities: eventcapture.NumPolarities,
		Height:     cfg.Sensor.Height,
		Width:      cfg.Sensor.Width,
	}

	stages := make([]eventcapture.Transform, 0, len(cfg.Transforms))
	for i, tc := range cfg.Transforms {
		var t eventcapture.Transform
		switch tc.Type {
		case "crop":
			if tc.Width <= 0 || tc.Height <= 0 {
				return nil, fmt.Errorf("transforms[%d]: crop width and height must be > 0", i)
			}
			if tc.X < 0 || tc.Y < 0 {
				return nil, fmt.Errorf("transforms[%d]: crop origin must be >= 0", i)
			}
			t = eventcapture.Crop{X: tc.X, Y: tc.Y, Width: tc.Width, Height: tc.Height}
		case "downsample":
			if tc.FactorX < 1 || tc.FactorY < 1 {
				return nil, fmt.Errorf("transforms[%d]: downsample factors must be >= 1", i)
			}
			t = eventcapture.Downsample{FactorX: tc.FactorX, FactorY: tc.FactorY}
		case "merge_polarities":
			t = eventcapture.MergePolarities{}
		case "flip_lr":
			t = eventcapture.FlipLR{Width: shape.Width}
		case "flip_ud":
			t = eventcapture.FlipUD{Height: shape.Height}
		case "refractory":
			if tc.PeriodUS <= 0 {
				return nil, fmt.Errorf("transforms[%d]: refractory period_us must be > 0", i)
			}
			t = eventcapture.RefractoryFilter{Period: tc.PeriodUS}
		default:
			return nil, fmt.Errorf("transforms[%d]: unknown type %q", i, tc.Type)
		}
		shape = t.OutputShape(shape)
		stages = append(stages, t)
	}

	return eventcapture.NewCompose(stages...), nil
}

// CameraConfig converts a validated Config into an EventCamera configuration.
func CameraConfig(cfg *Config) (eventcapture.CameraConfig, error) {
	policy, err := eventcapture.ParsePausePolicy(cfg.PausePolicy)
	if err != nil {
		return eventcapture.CameraConfig{}, err
	}
	compose, err := BuildCompose(cfg)
	if err != nil {
		return eventcapture.CameraConfig{}, err
	}

	var shape *eventcapture.EventVolume
	if s := cfg.OutputShape; s != nil {
		shape = &eventcapture.EventVolume{
			TimeBins:   s.TimeBins,
			Polarities: s.Polarities,
			Height:     s.Height,
			Width:      s.Width,
		}
	}

	return eventcapture.CameraConfig{
		SensorHeight:      cfg.Sensor.Height,
		SensorWidth:       cfg.Sensor.Width,
		Device:            cfg.Device,
		Biases:            cfg.Biases,
		NumOutputTimeBins: cfg.NumOutputTimeBins,
		OutputShape:       shape,
		Transform:         compose,
		PausePolicy:       policy,
		DryRunEvents:      cfg.DryRunEvents,
	}, nil
}

// TickInterval returns the host tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}
