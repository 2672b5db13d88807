// Package config loads the event-capture service configuration from YAML,
// with .env files and EVENT_CAPTURE_* environment variables layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete event-capture configuration
type Config struct {
	InstanceID        string            `yaml:"instance_id"`
	Sensor            SensorConfig      `yaml:"sensor"`
	Device            string            `yaml:"device"` // recording path; empty means live
	Biases            map[string]int    `yaml:"biases,omitempty"`
	PausePolicy       string            `yaml:"pause_policy"` // fail | drop-resync
	TickIntervalMS    int               `yaml:"tick_interval_ms"`
	DryRunEvents      int               `yaml:"dry_run_events"`
	NumOutputTimeBins int               `yaml:"num_output_time_bins"`
	OutputShape       *ShapeConfig      `yaml:"output_shape,omitempty"` // nil infers from transforms
	Transforms        []TransformConfig `yaml:"transforms"`
	Source            SourceConfig      `yaml:"source"`
	Record            RecordConfig      `yaml:"record"`
	Sinks             SinksConfig       `yaml:"sinks"`
	Control           ControlConfig     `yaml:"control"`
}

// SensorConfig is the raw sensor resolution
type SensorConfig struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

// ShapeConfig overrides the inferred frame shape. time_bins defaults to 1.
type ShapeConfig struct {
	TimeBins   int `yaml:"time_bins"`
	Polarities int `yaml:"polarities"`
	Height     int `yaml:"height"`
	Width      int `yaml:"width"`
}

// TransformConfig is one pipeline stage. Fields irrelevant to Type are ignored.
type TransformConfig struct {
	Type     string `yaml:"type"` // crop, downsample, merge_polarities, flip_lr, flip_ud, refractory
	X        int    `yaml:"x,omitempty"`
	Y        int    `yaml:"y,omitempty"`
	Width    int    `yaml:"width,omitempty"`
	Height   int    `yaml:"height,omitempty"`
	FactorX  int    `yaml:"factor_x,omitempty"`
	FactorY  int    `yaml:"factor_y,omitempty"`
	PeriodUS int64  `yaml:"period_us,omitempty"`
}

// SourceConfig selects where events come from
type SourceConfig struct {
	Type      string          `yaml:"type"` // synthetic | recording | bridge
	Synthetic SyntheticConfig `yaml:"synthetic"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// SyntheticConfig contains synthetic source settings
type SyntheticConfig struct {
	EventRate float64 `yaml:"event_rate"` // events per second
	Seed      uint64  `yaml:"seed"`
}

// BridgeConfig contains MQTT bridge settings
type BridgeConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
	Buffer   int    `yaml:"buffer"`
}

// RecordConfig tees live events into a recording
type RecordConfig struct {
	Path string `yaml:"path"`
}

// SinksConfig contains frame outputs. Frames always go through the bus.
type SinksConfig struct {
	BusBuffer int           `yaml:"bus_buffer"`
	MQTT      MQTTSink      `yaml:"mqtt"`
	Kafka     KafkaSink     `yaml:"kafka"`
	Preview   PreviewConfig `yaml:"preview"`
}

// MQTTSink contains MQTT frame publisher settings
type MQTTSink struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// KafkaSink contains Kafka frame publisher settings
type KafkaSink struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// PreviewConfig contains GStreamer preview settings
type PreviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Scale   int    `yaml:"scale"`
	Gain    int    `yaml:"gain"`
	Sink    string `yaml:"sink"`
}

// ControlConfig contains MQTT control plane settings
type ControlConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Load reads a YAML configuration file, applies environment overrides and
// validates the result. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(files ...string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
	if len(files) == 0 {
		_ = godotenv.Load()
	}
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVENT_CAPTURE_"

// ApplyEnv overrides cfg fields from EVENT_CAPTURE_* variables.
func ApplyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("INSTANCE_ID", &cfg.InstanceID)
	str("DEVICE", &cfg.Device)
	str("PAUSE_POLICY", &cfg.PausePolicy)
	str("SOURCE", &cfg.Source.Type)
	str("BRIDGE_BROKER", &cfg.Source.Bridge.Broker)
	str("BRIDGE_TOPIC", &cfg.Source.Bridge.Topic)
	str("RECORD_PATH", &cfg.Record.Path)
	str("MQTT_BROKER", &cfg.Sinks.MQTT.Broker)
	str("KAFKA_TOPIC", &cfg.Sinks.Kafka.Topic)
	str("CONTROL_BROKER", &cfg.Control.Broker)

	if v, ok := os.LookupEnv(EnvPrefix + "KAFKA_BROKERS"); ok {
		cfg.Sinks.Kafka.Brokers = splitList(v)
	}

	if err := num("SENSOR_HEIGHT", &cfg.Sensor.Height); err != nil {
		return err
	}
	if err := num("SENSOR_WIDTH", &cfg.Sensor.Width); err != nil {
		return err
	}
	return num("TICK_INTERVAL_MS", &cfg.TickIntervalMS)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
