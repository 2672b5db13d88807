package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/framebus"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/preview"
)

// outputs holds the optional frame consumers behind the bus.
type outputs struct {
	mqtt    *emitter.MQTTEmitter
	kafka   *emitter.KafkaEmitter
	preview *preview.Preview

	mqttFrames  chan eventcapture.Frame
	kafkaFrames chan eventcapture.Frame
	latest      *framebus.Latest
}

func startSinks(ctx context.Context, cfg *config.Config, bus *framebus.Bus, shape eventcapture.EventVolume) (*outputs, error) {
	o := &outputs{}
	s := cfg.Sinks

	if s.MQTT.Enabled {
		e, err := emitter.NewMQTTEmitter(emitter.MQTTConfig{
			Broker:   s.MQTT.Broker,
			Topic:    s.MQTT.Topic,
			ClientID: s.MQTT.ClientID,
			Source:   cfg.InstanceID,
			QoS:      s.MQTT.QoS,
		})
		if err != nil {
			return nil, err
		}
		if err := e.Connect(ctx); err != nil {
			return nil, err
		}
		o.mqtt = e
		o.mqttFrames = make(chan eventcapture.Frame, s.BusBuffer)
		if err := bus.Subscribe("mqtt", o.mqttFrames); err != nil {
			o.close()
			return nil, err
		}
	}

	if s.Kafka.Enabled {
		k, err := emitter.NewKafkaEmitter(emitter.KafkaConfig{
			Brokers: s.Kafka.Brokers,
			Topic:   s.Kafka.Topic,
			Source:  cfg.InstanceID,
		})
		if err != nil {
			o.close()
			return nil, err
		}
		o.kafka = k
		o.kafkaFrames = make(chan eventcapture.Frame, s.BusBuffer)
		if err := bus.Subscribe("kafka", o.kafkaFrames); err != nil {
			o.close()
			return nil, err
		}
	}

	if s.Preview.Enabled {
		p, err := preview.New(preview.Config{
			Width:  shape.Width,
			Height: shape.Height,
			FPS:    int(1000 / max(cfg.TickIntervalMS, 1)),
			Scale:  s.Preview.Scale,
			Gain:   s.Preview.Gain,
			Sink:   s.Preview.Sink,
		})
		if err != nil {
			o.close()
			return nil, err
		}
		if err := p.Start(); err != nil {
			o.close()
			return nil, err
		}
		o.preview = p
		// The window only ever wants the newest frame
		latest, err := bus.SubscribeLatest("preview")
		if err != nil {
			o.close()
			return nil, err
		}
		o.latest = latest
	}

	return o, nil
}

// run starts one goroutine per enabled output.
func (o *outputs) run(ctx context.Context, wg *sync.WaitGroup) {
	if o.mqtt != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, "mqtt", o.mqttFrames, o.mqtt)
		}()
	}
	if o.kafka != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, "kafka", o.kafkaFrames, o.kafka)
		}()
	}
	if o.preview != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				frame, ok := o.latest.Receive(ctx)
				if !ok {
					return
				}
				if err := o.preview.Emit(ctx, frame); err != nil {
					slog.Warn("Preview emit failed", "error", err, "seq", frame.Seq)
				}
			}
		}()
	}
}

// forward drains frames into a blocking sink until ctx is done.
func forward(ctx context.Context, name string, frames <-chan eventcapture.Frame, sink eventcapture.FrameSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			err := sink.Emit(ctx, frame)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			default:
				slog.Warn("Frame publish failed", "sink", name, "error", err, "seq", frame.Seq)
			}
		}
	}
}

func (o *outputs) close() {
	if o.mqtt != nil {
		if err := o.mqtt.Disconnect(); err != nil {
			slog.Error("Error disconnecting MQTT emitter", "error", err)
		}
	}
	if o.kafka != nil {
		if err := o.kafka.Close(); err != nil {
			slog.Error("Error closing Kafka writer", "error", err)
		}
	}
	if o.preview != nil {
		if err := o.preview.Close(); err != nil {
			slog.Error("Error closing preview", "error", err)
		}
	}
}
