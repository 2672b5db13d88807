package preview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

// Config contains configuration for the preview pipeline
type Config struct {
	Width  int    // frame width (required)
	Height int    // frame height (required)
	FPS    int    // nominal frame rate for caps (default 30)
	Scale  int    // integer upscaling factor (default 1)
	Gain   int    // brightness per event (default 32)
	Sink   string // GStreamer video sink element (default "autovideosink")
}

// Preview pushes rendered frames into an appsrc pipeline:
//
//	appsrc (GRAY8) → videoconvert → videoscale → capsfilter → videosink
type Preview struct {
	cfg      Config
	pipeline *gst.Pipeline
	src      *app.Source

	mu      sync.Mutex
	running bool

	pushed  atomic.Uint64
	skipped atomic.Uint64
}

// New validates cfg and builds the pipeline (state NULL).
func New(cfg Config) (*Preview, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("preview: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}
	if cfg.Gain <= 0 {
		cfg.Gain = 32
	}
	if cfg.Sink == "" {
		cfg.Sink = "autovideosink"
	}

	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("event-preview")
	if err != nil {
		return nil, fmt.Errorf("preview: failed to create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("preview: failed to create appsrc: %w", err)
	}
	src.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=GRAY8,width=%d,height=%d,framerate=%d/1",
		cfg.Width, cfg.Height, cfg.FPS,
	)))
	src.SetProperty("is-live", true)
	src.SetProperty("do-timestamp", true)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("preview: failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("preview: failed to create videoscale: %w", err)
	}
	// Nearest neighbour keeps individual pixels crisp when upscaling
	scaler.SetProperty("method", 0)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("preview: failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,width=%d,height=%d",
		cfg.Width*cfg.Scale, cfg.Height*cfg.Scale,
	)))

	sink, err := gst.NewElement(cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("preview: failed to create %s: %w", cfg.Sink, err)
	}
	sink.SetProperty("sync", false)

	if err := pipeline.AddMany(src.Element, converter, scaler, capsfilter, sink); err != nil {
		return nil, fmt.Errorf("preview: failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src.Element, converter, scaler, capsfilter, sink); err != nil {
		return nil, fmt.Errorf("preview: failed to link elements: %w", err)
	}

	slog.Debug("preview: pipeline created",
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"scale", cfg.Scale,
		"sink", cfg.Sink,
	)

	return &Preview{cfg: cfg, pipeline: pipeline, src: src}, nil
}

// Start sets the pipeline to PLAYING.
func (p *Preview) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("preview: already running")
	}
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("preview: failed to start pipeline: %w", err)
	}
	p.running = true

	slog.Info("preview: window opened", "sink", p.cfg.Sink)
	return nil
}

// Emit renders frame and pushes it into the pipeline. Frames whose shape does
// not match the configured size are skipped. Implements eventcapture.FrameSink.
func (p *Preview) Emit(_ context.Context, frame eventcapture.Frame) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return fmt.Errorf("preview: not running")
	}

	if frame.Shape.Height != p.cfg.Height || frame.Shape.Width != p.cfg.Width {
		p.skipped.Add(1)
		return nil
	}

	img := Render(frame, p.cfg.Gain)
	if ret := p.src.PushBuffer(gst.NewBufferFromBytes(img)); ret != gst.FlowOK {
		return fmt.Errorf("preview: push failed: %s", ret.String())
	}
	p.pushed.Add(1)
	return nil
}

// Pushed returns the number of frames shown.
func (p *Preview) Pushed() uint64 {
	return p.pushed.Load()
}

// Close sends EOS and tears the pipeline down.
func (p *Preview) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	p.src.EndStream()
	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("preview: failed to stop pipeline: %w", err)
	}

	slog.Info("preview: window closed",
		"frames_pushed", p.pushed.Load(),
		"frames_skipped", p.skipped.Load(),
	)
	return nil
}
