package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/framebus"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration (empty: defaults + EVENT_CAPTURE_* env)")
	envFile := flag.String("env", "", "Optional .env file loaded before the configuration")
	debug := flag.Bool("debug", false, "Enable debug logging")
	jsonLogs := flag.Bool("json", false, "Emit logs as JSON")
	statsAddr := flag.String("statsview", "", "Serve runtime charts at this address (e.g. localhost:18066)")
	statsInterval := flag.Int("stats-interval", 10, "Statistics print interval in seconds (0 disables)")
	maxFrames := flag.Int("max-frames", 0, "Stop after N frames (0 = unlimited)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("event-capture %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if *jsonLogs {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
	}

	if *envFile != "" {
		config.LoadDotEnv(*envFile)
	} else {
		config.LoadDotEnv()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, *statsAddr, time.Duration(*statsInterval)*time.Second, *maxFrames); err != nil {
		slog.Error("event-capture stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("event-capture stopped")
}

func run(cfg *config.Config, statsAddr string, statsEvery time.Duration, maxFrames int) error {
	camCfg, err := config.CameraConfig(cfg)
	if err != nil {
		return err
	}

	src, err := buildSource(cfg)
	if err != nil {
		return err
	}

	bus := framebus.New()
	cam, err := eventcapture.NewEventCamera(camCfg, src.EventSource, bus)
	if err != nil {
		src.close()
		return fmt.Errorf("failed to create camera: %w", err)
	}
	shape := cam.OutputShape()

	printBanner(cfg, shape)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks, err := startSinks(ctx, cfg, bus, shape)
	if err != nil {
		cam.Close()
		return err
	}

	var wg sync.WaitGroup
	frames := make(chan eventcapture.Frame, cfg.Sinks.BusBuffer)
	if err := bus.Subscribe("log", frames); err != nil {
		sinks.close()
		cam.Close()
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logFrames(ctx, frames, maxFrames, cancel)
	}()
	sinks.run(ctx, &wg)

	if statsAddr != "" {
		go func() {
			viewer.SetConfiguration(viewer.WithAddr(statsAddr))
			mgr := statsview.New()
			mgr.Start()
		}()
		slog.Info("statsview available", "url", fmt.Sprintf("http://%s/debug/statsview", statsAddr))
	}

	startTime := time.Now()
	if statsEvery > 0 {
		go func() {
			ticker := time.NewTicker(statsEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					printStats(time.Since(startTime), cam.Stats(), bus.Stats(), src, sinks)
				}
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	control := make(chan eventcapture.Control, 1)
	var paused atomic.Bool
	request := func(cmd eventcapture.Control) error {
		select {
		case control <- cmd:
			paused.Store(cmd == eventcapture.ControlPause)
			slog.Info("Acquisition control", "command", cmd.String())
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				if sig != syscall.SIGUSR1 {
					fmt.Printf("\n\nReceived %s, shutting down...\n", sig)
					cancel()
					return
				}
				next := eventcapture.ControlPause
				if paused.Load() {
					next = eventcapture.ControlResume
				}
				_ = request(next)
			}
		}
	}()

	if cfg.Control.Enabled {
		handler, err := startControl(ctx, cfg, cam, request, paused.Load, cancel)
		if err != nil {
			cancel()
			bus.Close()
			wg.Wait()
			sinks.close()
			cam.Close()
			return err
		}
		defer handler.Stop()
	}

	runErr := cam.Run(ctx, cfg.TickInterval(), control)
	cancel()

	slog.Info("Stopping sinks...")
	bus.Close()
	wg.Wait()
	sinks.close()
	if err := cam.Close(); err != nil {
		slog.Error("Error closing source", "error", err)
	}

	printFinalStats(time.Since(startTime), cam.Stats(), bus.Stats(), src, sinks)
	return runErr
}

func logFrames(ctx context.Context, frames <-chan eventcapture.Frame, maxFrames int, stop context.CancelFunc) {
	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			count++
			slog.Debug("frame",
				"seq", frame.Seq,
				"events", frame.Events,
				"span_us", frame.SpanMicros,
				"empty", frame.Empty,
				"trace_id", frame.TraceID,
			)
			if maxFrames > 0 && count >= maxFrames {
				fmt.Printf("\nReached maximum frames (%d), stopping...\n", maxFrames)
				stop()
				return
			}
		}
	}
}

func printBanner(cfg *config.Config, shape eventcapture.EventVolume) {
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║              Event Capture %-31s║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Instance:      %s\n", cfg.InstanceID)
	fmt.Printf("  Sensor:        %dx%d\n", cfg.Sensor.Width, cfg.Sensor.Height)
	fmt.Printf("  Source:        %s\n", describeSource(cfg))
	fmt.Printf("  Transforms:    %d\n", len(cfg.Transforms))
	fmt.Printf("  Output Shape:  %s\n", shape)
	fmt.Printf("  Tick Interval: %s\n", cfg.TickInterval())
	fmt.Printf("  Pause Policy:  %s\n", pausePolicyName(cfg.PausePolicy))
	if cfg.Record.Path != "" {
		fmt.Printf("  Recording To:  %s\n", cfg.Record.Path)
	}
	fmt.Printf("\n")
	fmt.Printf("Press Ctrl+C to stop, send SIGUSR1 to pause/resume\n")
	fmt.Printf("\n")
}

func describeSource(cfg *config.Config) string {
	switch cfg.Source.Type {
	case config.SourceRecording:
		return "recording " + cfg.Device
	case config.SourceBridge:
		return fmt.Sprintf("bridge %s (%s)", cfg.Source.Bridge.Broker, cfg.Source.Bridge.Topic)
	default:
		return fmt.Sprintf("synthetic %.0f ev/s", cfg.Source.Synthetic.EventRate)
	}
}

func pausePolicyName(s string) string {
	p, err := eventcapture.ParsePausePolicy(s)
	if err != nil {
		return s
	}
	return p.String()
}
