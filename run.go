package eventcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Control is a host-runtime command delivered to Run.
type Control int

const (
	// ControlPause stops ticking and records the pause time.
	ControlPause Control = iota
	// ControlResume restarts ticking; the next Step handles the paused interval.
	ControlResume
)

// String returns the command name.
func (c Control) String() string {
	switch c {
	case ControlPause:
		return "pause"
	case ControlResume:
		return "resume"
	default:
		return fmt.Sprintf("control(%d)", int(c))
	}
}

// Run drives the camera at a fixed host tick until ctx is cancelled or a Step
// fails. Pause and resume commands arrive on control (which may be nil) and are
// applied on the tick goroutine, so the camera is never touched concurrently.
//
// Run calls Start if the camera has not been started. It returns nil when ctx
// is cancelled and the Step error otherwise.
func (c *EventCamera) Run(ctx context.Context, interval time.Duration, control <-chan Control) error {
	if interval <= 0 {
		return fmt.Errorf("event-capture: tick interval must be positive, got %v", interval)
	}

	if !c.started {
		if err := c.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	paused := false

	slog.Info("event-capture: run loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("event-capture: run loop stopped", "reason", ctx.Err())
			return nil

		case cmd, ok := <-control:
			if !ok {
				control = nil
				continue
			}
			switch cmd {
			case ControlPause:
				if !paused {
					paused = true
					c.Pause()
				}
			case ControlResume:
				paused = false
			default:
				slog.Warn("event-capture: unknown control command", "command", cmd.String())
			}

		case <-ticker.C:
			if paused {
				continue
			}
			if err := c.Step(ctx); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return nil
				}
				slog.Error("event-capture: tick failed", "error", err)
				return err
			}
		}
	}
}
