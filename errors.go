package eventcapture

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("event-capture: invalid configuration")

	// ErrUnimplemented marks features that are declared but not available.
	ErrUnimplemented = errors.New("event-capture: not implemented")

	// ErrBiasesNotImplemented is returned by Start when biases are configured.
	ErrBiasesNotImplemented = fmt.Errorf("biases are not implemented: %w", ErrUnimplemented)

	// ErrPauseNotImplemented is returned by Step on resume under PauseFail.
	ErrPauseNotImplemented = fmt.Errorf("pause handling not implemented: %w", ErrUnimplemented)

	// ErrNotStarted is returned by Step before Start.
	ErrNotStarted = errors.New("event-capture: camera not started")
)

// ConfigurationError is a construction-time failure. No camera is returned with it.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "event-capture: "
	if e.Field != "" {
		msg += e.Field + ": "
	}
	msg += e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConfiguration) true for any ConfigurationError.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
