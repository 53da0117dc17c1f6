package treadmill

import (
	"errors"
	"fmt"
)

// ErrChannelClosed is returned when the peer end of a channel has gone away.
var ErrChannelClosed = errors.New("treadmill: channel closed")

// SetupError reports a failure to acquire a pin or actuator channel at
// startup. It is fatal to controller construction.
type SetupError struct {
	Resource string // e.g. "pwm0", "incline up pin 27"
	Err      error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s: %v", e.Resource, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ActuatorWriteError reports a runtime failure writing to the PWM or a GPIO
// output. The actuator is left in its last known state.
type ActuatorWriteError struct {
	Op  string // e.g. "set duty cycle", "assert incline up"
	Err error
}

func (e *ActuatorWriteError) Error() string {
	return fmt.Sprintf("actuator %s: %v", e.Op, e.Err)
}

func (e *ActuatorWriteError) Unwrap() error { return e.Err }
