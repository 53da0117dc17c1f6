// Package logic contains the pure debounce logic that turns raw pin levels
// and edges into treadmill input events.
// This package has NO external dependencies (no GPIO, channels, or time.Sleep).
// Time is always injectable via time.Time fields.
package logic

import "time"

// Pin identifies one of the watched input lines.
type Pin int

const (
	PinSpeed Pin = iota
	PinIncline
	PinSafety
)

func (p Pin) String() string {
	switch p {
	case PinSpeed:
		return "speed"
	case PinIncline:
		return "incline"
	case PinSafety:
		return "safety"
	}
	return "unknown"
}

// Sample is one polled reading of all input lines. true = electrically high.
// The speed and incline sensors idle high and are pulled low by the motor
// controller; the safety line is high when the key is removed.
type Sample struct {
	Speed   bool
	Incline bool
	Safety  bool
	Time    time.Time
}

// Edge is a single level change reported by an interrupt source.
// High is the level after the transition.
type Edge struct {
	Pin  Pin
	High bool
	Time time.Time
}

// Config holds the debounce thresholds. They are calibration values for the
// attached sensors.
type Config struct {
	// Minimum time between accepted falling edges on the speed sensor.
	SpeedDebounce time.Duration
	// Minimum time between accepted falling edges on the incline sensor.
	InclineDebounce time.Duration
	// Minimum time between accepted safety transitions (edge mode only;
	// polling confirms a level over two consecutive samples instead).
	SafetyDebounce time.Duration
}

// DefaultConfig returns thresholds for the stock sensors. Speed edges arrive
// no faster than ~30ms apart at top speed; the incline sensor is high ~800ms
// and low ~200ms per pulse.
func DefaultConfig() Config {
	return Config{
		SpeedDebounce:   15 * time.Millisecond,
		InclineDebounce: 100 * time.Millisecond,
		SafetyDebounce:  50 * time.Millisecond,
	}
}

// pulseState tracks the last accepted edge of a pulse line.
type pulseState struct {
	// Whether a first edge has been seen to measure from
	primed bool
	// Time of the last accepted edge; only updated on acceptance
	lastAccepted time.Time
}

// safetyState tracks the debounced safety key level.
type safetyState struct {
	// Stable level, true = key removed
	removed bool
	// Candidate level seen once, awaiting confirmation
	pending      bool
	pendingLevel bool
	// Time of the last accepted transition
	lastAccepted time.Time
}

// Counts tracks detector activity since startup.
type Counts struct {
	SpeedPulses   int
	InclinePulses int
	Suppressed    int
	KeyRemovals   int
	KeyInsertions int
}
