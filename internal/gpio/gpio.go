// Package gpio provides pin and PWM access with hardware abstraction.
// The real implementation uses the Linux GPIO character device for lines
// and sysfs for the hardware PWM channel.
// The fake implementations allow testing without hardware.
package gpio

import (
	"time"

	"github.com/sweeney/treadmill/internal/logic"
)

// Levels is one reading of the input lines. true = electrically high.
type Levels struct {
	Speed   bool
	Incline bool
	Safety  bool
}

// Reader samples the input lines.
type Reader interface {
	// Read returns the current raw levels of all watched inputs.
	Read() (Levels, error)

	// Close releases GPIO resources.
	Close() error
}

// EdgeSource delivers input transitions as they happen (interrupt mode).
type EdgeSource interface {
	// Edges returns the stream of transitions. It is closed by Close.
	Edges() <-chan logic.Edge

	// Close releases GPIO resources.
	Close() error
}

// Output drives a single digital output.
type Output interface {
	Set(high bool) error
	Close() error
}

// PWM drives the motor speed actuator. Duty cycle is a fraction 0..1.
type PWM interface {
	SetPeriod(period time.Duration) error
	SetDutyCycle(duty float64) error
	DutyCycle() (float64, error)
	Enable() error
	Disable() error
	IsEnabled() (bool, error)
	Close() error
}

// Pins holds the line assignments (BCM numbering).
type Pins struct {
	Chip        string // GPIO character device, e.g. "gpiochip0"
	Speed       int    // speed sensor input
	Incline     int    // incline sensor input
	Safety      int    // safety key switch input
	InclineUp   int    // incline motor up output
	InclineDown int    // incline motor down output
	PWMChip     string // sysfs PWM chip directory
	PWMChannel  int    // hardware PWM channel (channel 0 is BCM 18)
}

// DefaultPins returns the wiring of the reference build.
func DefaultPins() Pins {
	return Pins{
		Chip:        "gpiochip0",
		Speed:       17,
		Incline:     23,
		Safety:      24,
		InclineUp:   27,
		InclineDown: 22,
		PWMChip:     "/sys/class/pwm/pwmchip0",
		PWMChannel:  0,
	}
}
