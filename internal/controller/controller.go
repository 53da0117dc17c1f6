// Package controller implements the hardware Treadmill: it owns the motor
// PWM and the incline outputs, and merges user commands with debounced
// sensor input in a single select loop.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/asecurityteam/rolling"

	"github.com/sweeney/treadmill/internal/convert"
	"github.com/sweeney/treadmill/internal/gpio"
	"github.com/sweeney/treadmill/internal/treadmill"
)

// dutyEpsilon is the smallest duty change worth a PWM write.
const dutyEpsilon = 1e-4

// Hardware holds the actuators the controller takes ownership of. They are
// closed when Run returns.
type Hardware struct {
	PWM         gpio.PWM
	InclineUp   gpio.Output
	InclineDown gpio.Output
}

// Config holds controller settings.
type Config struct {
	// PWMPeriod is the motor drive PWM period.
	PWMPeriod time.Duration
	// InclinePulse is how long a raise or lower drives the incline motor.
	InclinePulse time.Duration
	// StopOnKeyRemoved forces Idle when the safety key is pulled and
	// refuses to start or move the incline while it is out.
	StopOnKeyRemoved bool
	// MaxSpeed is the highest accepted SetSpeed, km/h.
	MaxSpeed float64
	// AverageWindow is the number of speed samples averaged.
	AverageWindow int
	// Calibration maps speed to duty cycle and pulse period to speed.
	Calibration convert.Calibration
}

// DefaultConfig returns the settings for the stock motor controller.
func DefaultConfig() Config {
	return Config{
		PWMPeriod:        50 * time.Millisecond,
		InclinePulse:     5 * time.Second,
		StopOnKeyRemoved: true,
		MaxSpeed:         20,
		AverageWindow:    10,
		Calibration:      convert.DefaultCalibration(),
	}
}

// State is the motor state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateTerminal:
		return "TERMINAL"
	}
	return "UNKNOWN"
}

// Controller drives the treadmill hardware. It implements treadmill.Treadmill.
type Controller struct {
	cfg    Config
	hw     Hardware
	inputs <-chan treadmill.InputEvent

	// after arms the incline deadline; replaced in tests.
	after func(time.Duration) <-chan time.Time
	emit  func(treadmill.Event)

	state  State
	target float64 // commanded km/h
	duty   float64

	currentSpeed float64 // measured km/h, rounded to 2dp
	speeds       *rolling.PointPolicy

	keyRemoved bool
	inputsLost bool

	incline     int
	inclineDir  int // +1 raising, -1 lowering, 0 stopped
	inclineDone <-chan time.Time
}

var _ treadmill.Treadmill = (*Controller)(nil)

// New acquires the actuators and puts them in a known safe state: PWM
// disabled at zero duty with the configured period, incline outputs low.
// inputs carries debounced events from the watcher. Any failure is returned
// as a *treadmill.SetupError and the caller still owns the hardware.
func New(cfg Config, hw Hardware, inputs <-chan treadmill.InputEvent) (*Controller, error) {
	if hw.PWM == nil {
		return nil, &treadmill.SetupError{Resource: "pwm", Err: errors.New("not configured")}
	}
	if hw.InclineUp == nil || hw.InclineDown == nil {
		return nil, &treadmill.SetupError{Resource: "incline outputs", Err: errors.New("not configured")}
	}
	if cfg.AverageWindow < 1 {
		return nil, &treadmill.SetupError{Resource: "speed average", Err: fmt.Errorf("window %d must be positive", cfg.AverageWindow)}
	}

	if err := hw.PWM.Disable(); err != nil {
		return nil, &treadmill.SetupError{Resource: "pwm", Err: err}
	}
	if err := hw.PWM.SetPeriod(cfg.PWMPeriod); err != nil {
		return nil, &treadmill.SetupError{Resource: "pwm period", Err: err}
	}
	if err := hw.PWM.SetDutyCycle(0); err != nil {
		return nil, &treadmill.SetupError{Resource: "pwm duty cycle", Err: err}
	}
	if err := hw.InclineUp.Set(false); err != nil {
		return nil, &treadmill.SetupError{Resource: "incline up", Err: err}
	}
	if err := hw.InclineDown.Set(false); err != nil {
		return nil, &treadmill.SetupError{Resource: "incline down", Err: err}
	}

	return &Controller{
		cfg:    cfg,
		hw:     hw,
		inputs: inputs,
		after:  time.After,
		emit:   func(treadmill.Event) {},
		speeds: rolling.NewPointPolicy(rolling.NewWindow(cfg.AverageWindow)),
	}, nil
}

// Run processes commands and input events until Shutdown, a closed command
// channel or ctx cancellation. The motor is stopped and all actuators are
// released before Run returns. Only ctx cancellation returns an error.
func (c *Controller) Run(ctx context.Context, commands <-chan treadmill.Command, events chan<- treadmill.Event) error {
	c.emit = func(e treadmill.Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}
	defer c.release()

	inputs := c.inputs
	for {
		select {
		case <-ctx.Done():
			c.terminate()
			return ctx.Err()

		case cmd, ok := <-commands:
			if !ok {
				log.Printf("controller: command channel closed, shutting down")
				c.terminate()
				return nil
			}
			c.handleCommand(cmd)
			if c.state == StateTerminal {
				return nil
			}

		case in, ok := <-inputs:
			if !ok {
				inputs = nil
				c.inputsLost = true
				c.emit(treadmill.Message("input watcher stopped"))
				// Without inputs the safety key is unmonitored
				if c.cfg.StopOnKeyRemoved {
					c.stopIncline()
					if c.state == StateRunning {
						c.stop()
					}
				}
				continue
			}
			c.handleInput(in)

		case <-c.inclineDone:
			c.finishIncline()
		}
	}
}

func (c *Controller) handleCommand(cmd treadmill.Command) {
	switch cmd.Kind {
	case treadmill.CommandSetSpeed:
		c.setSpeed(cmd.Speed)
	case treadmill.CommandRaiseIncline:
		c.moveIncline(1)
	case treadmill.CommandLowerIncline:
		c.moveIncline(-1)
	case treadmill.CommandShutdown:
		c.terminate()
	default:
		c.emit(treadmill.Message("unknown command %q", cmd.Kind))
	}
}

func (c *Controller) handleInput(in treadmill.InputEvent) {
	switch in.Kind {
	case treadmill.InputSpeedPulse:
		c.speedPulse(in.Period)
	case treadmill.InputInclinePulse:
		c.inclinePulse(in.Period)
	case treadmill.InputSafetyKeyRemoved:
		c.keyRemoved = true
		c.emit(treadmill.KeyRemoved())
		if c.cfg.StopOnKeyRemoved {
			c.stopIncline()
			if c.state == StateRunning {
				c.stop()
			}
		}
	case treadmill.InputSafetyKeyInserted:
		c.keyRemoved = false
		c.emit(treadmill.KeyInserted())
	}
}

func (c *Controller) setSpeed(kph float64) {
	if kph < 0 {
		kph = 0
	}
	if kph > c.cfg.MaxSpeed {
		c.emit(treadmill.Message("speed %.2f above limit %.2f, ignored", kph, c.cfg.MaxSpeed))
		return
	}
	if kph == 0 {
		if c.state == StateRunning {
			c.stop()
			return
		}
		c.emit(treadmill.SpeedChanged(0))
		return
	}
	if c.cfg.StopOnKeyRemoved {
		switch {
		case c.keyRemoved:
			c.emit(treadmill.Message("safety key removed, insert key to start"))
			return
		case c.inputsLost:
			c.emit(treadmill.Message("safety key unmonitored, cannot start"))
			return
		}
	}

	duty := c.cfg.Calibration.SpeedToDutyCycle(kph)

	if c.state == StateIdle {
		if err := c.hw.PWM.Enable(); err != nil {
			c.pwmError("enable pwm", err)
			return
		}
		if err := c.hw.PWM.SetDutyCycle(duty); err != nil {
			c.pwmError("set duty cycle", err)
			return
		}
		c.state = StateRunning
		c.duty = duty
		c.target = kph
		c.emit(treadmill.SpeedChanged(kph))
		return
	}

	if math.Abs(duty-c.duty) > dutyEpsilon {
		if err := c.hw.PWM.SetDutyCycle(duty); err != nil {
			c.pwmError("set duty cycle", err)
			return
		}
		c.duty = duty
	}
	c.target = kph
	c.emit(treadmill.SpeedChanged(kph))
}

// stop moves Running to Idle. State changes even when a write fails so a
// later SetSpeed re-enables from scratch.
func (c *Controller) stop() {
	if err := c.hw.PWM.SetDutyCycle(0); err != nil {
		c.pwmError("set duty cycle", err)
	} else {
		c.duty = 0
	}
	if err := c.hw.PWM.Disable(); err != nil {
		c.pwmError("disable pwm", err)
	}
	c.state = StateIdle
	c.target = 0
	c.emit(treadmill.SpeedChanged(0))
}

func (c *Controller) terminate() {
	c.stopIncline()
	if c.state == StateRunning {
		c.stop()
	}
	c.state = StateTerminal
}

func (c *Controller) speedPulse(period time.Duration) {
	kph, err := c.cfg.Calibration.PeriodToSpeed(period)
	if err != nil {
		c.emit(treadmill.Message("%v", err))
		return
	}

	c.speeds.Append(kph)

	avg := convert.Round2(c.speeds.Reduce(rolling.Avg))
	if avg != c.currentSpeed {
		c.currentSpeed = avg
		c.emit(treadmill.SpeedChanged(avg))
	}
}

func (c *Controller) moveIncline(dir int) {
	if c.cfg.StopOnKeyRemoved {
		switch {
		case c.keyRemoved:
			c.emit(treadmill.Message("safety key removed, incline locked"))
			return
		case c.inputsLost:
			c.emit(treadmill.Message("safety key unmonitored, incline locked"))
			return
		}
	}

	on, off := c.hw.InclineUp, c.hw.InclineDown
	if dir < 0 {
		on, off = off, on
	}

	// Never drive both directions at once
	if c.inclineDir == -dir {
		if err := off.Set(false); err != nil {
			c.actuatorError("deassert incline "+dirName(-dir), err)
			return
		}
		c.inclineDir = 0
		c.inclineDone = nil
	}
	if c.inclineDir != dir {
		if err := on.Set(true); err != nil {
			c.actuatorError("assert incline "+dirName(dir), err)
			return
		}
		c.inclineDir = dir
	}
	c.inclineDone = c.after(c.cfg.InclinePulse)
}

func (c *Controller) finishIncline() {
	dir := c.inclineDir
	if !c.stopIncline() {
		return
	}
	if dir > 0 {
		c.emit(treadmill.Message("done raising incline"))
	} else {
		c.emit(treadmill.Message("done lowering incline"))
	}
}

// stopIncline de-asserts the active incline output. It reports whether the
// motor was running and has been stopped.
func (c *Controller) stopIncline() bool {
	if c.inclineDir == 0 {
		return false
	}
	out := c.hw.InclineUp
	if c.inclineDir < 0 {
		out = c.hw.InclineDown
	}
	c.inclineDone = nil
	if err := out.Set(false); err != nil {
		c.actuatorError("deassert incline "+dirName(c.inclineDir), err)
		return false
	}
	c.inclineDir = 0
	return true
}

func (c *Controller) inclinePulse(period time.Duration) {
	if c.inclineDir == 0 {
		c.emit(treadmill.Message("incline changed, period: %d ms", period.Milliseconds()))
		return
	}
	next := c.incline + c.inclineDir
	if next < 0 {
		next = 0
	}
	if next == c.incline {
		return
	}
	c.incline = next
	c.emit(treadmill.InclineChanged(c.incline))
}

func (c *Controller) actuatorError(op string, err error) {
	werr := &treadmill.ActuatorWriteError{Op: op, Err: err}
	c.emit(treadmill.Message("%v", werr))
}

// release drives every actuator inactive and closes it.
func (c *Controller) release() {
	if err := c.hw.PWM.SetDutyCycle(0); err != nil {
		log.Printf("controller: release pwm duty: %v", err)
	}
	if err := c.hw.PWM.Disable(); err != nil {
		log.Printf("controller: release pwm: %v", err)
	}
	if err := c.hw.PWM.Close(); err != nil {
		log.Printf("controller: close pwm: %v", err)
	}
	for name, out := range map[string]gpio.Output{"up": c.hw.InclineUp, "down": c.hw.InclineDown} {
		if err := out.Set(false); err != nil {
			log.Printf("controller: release incline %s: %v", name, err)
		}
		if err := out.Close(); err != nil {
			log.Printf("controller: close incline %s: %v", name, err)
		}
	}
}

// pwmError reports a failed PWM write with the state read back from the
// hardware, and adopts the read-back duty as the last known one.
func (c *Controller) pwmError(op string, err error) {
	werr := &treadmill.ActuatorWriteError{Op: op, Err: err}
	duty, derr := c.hw.PWM.DutyCycle()
	enabled, eerr := c.hw.PWM.IsEnabled()
	if derr != nil || eerr != nil {
		c.emit(treadmill.Message("%v (pwm state unknown)", werr))
		return
	}
	c.duty = duty
	c.emit(treadmill.Message("%v (pwm duty %.4f, enabled %t)", werr, duty, enabled))
}

func dirName(dir int) string {
	if dir > 0 {
		return "up"
	}
	return "down"
}
