// Package config assembles the daemon's hardware and control settings from
// built-in defaults and an optional sectioned config file.
//
// Sample file:
//
//	[pins]
//	chip=gpiochip0
//	speed=17
//	incline=23
//	safety=24
//	incline_up=27
//	incline_down=22
//	[pwm]
//	chip=/sys/class/pwm/pwmchip0
//	channel=0
//	period=50ms
//	[watcher]
//	# poll or interrupts
//	mode=poll
//	poll=10ms
//	# speed sensor
//	debounce=15ms
//	[incline]
//	pulse=5s
//	debounce=100ms
//	[safety]
//	stop_on_removed=true
//	debounce=50ms
//	[calibration]
//	speed_slope=0.517
//	speed_offset=0.353
//	duty_slope=3.42
//	duty_offset=18.6
//	min_duty=1.0
//	[limits]
//	max_speed=20
//	average_window=10
//
// Every key is optional; absent keys keep their defaults. Comments must
// start the line. A key given twice, or with more than one value, is an
// error.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aamcrae/config"

	"github.com/sweeney/treadmill/internal/controller"
	"github.com/sweeney/treadmill/internal/gpio"
	"github.com/sweeney/treadmill/internal/watcher"
)

// Config is the validated daemon configuration.
type Config struct {
	Pins       gpio.Pins
	Watcher    watcher.Config
	Controller controller.Config
	// Interrupts selects edge events instead of polling for the inputs.
	Interrupts bool
}

// Default returns the settings for the reference build.
func Default() Config {
	return Config{
		Pins:       gpio.DefaultPins(),
		Watcher:    watcher.DefaultConfig(),
		Controller: controller.DefaultConfig(),
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	conf, err := config.ParseFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.apply(conf); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) apply(conf *config.Config) error {
	if s := conf.GetSection("pins"); s != nil {
		if err := str(s, "pins", "chip", &c.Pins.Chip); err != nil {
			return err
		}
		for key, dst := range map[string]*int{
			"speed":        &c.Pins.Speed,
			"incline":      &c.Pins.Incline,
			"safety":       &c.Pins.Safety,
			"incline_up":   &c.Pins.InclineUp,
			"incline_down": &c.Pins.InclineDown,
		} {
			if err := integer(s, "pins", key, dst); err != nil {
				return err
			}
		}
	}

	if s := conf.GetSection("pwm"); s != nil {
		if err := str(s, "pwm", "chip", &c.Pins.PWMChip); err != nil {
			return err
		}
		if err := integer(s, "pwm", "channel", &c.Pins.PWMChannel); err != nil {
			return err
		}
		if err := duration(s, "pwm", "period", &c.Controller.PWMPeriod); err != nil {
			return err
		}
	}

	if s := conf.GetSection("watcher"); s != nil {
		var mode string
		if err := str(s, "watcher", "mode", &mode); err != nil {
			return err
		}
		switch mode {
		case "":
		case "poll":
			c.Interrupts = false
		case "interrupts":
			c.Interrupts = true
		default:
			return fmt.Errorf("watcher: unknown mode %q", mode)
		}
		if err := duration(s, "watcher", "poll", &c.Watcher.Poll); err != nil {
			return err
		}
		if err := duration(s, "watcher", "debounce", &c.Watcher.Detector.SpeedDebounce); err != nil {
			return err
		}
	}

	if s := conf.GetSection("incline"); s != nil {
		if err := duration(s, "incline", "pulse", &c.Controller.InclinePulse); err != nil {
			return err
		}
		if err := duration(s, "incline", "debounce", &c.Watcher.Detector.InclineDebounce); err != nil {
			return err
		}
	}

	if s := conf.GetSection("safety"); s != nil {
		if err := boolean(s, "safety", "stop_on_removed", &c.Controller.StopOnKeyRemoved); err != nil {
			return err
		}
		if err := duration(s, "safety", "debounce", &c.Watcher.Detector.SafetyDebounce); err != nil {
			return err
		}
	}

	if s := conf.GetSection("calibration"); s != nil {
		cal := &c.Controller.Calibration
		for key, dst := range map[string]*float64{
			"speed_slope":  &cal.SpeedSlope,
			"speed_offset": &cal.SpeedOffset,
			"duty_slope":   &cal.DutySlope,
			"duty_offset":  &cal.DutyOffset,
			"min_duty":     &cal.MinDutyPercent,
		} {
			if err := float(s, "calibration", key, dst); err != nil {
				return err
			}
		}
	}

	if s := conf.GetSection("limits"); s != nil {
		if err := float(s, "limits", "max_speed", &c.Controller.MaxSpeed); err != nil {
			return err
		}
		if err := integer(s, "limits", "average_window", &c.Controller.AverageWindow); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the settings for values the hardware cannot use.
func (c Config) Validate() error {
	var errs []error

	pins := map[string]int{
		"speed":        c.Pins.Speed,
		"incline":      c.Pins.Incline,
		"safety":       c.Pins.Safety,
		"incline_up":   c.Pins.InclineUp,
		"incline_down": c.Pins.InclineDown,
	}
	seen := make(map[int]string)
	for _, name := range []string{"speed", "incline", "safety", "incline_up", "incline_down"} {
		pin := pins[name]
		if pin < 0 {
			errs = append(errs, fmt.Errorf("pins: %s: negative line %d", name, pin))
			continue
		}
		if other, ok := seen[pin]; ok {
			errs = append(errs, fmt.Errorf("pins: %s and %s share line %d", other, name, pin))
		}
		seen[pin] = name
	}
	if c.Pins.Chip == "" {
		errs = append(errs, errors.New("pins: chip not set"))
	}
	if c.Pins.PWMChannel < 0 {
		errs = append(errs, fmt.Errorf("pwm: negative channel %d", c.Pins.PWMChannel))
	}

	for name, d := range map[string]time.Duration{
		"pwm period":       c.Controller.PWMPeriod,
		"poll interval":    c.Watcher.Poll,
		"incline pulse":    c.Controller.InclinePulse,
		"speed debounce":   c.Watcher.Detector.SpeedDebounce,
		"incline debounce": c.Watcher.Detector.InclineDebounce,
		"safety debounce":  c.Watcher.Detector.SafetyDebounce,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}

	if c.Controller.MaxSpeed <= 0 {
		errs = append(errs, fmt.Errorf("limits: max_speed must be positive, got %g", c.Controller.MaxSpeed))
	}
	if c.Controller.AverageWindow < 1 {
		errs = append(errs, fmt.Errorf("limits: average_window must be at least 1, got %d", c.Controller.AverageWindow))
	}
	if m := c.Controller.Calibration.MinDutyPercent; m <= 0 || m > 100 {
		errs = append(errs, fmt.Errorf("calibration: min_duty must be in (0, 100], got %g", m))
	}
	return errors.Join(errs...)
}

// arg returns the single value of key. ok is false if the key is absent.
func arg(s *config.Section, section, key string) (v string, ok bool, err error) {
	if !s.Has(key) {
		return "", false, nil
	}
	v, err = s.GetArg(key)
	if err != nil {
		return "", true, fmt.Errorf("%s: %s: %v", section, key, err)
	}
	return v, true, nil
}

func str(s *config.Section, section, key string, dst *string) error {
	v, ok, err := arg(s, section, key)
	if ok && err == nil {
		*dst = v
	}
	return err
}

func integer(s *config.Section, section, key string, dst *int) error {
	if _, ok, err := arg(s, section, key); !ok || err != nil {
		return err
	}
	var v int
	n, err := s.Parse(key, "%d", &v)
	if err != nil {
		return fmt.Errorf("%s: %s: %v", section, key, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %s: argument count", section, key)
	}
	*dst = v
	return nil
}

func float(s *config.Section, section, key string, dst *float64) error {
	v, ok, err := arg(s, section, key)
	if !ok || err != nil {
		return err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %s: %v", section, key, err)
	}
	*dst = f
	return nil
}

func duration(s *config.Section, section, key string, dst *time.Duration) error {
	v, ok, err := arg(s, section, key)
	if !ok || err != nil {
		return err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %s: %v", section, key, err)
	}
	*dst = d
	return nil
}

func boolean(s *config.Section, section, key string, dst *bool) error {
	v, ok, err := arg(s, section, key)
	if !ok || err != nil {
		return err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %s: %v", section, key, err)
	}
	*dst = b
	return nil
}
