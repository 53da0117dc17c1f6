//go:build linux

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const verifyTimeout = 2 * time.Second

// SysfsPWM drives a hardware PWM channel through /sys/class/pwm.
type SysfsPWM struct {
	chip    string
	channel int
	dir     string

	period time.Duration
	duty   float64
}

// NewSysfsPWM exports channel on the PWM chip directory (e.g.
// /sys/class/pwm/pwmchip0) and waits for its attribute files to become
// writable. The channel starts disabled.
func NewSysfsPWM(chip string, channel int) (*SysfsPWM, error) {
	p := &SysfsPWM{
		chip:    chip,
		channel: channel,
		dir:     filepath.Join(chip, fmt.Sprintf("pwm%d", channel)),
	}

	period := filepath.Join(p.dir, "period")
	if err := unix.Access(period, unix.W_OK|unix.R_OK); err != nil {
		if err := writeFile(filepath.Join(chip, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("export pwm%d: %w", channel, err)
		}
		for _, f := range []string{"period", "duty_cycle", "enable"} {
			if err := verifyFile(filepath.Join(p.dir, f)); err != nil {
				return nil, err
			}
		}
	}

	if err := p.Disable(); err != nil {
		return nil, err
	}
	return p, nil
}

// SetPeriod sets the PWM period and re-applies the current duty fraction.
// The kernel rejects a duty cycle longer than the period, so the duty is
// zeroed first.
func (p *SysfsPWM) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("pwm%d: invalid period %v", p.channel, period)
	}
	if err := p.writeAttr("duty_cycle", 0); err != nil {
		return err
	}
	if err := p.writeAttr("period", period.Nanoseconds()); err != nil {
		return err
	}
	p.period = period
	return p.SetDutyCycle(p.duty)
}

// SetDutyCycle sets the active fraction of the period, 0..1.
func (p *SysfsPWM) SetDutyCycle(duty float64) error {
	if duty < 0 || duty > 1 {
		return fmt.Errorf("pwm%d: invalid duty cycle %.4f", p.channel, duty)
	}
	if p.period == 0 {
		return fmt.Errorf("pwm%d: period not set", p.channel)
	}
	ns := int64(float64(p.period.Nanoseconds()) * duty)
	if err := p.writeAttr("duty_cycle", ns); err != nil {
		return err
	}
	p.duty = duty
	return nil
}

// DutyCycle reads the active fraction back from the kernel.
func (p *SysfsPWM) DutyCycle() (float64, error) {
	ns, err := p.readAttr("duty_cycle")
	if err != nil {
		return 0, err
	}
	period, err := p.readAttr("period")
	if err != nil {
		return 0, err
	}
	if period == 0 {
		return 0, nil
	}
	return float64(ns) / float64(period), nil
}

// Enable turns the output on.
func (p *SysfsPWM) Enable() error {
	return p.writeAttr("enable", 1)
}

// Disable turns the output off.
func (p *SysfsPWM) Disable() error {
	return p.writeAttr("enable", 0)
}

// IsEnabled reads the enable attribute.
func (p *SysfsPWM) IsEnabled() (bool, error) {
	v, err := p.readAttr("enable")
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// Close disables the output and unexports the channel.
func (p *SysfsPWM) Close() error {
	var errs []error
	if err := p.Disable(); err != nil {
		errs = append(errs, err)
	}
	if err := writeFile(filepath.Join(p.chip, "unexport"), strconv.Itoa(p.channel)); err != nil {
		errs = append(errs, fmt.Errorf("unexport pwm%d: %w", p.channel, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (p *SysfsPWM) writeAttr(name string, v int64) error {
	if err := writeFile(filepath.Join(p.dir, name), strconv.FormatInt(v, 10)); err != nil {
		return fmt.Errorf("pwm%d %s: %w", p.channel, name, err)
	}
	return nil
}

func (p *SysfsPWM) readAttr(name string) (int64, error) {
	b, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		return 0, fmt.Errorf("pwm%d %s: %w", p.channel, name, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pwm%d %s: %w", p.channel, name, err)
	}
	return v, nil
}

// writeFile writes s to an existing sysfs attribute.
func writeFile(name, s string) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(s))
	return err
}

// verifyFile waits for a freshly exported attribute to become writable.
// udev applies permissions shortly after export.
func verifyFile(name string) error {
	sl := time.Millisecond
	for waited := time.Duration(0); waited < verifyTimeout; waited += sl {
		if err := unix.Access(name, unix.W_OK); err == nil {
			return nil
		}
		time.Sleep(sl)
	}
	return fmt.Errorf("%s: not writable", name)
}
