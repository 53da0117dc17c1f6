// Package convert maps raw sensor timing to belt speed and belt speed to a
// motor drive duty cycle. All functions are pure.
package convert

import (
	"fmt"
	"math"
	"time"
)

// Calibration holds the linear fits measured against the stock console.
// The values are specific to the driven hardware.
type Calibration struct {
	// speed = SpeedSlope * pulseHz + SpeedOffset (km/h)
	SpeedSlope  float64
	SpeedOffset float64

	// duty% = DutySlope * speed + DutyOffset, never below MinDutyPercent
	DutySlope      float64
	DutyOffset     float64
	MinDutyPercent float64
}

// DefaultCalibration returns the fits for the stock motor controller.
func DefaultCalibration() Calibration {
	return Calibration{
		SpeedSlope:     0.517,
		SpeedOffset:    0.353,
		DutySlope:      3.42,
		DutyOffset:     18.6,
		MinDutyPercent: 1.0,
	}
}

// ConversionError reports input the converter cannot evaluate.
type ConversionError struct {
	Period time.Duration
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert: invalid pulse period %v", e.Period)
}

// PeriodToSpeed estimates belt speed in km/h from the time between two
// accepted speed sensor edges. A non-positive period returns a
// *ConversionError.
func (c Calibration) PeriodToSpeed(period time.Duration) (float64, error) {
	if period <= 0 {
		return 0, &ConversionError{Period: period}
	}
	periodMs := float64(period) / float64(time.Millisecond)
	frequency := 1000 / periodMs
	return c.SpeedSlope*frequency + c.SpeedOffset, nil
}

// SpeedToDutyCycle returns the PWM duty cycle (0..1) for a desired speed.
// Zero and negative speeds mean motor off.
func (c Calibration) SpeedToDutyCycle(kph float64) float64 {
	if kph <= 0 {
		return 0
	}
	duty := math.Max(c.MinDutyPercent, c.DutySlope*kph+c.DutyOffset) / 100
	return math.Min(duty, 1)
}

// PeriodToSpeed converts using DefaultCalibration.
func PeriodToSpeed(period time.Duration) (float64, error) {
	return DefaultCalibration().PeriodToSpeed(period)
}

// SpeedToDutyCycle converts using DefaultCalibration.
func SpeedToDutyCycle(kph float64) float64 {
	return DefaultCalibration().SpeedToDutyCycle(kph)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
