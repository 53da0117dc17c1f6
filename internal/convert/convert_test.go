package convert

import (
	"errors"
	"math"
	"testing"
	"time"
)

const epsilon = 1e-9

func TestSpeedToDutyCycleOffForNonPositive(t *testing.T) {
	for _, kph := range []float64{0, -0.1, -5, math.Inf(-1)} {
		if got := SpeedToDutyCycle(kph); got != 0 {
			t.Errorf("SpeedToDutyCycle(%v) = %v, want 0", kph, got)
		}
	}
}

func TestSpeedToDutyCycleMinimumDrive(t *testing.T) {
	for _, kph := range []float64{1e-9, 0.001, 0.5, 1, 6, 12, 20} {
		if got := SpeedToDutyCycle(kph); got < 0.01 {
			t.Errorf("SpeedToDutyCycle(%v) = %v, want >= 0.01", kph, got)
		}
	}
}

func TestSpeedToDutyCycleClampsLowFit(t *testing.T) {
	// A negative offset makes the fit fall below the floor for slow speeds.
	c := DefaultCalibration()
	c.DutyOffset = -10
	if got := c.SpeedToDutyCycle(0.5); math.Abs(got-0.01) > epsilon {
		t.Errorf("expected floor of 0.01, got %v", got)
	}
}

func TestSpeedToDutyCycleKnownValues(t *testing.T) {
	tests := []struct {
		kph  float64
		want float64
	}{
		{6.0, 0.3912},
		{1.0, 0.2202},
		{10.0, 0.528},
		{30.0, 1.0}, // fit exceeds 100%
	}
	for _, tt := range tests {
		got := SpeedToDutyCycle(tt.kph)
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("SpeedToDutyCycle(%v) = %v, want %v", tt.kph, got, tt.want)
		}
	}
}

func TestPeriodToSpeed(t *testing.T) {
	tests := []struct {
		period time.Duration
		want   float64
	}{
		{1000 * time.Millisecond, 0.517 + 0.353},
		{100 * time.Millisecond, 5.17 + 0.353},
		{50 * time.Millisecond, 10.34 + 0.353},
		{1500 * time.Microsecond, 0.517*1000/1.5 + 0.353},
	}
	for _, tt := range tests {
		got, err := PeriodToSpeed(tt.period)
		if err != nil {
			t.Fatalf("PeriodToSpeed(%v): unexpected error: %v", tt.period, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("PeriodToSpeed(%v) = %v, want %v", tt.period, got, tt.want)
		}
	}
}

func TestPeriodToSpeedMonotonic(t *testing.T) {
	prev := math.Inf(1)
	for ms := 1; ms <= 2000; ms++ {
		got, err := PeriodToSpeed(time.Duration(ms) * time.Millisecond)
		if err != nil {
			t.Fatalf("period %dms: %v", ms, err)
		}
		if got >= prev {
			t.Fatalf("period %dms: speed %v not below %v", ms, got, prev)
		}
		prev = got
	}
}

func TestPeriodToSpeedRejectsZero(t *testing.T) {
	for _, p := range []time.Duration{0, -time.Millisecond} {
		_, err := PeriodToSpeed(p)
		var ce *ConversionError
		if !errors.As(err, &ce) {
			t.Fatalf("PeriodToSpeed(%v): expected *ConversionError, got %v", p, err)
		}
		if ce.Period != p {
			t.Errorf("ConversionError.Period = %v, want %v", ce.Period, p)
		}
	}
}

func TestCustomCalibration(t *testing.T) {
	c := Calibration{SpeedSlope: 1, SpeedOffset: 0, DutySlope: 10, DutyOffset: 0, MinDutyPercent: 5}

	speed, err := c.PeriodToSpeed(250 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(speed-4) > epsilon {
		t.Errorf("speed: got %v, want 4", speed)
	}
	if got := c.SpeedToDutyCycle(0.1); math.Abs(got-0.05) > epsilon {
		t.Errorf("duty: got %v, want 0.05", got)
	}
}

func TestRound2(t *testing.T) {
	tests := map[float64]float64{
		3.14159: 3.14,
		2.006:   2.01,
		-1.234:  -1.23,
		0:       0,
	}
	for in, want := range tests {
		if got := Round2(in); math.Abs(got-want) > epsilon {
			t.Errorf("Round2(%v) = %v, want %v", in, got, want)
		}
	}
}
