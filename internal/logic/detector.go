package logic

import (
	"time"

	"github.com/sweeney/treadmill/internal/treadmill"
)

// Detector debounces input lines and emits input events.
type Detector struct {
	cfg       Config
	baselined bool

	speedHigh   bool
	inclineHigh bool

	speed   pulseState
	incline pulseState
	safety  safetyState

	counts Counts
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Baseline records the initial levels. No pulse events result; if the key
// is already out, a SafetyKeyRemoved event is returned so the consumer does
// not assume the key is present.
func (d *Detector) Baseline(s Sample) []treadmill.InputEvent {
	d.baselined = true
	d.speedHigh = s.Speed
	d.inclineHigh = s.Incline
	d.safety = safetyState{removed: s.Safety, lastAccepted: s.Time}

	if s.Safety {
		d.counts.KeyRemovals++
		return []treadmill.InputEvent{{Kind: treadmill.InputSafetyKeyRemoved, Time: s.Time}}
	}
	return nil
}

// Process takes a polled sample and returns any events that should be
// emitted. The first sample establishes the baseline.
func (d *Detector) Process(s Sample) []treadmill.InputEvent {
	if !d.baselined {
		return d.Baseline(s)
	}

	var events []treadmill.InputEvent

	// Falling edges only: the sensors are pulled low on each mark
	if d.speedHigh && !s.Speed {
		if e := d.pulse(&d.speed, d.cfg.SpeedDebounce, s.Time, treadmill.InputSpeedPulse); e != nil {
			events = append(events, *e)
		}
	}
	d.speedHigh = s.Speed

	if d.inclineHigh && !s.Incline {
		if e := d.pulse(&d.incline, d.cfg.InclineDebounce, s.Time, treadmill.InputInclinePulse); e != nil {
			events = append(events, *e)
		}
	}
	d.inclineHigh = s.Incline

	if e := d.pollSafety(s.Safety, s.Time); e != nil {
		events = append(events, *e)
	}

	return events
}

// Edge takes a single interrupt-reported transition.
func (d *Detector) Edge(e Edge) []treadmill.InputEvent {
	var ev *treadmill.InputEvent

	switch e.Pin {
	case PinSpeed:
		d.speedHigh = e.High
		if !e.High {
			ev = d.pulse(&d.speed, d.cfg.SpeedDebounce, e.Time, treadmill.InputSpeedPulse)
		}
	case PinIncline:
		d.inclineHigh = e.High
		if !e.High {
			ev = d.pulse(&d.incline, d.cfg.InclineDebounce, e.Time, treadmill.InputInclinePulse)
		}
	case PinSafety:
		ev = d.edgeSafety(e.High, e.Time)
	}

	if ev == nil {
		return nil
	}
	return []treadmill.InputEvent{*ev}
}

// pulse handles debounce for a single pulse line. The first edge only
// primes the baseline. Suppressed edges leave the baseline untouched.
func (d *Detector) pulse(p *pulseState, debounce time.Duration, now time.Time, kind treadmill.InputKind) *treadmill.InputEvent {
	if !p.primed {
		p.primed = true
		p.lastAccepted = now
		return nil
	}

	period := now.Sub(p.lastAccepted)
	if period < debounce || period <= 0 {
		d.counts.Suppressed++
		return nil
	}

	p.lastAccepted = now
	if kind == treadmill.InputSpeedPulse {
		d.counts.SpeedPulses++
	} else {
		d.counts.InclinePulses++
	}
	return &treadmill.InputEvent{Kind: kind, Period: period, Time: now}
}

// pollSafety accepts a new key level once it has been seen in two
// consecutive samples.
func (d *Detector) pollSafety(high bool, now time.Time) *treadmill.InputEvent {
	if high == d.safety.removed {
		d.safety.pending = false
		return nil
	}

	if !d.safety.pending || d.safety.pendingLevel != high {
		d.safety.pending = true
		d.safety.pendingLevel = high
		return nil
	}

	return d.acceptSafety(high, now)
}

// edgeSafety accepts a key transition if the debounce window has passed
// since the last accepted one.
func (d *Detector) edgeSafety(high bool, now time.Time) *treadmill.InputEvent {
	if high == d.safety.removed {
		return nil
	}
	if !d.safety.lastAccepted.IsZero() && now.Sub(d.safety.lastAccepted) < d.cfg.SafetyDebounce {
		d.counts.Suppressed++
		return nil
	}
	return d.acceptSafety(high, now)
}

func (d *Detector) acceptSafety(high bool, now time.Time) *treadmill.InputEvent {
	d.safety = safetyState{removed: high, lastAccepted: now}
	if high {
		d.counts.KeyRemovals++
		return &treadmill.InputEvent{Kind: treadmill.InputSafetyKeyRemoved, Time: now}
	}
	d.counts.KeyInsertions++
	return &treadmill.InputEvent{Kind: treadmill.InputSafetyKeyInserted, Time: now}
}

// IsBaselined returns whether initial levels have been recorded.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// KeyRemoved reports the debounced safety key state.
func (d *Detector) KeyRemoved() bool {
	return d.safety.removed
}

// Counts returns a copy of the activity counters.
func (d *Detector) Counts() Counts {
	return d.counts
}
