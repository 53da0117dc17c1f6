package logic

import (
	"testing"
	"time"

	"github.com/sweeney/treadmill/internal/treadmill"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

// idle is a sample with both sensors at rest and the key inserted.
func idle(ms int) Sample {
	return Sample{Speed: true, Incline: true, Safety: false, Time: at(ms)}
}

func setupBaselinedDetector(t *testing.T) *Detector {
	t.Helper()
	d := NewDetector(DefaultConfig())
	if events := d.Process(idle(0)); len(events) != 0 {
		t.Fatalf("expected no events at baseline, got %d", len(events))
	}
	if !d.IsBaselined() {
		t.Fatal("expected detector to be baselined after first sample")
	}
	return d
}

// speedEdge drives a high->low transition on the speed line at ms and
// returns the events from the falling sample.
func speedEdge(d *Detector, ms int) []treadmill.InputEvent {
	d.Process(Sample{Speed: true, Incline: true, Time: at(ms - 1)})
	return d.Process(Sample{Speed: false, Incline: true, Time: at(ms)})
}

func TestNewDetector(t *testing.T) {
	d := NewDetector(DefaultConfig())
	if d.IsBaselined() {
		t.Error("new detector should not be baselined")
	}
	if d.cfg.SpeedDebounce != 15*time.Millisecond {
		t.Errorf("expected speed debounce 15ms, got %v", d.cfg.SpeedDebounce)
	}
	if d.cfg.InclineDebounce != 100*time.Millisecond {
		t.Errorf("expected incline debounce 100ms, got %v", d.cfg.InclineDebounce)
	}
	if d.cfg.SafetyDebounce != 50*time.Millisecond {
		t.Errorf("expected safety debounce 50ms, got %v", d.cfg.SafetyDebounce)
	}
}

func TestBaselineWithKeyRemoved(t *testing.T) {
	d := NewDetector(DefaultConfig())
	events := d.Process(Sample{Speed: true, Incline: true, Safety: true, Time: at(0)})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != treadmill.InputSafetyKeyRemoved {
		t.Errorf("expected key removed, got %s", events[0].Kind)
	}
	if !d.KeyRemoved() {
		t.Error("expected KeyRemoved() after baseline with key out")
	}
}

func TestFirstSpeedEdgeOnlyPrimes(t *testing.T) {
	d := setupBaselinedDetector(t)

	if events := speedEdge(d, 100); len(events) != 0 {
		t.Fatalf("expected first edge to prime only, got %d events", len(events))
	}

	events := speedEdge(d, 160)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != treadmill.InputSpeedPulse {
		t.Errorf("expected speed pulse, got %s", events[0].Kind)
	}
	if events[0].Period != 60*time.Millisecond {
		t.Errorf("expected period 60ms, got %v", events[0].Period)
	}
}

func TestRisingEdgeIgnored(t *testing.T) {
	d := setupBaselinedDetector(t)
	speedEdge(d, 100)

	// low -> high is not a pulse
	events := d.Process(Sample{Speed: true, Incline: true, Time: at(200)})
	if len(events) != 0 {
		t.Errorf("expected no events for rising edge, got %d", len(events))
	}
}

func TestSpeedDebounceSuppressesCloseEdges(t *testing.T) {
	d := setupBaselinedDetector(t)
	speedEdge(d, 100)

	// 10ms later: bounce
	if events := speedEdge(d, 110); len(events) != 0 {
		t.Fatalf("expected bounce to be suppressed, got %d events", len(events))
	}

	// 40ms after the accepted edge, 30ms after the bounce. The baseline must
	// still be the accepted edge at 100ms.
	events := speedEdge(d, 140)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Period != 40*time.Millisecond {
		t.Errorf("expected period measured from accepted edge (40ms), got %v", events[0].Period)
	}

	c := d.Counts()
	if c.SpeedPulses != 1 || c.Suppressed != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
}

func TestSpeedDebounceBoundary(t *testing.T) {
	d := setupBaselinedDetector(t)
	speedEdge(d, 100)

	events := speedEdge(d, 115)
	if len(events) != 1 {
		t.Fatalf("edge exactly at debounce threshold should be accepted, got %d events", len(events))
	}
	if events[0].Period != 15*time.Millisecond {
		t.Errorf("expected 15ms, got %v", events[0].Period)
	}
}

// For any edge sequence, emitted pulses are at least the debounce apart and
// each period equals the gap to the previous accepted edge.
func TestSpeedDebounceProperty(t *testing.T) {
	gaps := []int{3, 7, 20, 1, 14, 15, 2, 30, 9, 6, 16, 4, 4, 4, 40}
	d := setupBaselinedDetector(t)

	ms := 10
	speedEdge(d, ms)
	lastAccepted := ms
	for _, g := range gaps {
		ms += g
		events := speedEdge(d, ms)
		gap := ms - lastAccepted
		if gap >= 15 {
			if len(events) != 1 {
				t.Fatalf("edge at %dms (gap %dms): expected pulse, got %d events", ms, gap, len(events))
			}
			if events[0].Period != time.Duration(gap)*time.Millisecond {
				t.Errorf("edge at %dms: period %v, want %dms", ms, events[0].Period, gap)
			}
			lastAccepted = ms
		} else if len(events) != 0 {
			t.Fatalf("edge at %dms (gap %dms): expected suppression, got %d events", ms, gap, len(events))
		}
	}
}

func TestInclinePulseDebounce(t *testing.T) {
	d := setupBaselinedDetector(t)

	incline := func(ms int) []treadmill.InputEvent {
		d.Process(Sample{Speed: true, Incline: true, Time: at(ms - 1)})
		return d.Process(Sample{Speed: true, Incline: false, Time: at(ms)})
	}

	incline(10)
	if events := incline(60); len(events) != 0 {
		t.Fatalf("expected incline bounce suppressed, got %d", len(events))
	}
	events := incline(1010)
	if len(events) != 1 {
		t.Fatalf("expected 1 incline pulse, got %d", len(events))
	}
	if events[0].Kind != treadmill.InputInclinePulse {
		t.Errorf("expected incline pulse, got %s", events[0].Kind)
	}
	if events[0].Period != 1000*time.Millisecond {
		t.Errorf("expected 1000ms period, got %v", events[0].Period)
	}
}

func TestSafetyRequiresTwoConsecutiveSamples(t *testing.T) {
	d := setupBaselinedDetector(t)

	// Single high sample is an artifact
	if events := d.Process(Sample{Speed: true, Incline: true, Safety: true, Time: at(10)}); len(events) != 0 {
		t.Fatalf("expected no event on first high sample, got %d", len(events))
	}
	if events := d.Process(idle(20)); len(events) != 0 {
		t.Fatalf("expected no event after artifact, got %d", len(events))
	}
	if d.KeyRemoved() {
		t.Fatal("artifact should not change key state")
	}

	// Two in a row is a removal
	d.Process(Sample{Speed: true, Incline: true, Safety: true, Time: at(30)})
	events := d.Process(Sample{Speed: true, Incline: true, Safety: true, Time: at(40)})
	if len(events) != 1 || events[0].Kind != treadmill.InputSafetyKeyRemoved {
		t.Fatalf("expected key removed event, got %+v", events)
	}

	// Stays removed without repeating
	if events := d.Process(Sample{Speed: true, Incline: true, Safety: true, Time: at(50)}); len(events) != 0 {
		t.Errorf("expected no repeat event, got %d", len(events))
	}

	// Reinsert
	d.Process(idle(60))
	events = d.Process(idle(70))
	if len(events) != 1 || events[0].Kind != treadmill.InputSafetyKeyInserted {
		t.Fatalf("expected key inserted event, got %+v", events)
	}

	c := d.Counts()
	if c.KeyRemovals != 1 || c.KeyInsertions != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
}

func TestEdgeModeSpeed(t *testing.T) {
	d := NewDetector(DefaultConfig())

	d.Edge(Edge{Pin: PinSpeed, High: false, Time: at(0)})
	if events := d.Edge(Edge{Pin: PinSpeed, High: true, Time: at(20)}); len(events) != 0 {
		t.Fatalf("rising edge should not emit, got %d", len(events))
	}
	if events := d.Edge(Edge{Pin: PinSpeed, High: false, Time: at(5)}); len(events) != 0 {
		t.Fatalf("expected suppression, got %d", len(events))
	}
	events := d.Edge(Edge{Pin: PinSpeed, High: false, Time: at(45)})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Period != 45*time.Millisecond {
		t.Errorf("expected 45ms, got %v", events[0].Period)
	}
}

func TestEdgeModeSafetyWindow(t *testing.T) {
	d := NewDetector(DefaultConfig())
	d.Baseline(idle(0))

	// Inside the 50ms window since baseline
	if events := d.Edge(Edge{Pin: PinSafety, High: true, Time: at(20)}); len(events) != 0 {
		t.Fatalf("expected suppression inside window, got %d", len(events))
	}

	events := d.Edge(Edge{Pin: PinSafety, High: true, Time: at(80)})
	if len(events) != 1 || events[0].Kind != treadmill.InputSafetyKeyRemoved {
		t.Fatalf("expected key removed, got %+v", events)
	}

	// Bounce back low within window
	if events := d.Edge(Edge{Pin: PinSafety, High: false, Time: at(100)}); len(events) != 0 {
		t.Fatalf("expected bounce suppressed, got %d", len(events))
	}

	// Duplicate level is not a transition
	if events := d.Edge(Edge{Pin: PinSafety, High: true, Time: at(200)}); len(events) != 0 {
		t.Fatalf("expected no event for same level, got %d", len(events))
	}

	events = d.Edge(Edge{Pin: PinSafety, High: false, Time: at(300)})
	if len(events) != 1 || events[0].Kind != treadmill.InputSafetyKeyInserted {
		t.Fatalf("expected key inserted, got %+v", events)
	}
}

func TestPinString(t *testing.T) {
	tests := map[Pin]string{PinSpeed: "speed", PinIncline: "incline", PinSafety: "safety", Pin(9): "unknown"}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("Pin(%d).String() = %q, want %q", p, got, want)
		}
	}
}
