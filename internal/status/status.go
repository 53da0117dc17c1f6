// Package status provides a thread-safe status tracker for the treadmill
// daemon. It folds controller events into a snapshot read by the HTTP
// handlers and the MQTT lifecycle events.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/treadmill/internal/logic"
	"github.com/sweeney/treadmill/internal/treadmill"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Mode        string // "hardware" or "fake"
	PollMs      int64
	Interrupts  bool
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
	MaxSpeed    float64
}

// EventCounts tracks controller events since startup.
type EventCounts struct {
	SpeedChanges   int
	InclineChanges int
	KeyRemovals    int
	KeyInsertions  int
	Messages       int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Speed         float64 // km/h, last reported
	Incline       int
	KeyKnown      bool
	KeyRemoved    bool
	LastMessage   string
	LastEventAt   time.Time
	Counts        EventCounts
	Inputs        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Running reports whether the belt was last reported moving.
func (s Snapshot) Running() bool {
	return s.Speed > 0
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Apply folds a controller event into the snapshot.
func (t *Tracker) Apply(e treadmill.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastEventAt = t.now()
	switch e.Kind {
	case treadmill.EventSpeedChanged:
		t.snap.Speed = e.Speed
		t.snap.Counts.SpeedChanges++
	case treadmill.EventInclineChanged:
		t.snap.Incline = e.Incline
		t.snap.Counts.InclineChanges++
	case treadmill.EventSafetyKeyRemoved:
		t.snap.KeyKnown = true
		t.snap.KeyRemoved = true
		t.snap.Counts.KeyRemovals++
	case treadmill.EventSafetyKeyInserted:
		t.snap.KeyKnown = true
		t.snap.KeyRemoved = false
		t.snap.Counts.KeyInsertions++
	case treadmill.EventMessage:
		t.snap.LastMessage = e.Text
		t.snap.Counts.Messages++
	}
}

// Follow applies events until the channel closes or ctx is done.
func (t *Tracker) Follow(ctx context.Context, events <-chan treadmill.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			t.Apply(e)
		}
	}
}

// SetInputCounts records the watcher's debounce activity.
func (t *Tracker) SetInputCounts(c logic.Counts) {
	t.mu.Lock()
	t.snap.Inputs = c
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
