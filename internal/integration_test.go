package internal

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/sweeney/treadmill/internal/controller"
	"github.com/sweeney/treadmill/internal/gpio"
	"github.com/sweeney/treadmill/internal/logic"
	"github.com/sweeney/treadmill/internal/mqtt"
	"github.com/sweeney/treadmill/internal/status"
	"github.com/sweeney/treadmill/internal/treadmill"
	"github.com/sweeney/treadmill/internal/watcher"
)

// rig wires watcher -> controller -> hub -> status tracker and MQTT
// publisher, all on fakes.
type rig struct {
	pwm       *gpio.FakePWM
	up, down  *gpio.FakeOutput
	bus       *treadmill.Bus
	tracker   *status.Tracker
	publisher *mqtt.FakePublisher
	watcher   *watcher.Watcher

	cancel     context.CancelFunc
	stopped    chan error
	forwarded  chan struct{}
	inputsDone chan struct{}
}

func newRig(t *testing.T, cfg controller.Config, runInputs func(ctx context.Context, w *watcher.Watcher, out chan<- treadmill.InputEvent)) *rig {
	t.Helper()
	r := &rig{
		pwm:        gpio.NewFakePWM(),
		up:         gpio.NewFakeOutput(),
		down:       gpio.NewFakeOutput(),
		bus:        treadmill.NewBus(8, 64),
		tracker:    status.NewTracker(time.Now(), status.Config{Mode: "hardware", MaxSpeed: cfg.MaxSpeed}),
		publisher:  mqtt.NewFakePublisher(),
		watcher:    watcher.New(watcher.DefaultConfig()),
		stopped:    make(chan error, 1),
		forwarded:  make(chan struct{}),
		inputsDone: make(chan struct{}),
	}

	inputs := make(chan treadmill.InputEvent, 64)
	ctrl, err := controller.New(cfg, controller.Hardware{PWM: r.pwm, InclineUp: r.up, InclineDown: r.down}, inputs)
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	t.Cleanup(cancel)

	hub := treadmill.NewHub()
	statusEvents := hub.Subscribe(64)
	mqttEvents := hub.Subscribe(64)
	go hub.Run(context.Background(), r.bus.Events)
	go r.tracker.Follow(context.Background(), statusEvents)
	go func() {
		mqtt.Forward(context.Background(), r.publisher, mqttEvents, time.Now)
		close(r.forwarded)
	}()
	go func() {
		runInputs(ctx, r.watcher, inputs)
		close(r.inputsDone)
	}()
	go func() {
		err := ctrl.Run(ctx, r.bus.Commands, r.bus.Events)
		close(r.bus.Events)
		r.stopped <- err
	}()
	return r
}

func (r *rig) send(t *testing.T, cmd treadmill.Command) {
	t.Helper()
	if err := r.bus.Send(context.Background(), cmd); err != nil {
		t.Fatalf("send %v: %v", cmd, err)
	}
}

// shutdown closes the command channel and waits for every event to reach
// the publisher.
func (r *rig) shutdown(t *testing.T) {
	t.Helper()
	r.bus.Close()
	select {
	case err := <-r.stopped:
		if err != nil {
			t.Fatalf("controller returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
	select {
	case <-r.forwarded:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not drain")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func edgeInputs(src *gpio.FakeEdges, initial gpio.Levels) func(context.Context, *watcher.Watcher, chan<- treadmill.InputEvent) {
	return func(ctx context.Context, w *watcher.Watcher, out chan<- treadmill.InputEvent) {
		w.Edges(ctx, initial, src, out)
	}
}

var idle = gpio.Levels{Speed: true, Incline: true, Safety: false}

// TestIntegrationRunMeasureAndKeyRemoval drives the belt, feeds speed
// sensor edges, then pulls the safety key.
func TestIntegrationRunMeasureAndKeyRemoval(t *testing.T) {
	src := gpio.NewFakeEdges(16)
	r := newRig(t, controller.DefaultConfig(), edgeInputs(src, idle))

	r.send(t, treadmill.SetSpeed(6))
	waitFor(t, "speed 6", func() bool { return r.tracker.Snapshot().Speed == 6 })

	duty, enabled := r.pwm.State()
	if !enabled || math.Abs(duty-0.3912) > 1e-9 {
		t.Fatalf("expected pwm enabled at 0.3912, got %v enabled=%v", duty, enabled)
	}

	// One 100ms sensor period: 0.517*10+0.353 = 5.523 km/h, averaged over a
	// zero-filled window of 10 gives 0.55.
	base := time.Now()
	src.Push(logic.Edge{Pin: logic.PinSpeed, High: false, Time: base.Add(100 * time.Millisecond)})
	src.Push(logic.Edge{Pin: logic.PinSpeed, High: true, Time: base.Add(150 * time.Millisecond)})
	src.Push(logic.Edge{Pin: logic.PinSpeed, High: false, Time: base.Add(200 * time.Millisecond)})
	waitFor(t, "measured speed", func() bool { return r.tracker.Snapshot().Speed == 0.55 })

	src.Push(logic.Edge{Pin: logic.PinSafety, High: true, Time: base.Add(time.Second)})
	waitFor(t, "key removal stop", func() bool {
		s := r.tracker.Snapshot()
		return s.KeyRemoved && s.Speed == 0
	})

	r.shutdown(t)

	want := []treadmill.Event{
		treadmill.SpeedChanged(6),
		treadmill.SpeedChanged(0.55),
		treadmill.KeyRemoved(),
		treadmill.SpeedChanged(0),
	}
	events, _ := r.publisher.Snapshot()
	if len(events) != len(want) {
		t.Fatalf("got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: got %v, want %v", i, events[i], want[i])
		}
	}

	if duty, enabled := r.pwm.State(); duty != 0 || enabled {
		t.Errorf("expected pwm off after shutdown, got %v enabled=%v", duty, enabled)
	}
	if !r.pwm.Closed || !r.up.Closed || !r.down.Closed {
		t.Error("expected all actuators released")
	}
	if c := r.watcher.Counts(); c.SpeedPulses != 1 || c.KeyRemovals != 1 {
		t.Errorf("unexpected watcher counts: %+v", c)
	}
}

// TestIntegrationKeyOutAtStartup refuses to start the belt until the key
// is inserted.
func TestIntegrationKeyOutAtStartup(t *testing.T) {
	src := gpio.NewFakeEdges(16)
	r := newRig(t, controller.DefaultConfig(), edgeInputs(src, gpio.Levels{Speed: true, Incline: true, Safety: true}))

	waitFor(t, "key reported removed", func() bool { return r.tracker.Snapshot().KeyRemoved })

	r.send(t, treadmill.SetSpeed(5))
	waitFor(t, "refusal", func() bool { return r.tracker.Snapshot().LastMessage != "" })
	if _, enabled := r.pwm.State(); enabled {
		t.Fatal("belt must not start with the key out")
	}

	src.Push(logic.Edge{Pin: logic.PinSafety, High: false, Time: time.Now().Add(time.Second)})
	waitFor(t, "key inserted", func() bool { return !r.tracker.Snapshot().KeyRemoved })

	r.send(t, treadmill.SetSpeed(5))
	waitFor(t, "speed 5", func() bool { return r.tracker.Snapshot().Speed == 5 })

	r.shutdown(t)

	events, _ := r.publisher.Snapshot()
	want := []treadmill.Event{
		treadmill.KeyRemoved(),
		treadmill.Message("safety key removed, insert key to start"),
		treadmill.KeyInserted(),
		treadmill.SpeedChanged(5),
		treadmill.SpeedChanged(0),
	}
	if len(events) != len(want) {
		t.Fatalf("got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: got %v, want %v", i, events[i], want[i])
		}
	}
}

// TestIntegrationPolledKeyRemoval uses the polling watcher: the key level
// must be seen in two consecutive samples.
func TestIntegrationPolledKeyRemoval(t *testing.T) {
	reader := gpio.NewFakeReader([]gpio.Levels{
		idle,
		{Speed: true, Incline: true, Safety: true},
		{Speed: true, Incline: true, Safety: true},
	})
	tick := make(chan time.Time)
	r := newRig(t, controller.DefaultConfig(), func(ctx context.Context, w *watcher.Watcher, out chan<- treadmill.InputEvent) {
		w.Poll(ctx, reader, tick, out)
	})

	r.send(t, treadmill.SetSpeed(8))
	waitFor(t, "speed 8", func() bool { return r.tracker.Snapshot().Speed == 8 })

	tick <- time.Now() // baseline
	tick <- time.Now() // candidate
	if r.tracker.Snapshot().KeyRemoved {
		t.Fatal("a single sample must not be accepted")
	}
	tick <- time.Now() // confirmed
	waitFor(t, "key removal stop", func() bool {
		s := r.tracker.Snapshot()
		return s.KeyRemoved && s.Speed == 0
	})

	r.shutdown(t)
	if _, enabled := r.pwm.State(); enabled {
		t.Error("expected pwm disabled")
	}
}

// TestIntegrationWatcherStops stops the belt when the input stream is lost
// and refuses to restart it.
func TestIntegrationWatcherStops(t *testing.T) {
	src := gpio.NewFakeEdges(1)
	r := newRig(t, controller.DefaultConfig(), edgeInputs(src, idle))

	r.send(t, treadmill.SetSpeed(3))
	waitFor(t, "speed 3", func() bool { return r.tracker.Snapshot().Speed == 3 })

	src.Close()
	<-r.inputsDone
	waitFor(t, "belt stopped", func() bool { return r.tracker.Snapshot().Speed == 0 })
	if _, enabled := r.pwm.State(); enabled {
		t.Error("expected pwm disabled")
	}

	r.send(t, treadmill.SetSpeed(3))
	waitFor(t, "start refused", func() bool {
		return r.tracker.Snapshot().LastMessage == "safety key unmonitored, cannot start"
	})
	r.shutdown(t)
}

// TestIntegrationPayloads checks the JSON the broker would receive.
func TestIntegrationPayloads(t *testing.T) {
	src := gpio.NewFakeEdges(1)
	r := newRig(t, controller.DefaultConfig(), edgeInputs(src, idle))

	r.send(t, treadmill.SetSpeed(6))
	r.shutdown(t)

	if len(r.publisher.Payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(r.publisher.Payloads))
	}
	var p mqtt.Payload
	if err := json.Unmarshal(r.publisher.Payloads[1], &p); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if p.Treadmill.Event != "SPEED_CHANGED" || p.Treadmill.Speed == nil || *p.Treadmill.Speed != 0 {
		t.Errorf("unexpected final payload: %s", r.publisher.Payloads[1])
	}
	if _, err := time.Parse(time.RFC3339, p.Treadmill.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
}
