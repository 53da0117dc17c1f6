package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/treadmill/internal/treadmill"
)

// runScript feeds commands to a Treadmill with no settle delay and returns
// every event and the Run error.
func runScript(t *testing.T, cmds []treadmill.Command, closeAfter bool) ([]treadmill.Event, error) {
	t.Helper()
	tm := New(0)

	commands := make(chan treadmill.Command, len(cmds))
	for _, c := range cmds {
		commands <- c
	}
	if closeAfter {
		close(commands)
	}
	events := make(chan treadmill.Event, len(cmds)+1)

	errCh := make(chan error, 1)
	go func() { errCh <- tm.Run(context.Background(), commands, events) }()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	close(events)

	var out []treadmill.Event
	for e := range events {
		out = append(out, e)
	}
	return out, err
}

func TestContract(t *testing.T) {
	events, err := runScript(t, []treadmill.Command{
		treadmill.SetSpeed(6),
		treadmill.RaiseIncline(),
		treadmill.RaiseIncline(),
		treadmill.LowerIncline(),
		treadmill.Shutdown(),
		treadmill.SetSpeed(9), // never processed
	}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []treadmill.Event{
		treadmill.SpeedChanged(6),
		treadmill.InclineChanged(1),
		treadmill.InclineChanged(2),
		treadmill.InclineChanged(1),
		treadmill.SpeedChanged(0),
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(events), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], events[i])
		}
	}
}

func TestInclineClampedAtZero(t *testing.T) {
	events, _ := runScript(t, []treadmill.Command{
		treadmill.LowerIncline(),
		treadmill.LowerIncline(),
		treadmill.Shutdown(),
	}, false)

	for i := 0; i < 2; i++ {
		if events[i] != treadmill.InclineChanged(0) {
			t.Errorf("event %d: expected incline 0, got %s", i, events[i])
		}
	}
}

func TestClosedChannelShutsDown(t *testing.T) {
	events, err := runScript(t, []treadmill.Command{treadmill.SetSpeed(3)}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[1] != treadmill.SpeedChanged(0) {
		t.Errorf("expected final SpeedChanged(0), got %v", events)
	}
}

func TestSettleDelay(t *testing.T) {
	tm := New(5 * time.Second)
	var slept time.Duration
	tm.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	commands := make(chan treadmill.Command, 2)
	commands <- treadmill.SetSpeed(4)
	commands <- treadmill.Shutdown()
	events := make(chan treadmill.Event, 2)

	if err := tm.Run(context.Background(), commands, events); err != nil {
		t.Fatal(err)
	}
	if slept != 5*time.Second {
		t.Errorf("expected settle of 5s, got %v", slept)
	}
	if e := <-events; e != treadmill.SpeedChanged(4) {
		t.Errorf("expected SpeedChanged(4), got %s", e)
	}
}

func TestCancelDuringSettle(t *testing.T) {
	tm := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	commands := make(chan treadmill.Command, 1)
	commands <- treadmill.SetSpeed(4)
	events := make(chan treadmill.Event, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- tm.Run(ctx, commands, events) }()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
