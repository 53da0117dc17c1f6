package treadmill

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBusSendPreservesOrder(t *testing.T) {
	b := NewBus(4, 4)
	ctx := context.Background()

	want := []Command{SetSpeed(3), RaiseIncline(), LowerIncline(), Shutdown()}
	for _, c := range want {
		if err := b.Send(ctx, c); err != nil {
			t.Fatalf("send %s: %v", c, err)
		}
	}

	for i, w := range want {
		got := <-b.Commands
		if got != w {
			t.Errorf("command %d: got %s, want %s", i, got, w)
		}
	}
}

func TestBusSendAfterClose(t *testing.T) {
	b := NewBus(1, 1)
	b.Close()
	b.Close() // idempotent

	err := b.Send(context.Background(), Shutdown())
	if !errors.Is(err, ErrChannelClosed) {
		t.Errorf("expected ErrChannelClosed, got %v", err)
	}

	if _, ok := <-b.Commands; ok {
		t.Error("expected command channel to be closed")
	}
}

func TestBusSendRespectsContext(t *testing.T) {
	b := NewBus(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := b.Send(ctx, SetSpeed(1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestHubFansOut(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(4)
	b := h.Subscribe(4)

	src := make(chan Event, 2)
	src <- SpeedChanged(6)
	src <- KeyRemoved()
	close(src)

	h.Run(context.Background(), src)

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		var got []Event
		for e := range ch {
			got = append(got, e)
		}
		if len(got) != 2 {
			t.Fatalf("%s: expected 2 events, got %d", name, len(got))
		}
		if got[0].Kind != EventSpeedChanged || got[0].Speed != 6 {
			t.Errorf("%s: first event: got %s", name, got[0])
		}
		if got[1].Kind != EventSafetyKeyRemoved {
			t.Errorf("%s: second event: got %s", name, got[1])
		}
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe(1)
	fast := h.Subscribe(10)

	src := make(chan Event, 3)
	for i := 0; i < 3; i++ {
		src <- InclineChanged(i)
	}
	close(src)

	h.Run(context.Background(), src)

	n := 0
	for range slow {
		n++
	}
	if n != 1 {
		t.Errorf("slow subscriber: expected 1 event, got %d", n)
	}

	n = 0
	for range fast {
		n++
	}
	if n != 3 {
		t.Errorf("fast subscriber: expected 3 events, got %d", n)
	}
}

func TestHubSubscribeAfterRun(t *testing.T) {
	h := NewHub()
	src := make(chan Event)
	close(src)
	h.Run(context.Background(), src)

	ch := h.Subscribe(1)
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after hub finished")
	}
}

func TestErrorTypes(t *testing.T) {
	base := errors.New("permission denied")

	var err error = &SetupError{Resource: "pwm0", Err: base}
	if !errors.Is(err, base) {
		t.Error("SetupError should unwrap to its cause")
	}
	if err.Error() != "setup pwm0: permission denied" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	err = &ActuatorWriteError{Op: "set duty cycle", Err: base}
	var aw *ActuatorWriteError
	if !errors.As(err, &aw) || aw.Op != "set duty cycle" {
		t.Errorf("errors.As failed for %v", err)
	}
}

func TestEventString(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{SpeedChanged(6), "SPEED_CHANGED speed=6.00"},
		{InclineChanged(3), "INCLINE_CHANGED incline=3"},
		{KeyInserted(), "KEY_INSERTED"},
		{Message("pwm %s", "off"), `MESSAGE "pwm off"`},
	}
	for _, tt := range tests {
		if got := tt.event.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
