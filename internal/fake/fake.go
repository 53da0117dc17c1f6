// Package fake provides a software-only Treadmill for UI development and
// contract tests without hardware.
package fake

import (
	"context"
	"log"
	"time"

	"github.com/sweeney/treadmill/internal/treadmill"
)

// DefaultSettle is the simulated delay before a speed change takes effect.
const DefaultSettle = 200 * time.Millisecond

// Treadmill simulates the belt and incline motor.
type Treadmill struct {
	// Settle is the simulated motor response time for SetSpeed.
	Settle time.Duration

	// sleep waits out the settle delay; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	speed   float64
	incline int
}

var _ treadmill.Treadmill = (*Treadmill)(nil)

// New creates a stopped Treadmill at incline 0.
func New(settle time.Duration) *Treadmill {
	return &Treadmill{Settle: settle, sleep: sleepCtx}
}

// Run serves commands until Shutdown, a closed command channel or ctx
// cancellation. Shutdown and a closed channel end with SpeedChanged(0).
func (t *Treadmill) Run(ctx context.Context, commands <-chan treadmill.Command, events chan<- treadmill.Event) error {
	log.Printf("fake: treadmill simulator running (settle=%v)", t.Settle)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				cmd = treadmill.Shutdown()
			}
			if err := t.handle(ctx, cmd, events); err != nil {
				return err
			}
			if cmd.Kind == treadmill.CommandShutdown {
				return nil
			}
		}
	}
}

func (t *Treadmill) handle(ctx context.Context, cmd treadmill.Command, events chan<- treadmill.Event) error {
	var e treadmill.Event
	switch cmd.Kind {
	case treadmill.CommandSetSpeed:
		if err := t.sleep(ctx, t.Settle); err != nil {
			return err
		}
		t.speed = cmd.Speed
		if t.speed < 0 {
			t.speed = 0
		}
		e = treadmill.SpeedChanged(t.speed)
	case treadmill.CommandRaiseIncline:
		t.incline++
		e = treadmill.InclineChanged(t.incline)
	case treadmill.CommandLowerIncline:
		if t.incline > 0 {
			t.incline--
		}
		e = treadmill.InclineChanged(t.incline)
	case treadmill.CommandShutdown:
		t.speed = 0
		e = treadmill.SpeedChanged(0)
	default:
		e = treadmill.Message("unknown command %q", cmd.Kind)
	}

	select {
	case events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
