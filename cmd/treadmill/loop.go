package main

import (
	"context"
	"errors"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/treadmill/internal/console"
	"github.com/sweeney/treadmill/internal/logic"
	"github.com/sweeney/treadmill/internal/mqtt"
	"github.com/sweeney/treadmill/internal/status"
	"github.com/sweeney/treadmill/internal/treadmill"
)

// daemon holds everything the main loop wires together.
type daemon struct {
	tm  treadmill.Treadmill
	bus *treadmill.Bus
	hub *treadmill.Hub

	tracker    *status.Tracker
	publisher  mqtt.Publisher        // nil when MQTT is disabled
	mqttStatus mqtt.ConnectionStatus // nil when MQTT is disabled
	consoles   []*console.Console

	// inputs runs the pin watcher until ctx is done; nil in fake mode.
	inputs func(ctx context.Context) error
	counts func() logic.Counts

	now     func() time.Time
	refresh time.Duration
}

// runLoop starts the treadmill and its observers, publishes lifecycle
// events, and returns once the treadmill has stopped, either on a signal
// or because a UI sent Shutdown.
func (d *daemon) runLoop(ctx context.Context, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.publishSystem("STARTUP", "", true)

	statusEvents := d.hub.Subscribe(64)
	var mqttEvents <-chan treadmill.Event
	if d.publisher != nil {
		mqttEvents = d.hub.Subscribe(256)
	}
	consoleEvents := make([]<-chan treadmill.Event, len(d.consoles))
	for i := range d.consoles {
		consoleEvents[i] = d.hub.Subscribe(64)
	}

	observers := make(chan struct{})
	go func() {
		defer close(observers)
		done := make(chan struct{})
		go func() {
			d.tracker.Follow(context.Background(), statusEvents)
			close(done)
		}()
		if mqttEvents != nil {
			mqtt.Forward(context.Background(), d.publisher, mqttEvents, d.now)
		}
		<-done
	}()
	go d.hub.Run(context.Background(), d.bus.Events)

	consoleCtx, stopConsoles := context.WithCancel(ctx)
	defer stopConsoles()
	for i, c := range d.consoles {
		go func(c *console.Console, events <-chan treadmill.Event) {
			if err := c.Run(consoleCtx, events); err != nil {
				log.Printf("console: %v", err)
			}
		}(c, consoleEvents[i])
	}

	inputsCtx, stopInputs := context.WithCancel(ctx)
	defer stopInputs()
	if d.inputs != nil {
		go func() {
			if err := d.inputs(inputsCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("watcher: %v", err)
			}
		}()
	}

	stopped := make(chan error, 1)
	go func() {
		err := d.tm.Run(ctx, d.bus.Commands, d.bus.Events)
		close(d.bus.Events)
		stopped <- err
	}()

	var refresh <-chan time.Time
	if d.refresh > 0 {
		ticker := time.NewTicker(d.refresh)
		defer ticker.Stop()
		refresh = ticker.C
	}

	reason := "COMMAND"
	var runErr error
loop:
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			reason = signalName(s)
			d.bus.Close()
			runErr = <-stopped
			break loop

		case runErr = <-stopped:
			log.Printf("treadmill stopped")
			stopConsoles()
			d.bus.Close()
			break loop

		case <-heartbeat:
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			d.publishSystem("HEARTBEAT", "", false)

		case <-refresh:
			d.updateTracker()
		}
	}

	stopInputs()
	<-observers
	d.publishSystem("SHUTDOWN", reason, true)
	return runErr
}

func (d *daemon) updateTracker() {
	if d.counts != nil {
		d.tracker.SetInputCounts(d.counts())
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) publishSystem(event, reason string, retained bool) {
	d.updateTracker()
	snap := d.tracker.Snapshot()
	if d.publisher == nil {
		log.Printf("%s (mqtt disabled)", event)
		return
	}
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
