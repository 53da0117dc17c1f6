// Package treadmill defines the contract between the control loop and its
// collaborators: commands flowing in from a UI, events flowing out to
// observers, and the internal input events produced by the pin watcher.
// This package has no hardware or transport dependencies.
package treadmill

import (
	"context"
	"fmt"
	"time"
)

// CommandKind identifies a command variant.
type CommandKind string

const (
	CommandSetSpeed     CommandKind = "SET_SPEED"
	CommandRaiseIncline CommandKind = "RAISE_INCLINE"
	CommandLowerIncline CommandKind = "LOWER_INCLINE"
	CommandShutdown     CommandKind = "SHUTDOWN"
)

// Command is sent from a UI to a Treadmill. Speed is only meaningful for
// CommandSetSpeed.
type Command struct {
	Kind  CommandKind
	Speed float64 // km/h
}

// SetSpeed returns a command requesting the belt run at kph.
func SetSpeed(kph float64) Command {
	return Command{Kind: CommandSetSpeed, Speed: kph}
}

// RaiseIncline returns a command that drives the incline motor up.
func RaiseIncline() Command { return Command{Kind: CommandRaiseIncline} }

// LowerIncline returns a command that drives the incline motor down.
func LowerIncline() Command { return Command{Kind: CommandLowerIncline} }

// Shutdown returns the terminal command.
func Shutdown() Command { return Command{Kind: CommandShutdown} }

func (c Command) String() string {
	if c.Kind == CommandSetSpeed {
		return fmt.Sprintf("%s(%.2f)", c.Kind, c.Speed)
	}
	return string(c.Kind)
}

// EventKind identifies an event variant.
type EventKind string

const (
	EventSpeedChanged      EventKind = "SPEED_CHANGED"
	EventInclineChanged    EventKind = "INCLINE_CHANGED"
	EventSafetyKeyRemoved  EventKind = "KEY_REMOVED"
	EventSafetyKeyInserted EventKind = "KEY_INSERTED"
	EventMessage           EventKind = "MESSAGE"
)

// Event is reported by a Treadmill to its observers.
type Event struct {
	Kind    EventKind
	Speed   float64 // EventSpeedChanged, km/h
	Incline int     // EventInclineChanged
	Text    string  // EventMessage
}

// SpeedChanged returns an EventSpeedChanged event.
func SpeedChanged(kph float64) Event { return Event{Kind: EventSpeedChanged, Speed: kph} }

// InclineChanged returns an EventInclineChanged event.
func InclineChanged(level int) Event { return Event{Kind: EventInclineChanged, Incline: level} }

// KeyRemoved returns an EventSafetyKeyRemoved event.
func KeyRemoved() Event { return Event{Kind: EventSafetyKeyRemoved} }

// KeyInserted returns an EventSafetyKeyInserted event.
func KeyInserted() Event { return Event{Kind: EventSafetyKeyInserted} }

// Message returns a free-text event.
func Message(format string, args ...any) Event {
	return Event{Kind: EventMessage, Text: fmt.Sprintf(format, args...)}
}

func (e Event) String() string {
	switch e.Kind {
	case EventSpeedChanged:
		return fmt.Sprintf("%s speed=%.2f", e.Kind, e.Speed)
	case EventInclineChanged:
		return fmt.Sprintf("%s incline=%d", e.Kind, e.Incline)
	case EventMessage:
		return fmt.Sprintf("%s %q", e.Kind, e.Text)
	}
	return string(e.Kind)
}

// InputKind identifies an input event variant.
type InputKind string

const (
	InputSpeedPulse        InputKind = "SPEED_PULSE"
	InputInclinePulse      InputKind = "INCLINE_PULSE"
	InputSafetyKeyRemoved  InputKind = "SAFETY_KEY_REMOVED"
	InputSafetyKeyInserted InputKind = "SAFETY_KEY_INSERTED"
)

// InputEvent is a debounced hardware observation sent from the watcher to
// the controller. Period is the time since the previous accepted edge and is
// always positive for pulse kinds.
type InputEvent struct {
	Kind   InputKind
	Period time.Duration
	Time   time.Time
}

// Treadmill is the capability shared by the hardware controller and the
// software stand-in. Run consumes commands until Shutdown, a closed command
// channel, or ctx cancellation, reporting state changes on events. Run
// leaves the actuators inactive when it returns.
type Treadmill interface {
	Run(ctx context.Context, commands <-chan Command, events chan<- Event) error
}
