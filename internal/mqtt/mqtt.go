// Package mqtt publishes treadmill events and system lifecycle events to an
// MQTT broker, with an abstraction for testing.
package mqtt

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/sweeney/treadmill/internal/treadmill"
)

// Topic is the MQTT topic for treadmill events.
const Topic = "fitness/treadmill/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "fitness/treadmill/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a treadmill event observed at the given time.
	// Returns error if publishing fails (should not crash the process).
	Publish(event treadmill.Event, at time.Time) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "COMMAND" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Treadmill TreadmillPayload `json:"treadmill"`
}

// TreadmillPayload contains the event details. Only the field belonging to
// the event kind is present.
type TreadmillPayload struct {
	Timestamp string   `json:"timestamp"`
	Event     string   `json:"event"`
	Speed     *float64 `json:"speed,omitempty"`
	Incline   *int     `json:"incline,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// FormatPayload creates the JSON payload for a treadmill event.
func FormatPayload(event treadmill.Event, at time.Time) ([]byte, error) {
	p := TreadmillPayload{
		Timestamp: at.UTC().Format(time.RFC3339),
		Event:     string(event.Kind),
	}
	switch event.Kind {
	case treadmill.EventSpeedChanged:
		speed := event.Speed
		p.Speed = &speed
	case treadmill.EventInclineChanged:
		incline := event.Incline
		p.Incline = &incline
	case treadmill.EventMessage:
		p.Message = event.Text
	}
	return json.Marshal(Payload{Treadmill: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Forward publishes every event from events until the channel closes or ctx
// is done. Publish failures are logged and do not stop forwarding.
func Forward(ctx context.Context, pub Publisher, events <-chan treadmill.Event, now func() time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := pub.Publish(e, now()); err != nil {
				log.Printf("mqtt: publish error: %v", err)
			}
		}
	}
}
