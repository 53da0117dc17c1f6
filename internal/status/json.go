package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	SpeedKph      float64      `json:"speed_kph"`
	Running       bool         `json:"running"`
	Incline       int          `json:"incline"`
	SafetyKey     string       `json:"safety_key"`
	LastMessage   string       `json:"last_message,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Inputs        InputsJSON   `json:"inputs"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	SpeedChanges   int `json:"speed_changes"`
	InclineChanges int `json:"incline_changes"`
	KeyRemovals    int `json:"key_removals"`
	KeyInsertions  int `json:"key_insertions"`
	Messages       int `json:"messages"`
}

// InputsJSON is the JSON representation of debounce activity.
type InputsJSON struct {
	SpeedPulses   int `json:"speed_pulses"`
	InclinePulses int `json:"incline_pulses"`
	Suppressed    int `json:"suppressed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode        string  `json:"mode"`
	PollMs      int64   `json:"poll_ms"`
	Interrupts  bool    `json:"interrupts"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	MaxSpeed    float64 `json:"max_speed_kph"`
	Broker      string  `json:"broker"`
	HTTPPort    string  `json:"http_port"`
	WSBroker    string  `json:"ws_broker,omitempty"`
}

// KeyState returns the safety key as "INSERTED", "REMOVED" or "UNKNOWN".
func (s Snapshot) KeyState() string {
	switch {
	case !s.KeyKnown:
		return "UNKNOWN"
	case s.KeyRemoved:
		return "REMOVED"
	}
	return "INSERTED"
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		SpeedKph:      snap.Speed,
		Running:       snap.Running(),
		Incline:       snap.Incline,
		SafetyKey:     snap.KeyState(),
		LastMessage:   snap.LastMessage,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			SpeedChanges:   snap.Counts.SpeedChanges,
			InclineChanges: snap.Counts.InclineChanges,
			KeyRemovals:    snap.Counts.KeyRemovals,
			KeyInsertions:  snap.Counts.KeyInsertions,
			Messages:       snap.Counts.Messages,
		},
		Inputs: InputsJSON{
			SpeedPulses:   snap.Inputs.SpeedPulses,
			InclinePulses: snap.Inputs.InclinePulses,
			Suppressed:    snap.Inputs.Suppressed,
		},
		Config: ConfigJSON{
			Mode:        snap.Config.Mode,
			PollMs:      snap.Config.PollMs,
			Interrupts:  snap.Config.Interrupts,
			HeartbeatMs: snap.Config.HeartbeatMs,
			MaxSpeed:    snap.Config.MaxSpeed,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			WSBroker:    snap.Config.WSBroker,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
