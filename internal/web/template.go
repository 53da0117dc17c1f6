package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/treadmill/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"kph": func(v float64) string {
		return fmt.Sprintf("%.2f", v)
	},
	"keyClass": func(state string) string {
		switch state {
		case "INSERTED":
			return "on"
		case "REMOVED":
			return "alert"
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Treadmill</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
form { display: inline; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.alert { color: red; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Treadmill{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>State</h2>
<table>
<tr><th>Speed</th><td id="speed" class="{{if .Running}}on{{else}}off{{end}}">{{kph .Speed}} km/h</td></tr>
<tr><th>Incline</th><td id="incline">{{.Incline}}</td></tr>
<tr><th>Safety key</th><td id="key" class="{{keyClass .KeyState}}">{{.KeyState}}</td></tr>
<tr><th>Last message</th><td id="message">{{.LastMessage}}</td></tr>
</table>

<h2>Control</h2>
<p>
<form method="post" action="/api/v1/desiredspeed"><input name="speed" type="number" step="0.1" min="0" max="{{.Config.MaxSpeed}}" value="{{kph .Speed}}"> <button>Set speed</button></form>
<form method="post" action="/api/v1/stop"><button>Stop</button></form>
</p>
<p>
<form method="post" action="/api/v1/incline/raise"><button>Raise</button></form>
<form method="post" action="/api/v1/incline/lower"><button>Lower</button></form>
</p>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Speed changes</th><td>{{.Counts.SpeedChanges}}</td></tr>
<tr><th>Incline changes</th><td>{{.Counts.InclineChanges}}</td></tr>
<tr><th>Key removed</th><td>{{.Counts.KeyRemovals}}</td></tr>
<tr><th>Key inserted</th><td>{{.Counts.KeyInsertions}}</td></tr>
<tr><th>Messages</th><td>{{.Counts.Messages}}</td></tr>
</table>

<h2>Inputs</h2>
<table>
<tr><th>Speed pulses</th><td>{{.Inputs.SpeedPulses}}</td></tr>
<tr><th>Incline pulses</th><td>{{.Inputs.InclinePulses}}</td></tr>
<tr><th>Suppressed</th><td>{{.Inputs.Suppressed}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Mode</th><td>{{.Config.Mode}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Inputs</th><td>{{if .Config.Interrupts}}edge interrupts{{else}}poll {{.Config.PollMs}}ms{{end}}</td></tr>
<tr><th>Max speed</th><td>{{kph .Config.MaxSpeed}} km/h</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "fitness/treadmill/events";
  var dot = document.getElementById("live-dot");
  var speedEl = document.getElementById("speed");
  var inclineEl = document.getElementById("incline");
  var keyEl = document.getElementById("key");
  var msgEl = document.getElementById("message");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var ev = JSON.parse(payload.toString()).treadmill;
      if (!ev) return;
      switch (ev.event) {
      case "SPEED_CHANGED":
        speedEl.textContent = ev.speed.toFixed(2) + " km/h";
        speedEl.className = ev.speed > 0 ? "on" : "off";
        break;
      case "INCLINE_CHANGED":
        inclineEl.textContent = ev.incline;
        break;
      case "KEY_REMOVED":
        keyEl.textContent = "REMOVED";
        keyEl.className = "alert";
        break;
      case "KEY_INSERTED":
        keyEl.textContent = "INSERTED";
        keyEl.className = "on";
        break;
      case "MESSAGE":
        msgEl.textContent = ev.message;
        break;
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render: %v", err)
	}
}
