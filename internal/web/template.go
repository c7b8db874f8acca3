package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/gaming-server/internal/status"
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
	"powerClass": func(s string) string {
		switch s {
		case "ON":
			return "on"
		case "OFF", "STANDBY":
			return "off"
		default:
			return "unknown"
		}
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Gaming Server</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
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
<h1>Gaming Server<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>State</h2>
<table>
<tr><th>Server</th><td id="server-state">{{.Server}}</td></tr>
<tr><th>Previous</th><td>{{.Previous}}</td></tr>
<tr><th>Since</th><td>{{stamp .EnteredAt}}</td></tr>
<tr><th>PS5 Power</th><td id="power-state" class="{{powerClass .Power.String}}">{{.Power}}</td></tr>
<tr><th>PS5 Network</th><td id="network-state">{{.Network}}</td></tr>
<tr><th>Errors</th><td>{{.Errors}}</td></tr>
<tr><th>Wake Pending</th><td>{{if .WakeRequested}}yes{{else}}no{{end}}</td></tr>
<tr><th>Last Wake</th><td>{{stamp .LastWake}}</td></tr>
</table>

<h2>Presence</h2>
<table>
{{if .Presence}}<tr><th>IP</th><td>{{.Presence.Address}}</td></tr>
<tr><th>MAC</th><td>{{if .Presence.HardwareAddress}}{{.Presence.HardwareAddress}}{{else}}unknown{{end}}</td></tr>
<tr><th>Last Seen</th><td>{{stamp .Presence.LastSeen}}</td></tr>
<tr><th>Method</th><td>{{.PresenceMethod}}</td></tr>
{{else}}<tr><th>PS5</th><td class="unknown">not located</td></tr>{{end}}
</table>

<h2>Clients ({{len .Clients}})</h2>
<table>
{{range .Clients}}<tr><th>{{.Addr}}</th><td>{{stamp .ConnectedAt}}</td></tr>
{{else}}<tr><th>none</th><td></td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>Counts</h2>
<table>
<tr><th>Transitions</th><td>{{.Counts.Transitions}}</td></tr>
<tr><th>Wakes</th><td>{{.Counts.Wakes}}</td></tr>
<tr><th>Wake Failures</th><td>{{.Counts.WakeFailures}}</td></tr>
<tr><th>Detections</th><td>{{.Counts.Detections}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Port</th><td>{{.Config.Port}}</td></tr>
<tr><th>Subnet</th><td>{{.Config.Subnet}}</td></tr>
<tr><th>Scanner</th><td>{{.Config.Scanner}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/history.json">History</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var powerEl = document.getElementById("power-state");
  var networkEl = document.getElementById("network-state");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type === "ps5_status") {
          powerEl.textContent = msg.power;
          powerEl.className = msg.power === "ON" ? "on" : (msg.power === "OFF" || msg.power === "STANDBY") ? "off" : "unknown";
          if (msg.network) { networkEl.textContent = msg.network; }
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Uptime is a method on Snapshot; the template needs a field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
