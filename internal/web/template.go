package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/trip-computer/internal/status"
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
	"km": func(m float64) string {
		return fmt.Sprintf("%.2f km", m/1000)
	},
	"kmh": func(v float64) string {
		return fmt.Sprintf("%.1f km/h", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Trip Computer</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
form { display: inline; }
.riding { color: green; font-weight: bold; }
.stopped { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.dirty { color: orange; }
</style>
</head>
<body>
<h1>Trip Computer</h1>

<h2>Ride</h2>
<table>
<tr><th>Stage</th><td id="stage">{{km .Ride.StageDistance}}</td></tr>
<tr><th>Total</th><td id="total">{{km .Ride.TotalDistance}}</td></tr>
<tr><th>Speed</th><td id="speed" class="{{if .Ride.Riding}}riding{{else}}stopped{{end}}">{{kmh .Ride.Speed}}</td></tr>
<tr><th>Max speed</th><td>{{kmh .Ride.MaxSpeed}}</td></tr>
<tr><th>Heading</th><td>{{.Ride.Cap}}&deg;</td></tr>
<tr><th>Altitude</th><td>{{printf "%.0f" .Ride.Altitude}} m</td></tr>
<tr><th>Satellites</th><td>{{.Ride.Satellites}}</td></tr>
<tr><th>Time</th><td>{{.Ride.Time}} (UTC{{if ge .Ride.Timezone 0}}+{{end}}{{.Ride.Timezone}})</td></tr>
<tr><th>Temperature</th><td>{{printf "%.1f" .Ride.Temperature}} &deg;C</td></tr>
</table>

<h2>Settings</h2>
<table>
<tr><th>Distance source</th><td id="mode">{{.Ride.DistanceMode}}
<form method="post" action="/config/mode"><input type="hidden" name="mode" value="WHEEL_SENSOR"><button>wheel</button></form>
<form method="post" action="/config/mode"><input type="hidden" name="mode" value="GPS"><button>gps</button></form></td></tr>
<tr><th>Wheel size</th><td id="wheel">{{.Ride.WheelSize}} mm
<form method="post" action="/config/wheel"><input type="hidden" name="delta" value="-10"><button>-</button></form>
<form method="post" action="/config/wheel"><input type="hidden" name="delta" value="10"><button>+</button></form></td></tr>
<tr><th>Timezone</th><td>{{.Ride.Timezone}}
<form method="post" action="/config/timezone"><input type="hidden" name="delta" value="-1"><button>-</button></form>
<form method="post" action="/config/timezone"><input type="hidden" name="delta" value="1"><button>+</button></form></td></tr>
<tr><th>Brightness</th><td>{{.Ride.Brightness}}%
<form method="post" action="/config/brightness"><input type="number" name="value" min="0" max="100" value="{{.Ride.Brightness}}"><button>set</button></form></td></tr>
<tr><th>Stage</th><td><form method="post" action="/stage/reset"><button>reset</button></form></td></tr>
<tr><th>Unsaved changes</th><td class="{{if .Ride.Dirty}}dirty{{end}}">{{if .Ride.Dirty}}yes{{else}}no{{end}}</td></tr>
<tr><th>Saves</th><td>{{.Saves}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Buttons</h2>
<table>
<tr><th>Clicks</th><td>{{.Presses.Clicks}}</td></tr>
<tr><th>Long presses</th><td>{{.Presses.LongStarts}}</td></tr>
<tr><th>Hold repeats</th><td>{{.Presses.LongHolds}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Boot</th><td>{{.BootID}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Wheel loop</th><td>{{.Config.WheelLoopMs}}ms</td></tr>
<tr><th>GPS poll</th><td>{{.Config.GPSPollMs}}ms{{if .Config.GPSPort}} ({{.Config.GPSPort}}){{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Storage</th><td>{{.Config.DBPath}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
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
	indexTmpl.Execute(w, data)
}
