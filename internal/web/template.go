package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/smartfan/internal/status"
	"github.com/sweeney/smartfan/internal/store"
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
	"ts": func(t time.Time) string {
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Smart Fan</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Smart Fan</h1>

<h2>State</h2>
<table>
<tr><th>Desired</th><td id="desired" class="{{if eq (printf "%s" .Desired) "on"}}on{{else}}off{{end}}">{{printf "%s" .Desired}}</td></tr>
{{if .LastEvent}}<tr><th>Last change</th><td>{{ts .LastEvent.Time}}</td></tr>{{end}}
</table>

<h2>Recent Events</h2>
<table>
<tr><th>#</th><th>State</th><th>Detected</th><th>Time</th></tr>
{{range .Events}}<tr><td>{{.ID}}</td><td class="{{printf "%s" .State}}">{{printf "%s" .State}}</td><td>{{if .Detected}}yes{{else}}no{{end}}</td><td>{{ts .Time}}</td></tr>
{{else}}<tr><td colspan="4">none yet</td></tr>
{{end}}</table>

<h2>Submissions</h2>
<table>
<tr><th>Accepted</th><td>{{.Counts.Accepted}}</td></tr>
<tr><th>ON</th><td>{{.Counts.On}}</td></tr>
<tr><th>OFF</th><td>{{.Counts.Off}}</td></tr>
<tr><th>Coerced</th><td>{{.Counts.Coerced}}</td></tr>
<tr><th>Storage failures</th><td>{{.Counts.Failed}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
{{if .Config.Broker}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{else}}<tr><th>MQTT</th><td>disabled</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} / {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{ts .StartTime}}</td></tr>
<tr><th>Listen</th><td>{{.Config.Listen}}</td></tr>
<tr><th>Database</th><td>{{.Config.DB}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/api/events">events</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, events []store.Event) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Events []store.Event
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Events:   events,
	}
	indexTmpl.Execute(w, data)
}
