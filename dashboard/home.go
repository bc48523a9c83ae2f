package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

var tmplFuncs = template.FuncMap{
	"watts": func(f float64) string {
		return fmt.Sprintf("%.2f W", f)
	},
	"volts": func(f float64) string {
		return fmt.Sprintf("%.1f V", f)
	},
	"milliamps": func(f float64) string {
		return fmt.Sprintf("%v mA", f)
	},
	"kWh": func(f float64) string {
		return fmt.Sprintf("%.3f kWh", f)
	},
}

func newTemplate(s string) *template.Template {
	return template.Must(template.New("").Funcs(tmplFuncs).Parse(s))
}

type homeTemplParams struct {
	Title  string
	Status *StatusResponse
	// Updated holds the formatted time of the reading.
	Updated string
}

func (h *Handler) serveHome(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	p := homeTemplParams{
		Title:  h.p.Title,
		Status: newStatusResponse(h.currentStatus()),
	}
	if t := p.Status.ReadingTime; t != nil {
		p.Updated = t.In(h.p.Location).Format("2006-01-02 15:04:05")
	}
	var b bytes.Buffer
	if err := homeTempl.Execute(&b, p); err != nil {
		logger.Errorf("home template execution failed: %v", err)
		http.Error(w, fmt.Sprintf("template execution failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(b.Bytes())
}

var homeTempl = newTemplate(`<!DOCTYPE html>
<html>
<head>
<title>{{.Title}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<script src="https://www.gstatic.com/charts/loader.js"></script>
<link rel="stylesheet" href="/static/dashboard.css">
</head>
<body>
<h1>{{.Title}}</h1>
<div id="warning" class="warning{{if not .Status.Warning}} hidden{{end}}">{{.Status.Warning}}</div>
<div class="metrics">
	<div class="metric"><div class="label">Power</div><div class="value" id="power">{{watts .Status.Power}}</div></div>
	<div class="metric"><div class="label">Voltage</div><div class="value" id="voltage">{{volts .Status.Voltage}}</div></div>
	<div class="metric"><div class="label">Current</div><div class="value" id="current">{{milliamps .Status.Current}}</div></div>
	<div class="metric"><div class="label">Energy used</div><div class="value" id="energy">{{kWh .Status.TotalKWh}}</div></div>
</div>
<p>Last reading: <span id="updated">{{if .Updated}}{{.Updated}}{{else}}none yet{{end}}</span></p>
<div id="chart"></div>
<script src="/static/dashboard.js"></script>
</body>
</html>
`)
