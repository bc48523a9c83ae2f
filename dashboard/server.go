// Package dashboard serves a live web view of a plug's status.
package dashboard

import (
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/juju/loggo"
	"github.com/julienschmidt/httprouter"

	"github.com/rogpeppe/plugmon/asset"
	"github.com/rogpeppe/plugmon/internal/notifier"
	"github.com/rogpeppe/plugmon/monitor"
)

var logger = loggo.GetLogger("plugmon.dashboard")

// Params holds the parameters for a call to New.
type Params struct {
	// Title holds the title of the dashboard page.
	// If it's empty, "Plug monitor" is used.
	Title string
	// Location holds the time zone used to display times.
	// If it's nil, time.Local is used.
	Location *time.Location
	// Metrics is used to serve /metrics. If it's nil,
	// no metrics are served.
	Metrics http.Handler
}

// Handler serves the dashboard. It implements monitor.Updater
// so that it can be kept up to date by the polling loop.
type Handler struct {
	p      Params
	status notifier.Value[*monitor.Status]
	gz     http.Handler
}

var _ monitor.Updater = (*Handler)(nil)

// New returns a new dashboard handler.
func New(p Params) *Handler {
	if p.Title == "" {
		p.Title = "Plug monitor"
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	h := &Handler{
		p: p,
	}
	router := httprouter.New()
	router.GET("/", h.serveHome)
	router.Handler("GET", "/static/*path", http.StripPrefix("/static", asset.Handler()))
	for _, rh := range reqServer.Handlers(h.newAPIHandler) {
		router.Handle(rh.Method, rh.Path, rh.Handle)
	}
	if p.Metrics != nil {
		router.Handler("GET", "/metrics", p.Metrics)
	}
	h.gz = gziphandler.GzipHandler(router)
	return h
}

// UpdateStatus implements monitor.Updater by making s
// the status shown by the dashboard.
func (h *Handler) UpdateStatus(s *monitor.Status) {
	h.status.Set(s)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/ws" {
		// Compression would get in the way of the connection hijacking.
		h.serveWebsocket(w, req)
		return
	}
	h.gz.ServeHTTP(w, req)
}

// Close closes the handler, terminating any websocket connections.
func (h *Handler) Close() error {
	return h.status.Close()
}

// currentStatus returns the most recent status, or nil
// if there is none yet.
func (h *Handler) currentStatus() *monitor.Status {
	s, _ := h.status.Get()
	return s
}
