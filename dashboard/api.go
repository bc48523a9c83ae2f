package dashboard

import (
	"context"
	"time"

	"gopkg.in/httprequest.v1"

	"github.com/rogpeppe/plugmon/googlecharts"
	"github.com/rogpeppe/plugmon/monitor"
)

var reqServer httprequest.Server

func (h *Handler) newAPIHandler(p httprequest.Params) (*apiHandler, context.Context, error) {
	return &apiHandler{h}, p.Context, nil
}

type apiHandler struct {
	h *Handler
}

// StatusResponse holds the status as served by /api/status and /ws.
type StatusResponse struct {
	// Available reports whether there is any status yet.
	Available bool
	// Time holds the time of the most recent poll.
	Time time.Time
	// ReadingTime holds the time of the reading that
	// Power, Voltage and Current are taken from, or nil
	// if there has been no reading.
	ReadingTime *time.Time `json:",omitempty"`
	Power       float64
	Voltage     float64
	Current     float64
	TotalKWh    float64
	Warning     string `json:",omitempty"`
	Failures    int    `json:",omitempty"`
}

func newStatusResponse(s *monitor.Status) *StatusResponse {
	if s == nil {
		return &StatusResponse{}
	}
	resp := &StatusResponse{
		Available: true,
		Time:      s.Time,
		TotalKWh:  s.TotalKWh,
		Warning:   s.Warning,
		Failures:  s.Failures,
	}
	if r := s.Latest; r != nil {
		t := r.Time
		resp.ReadingTime = &t
		resp.Power = r.Power
		resp.Voltage = r.Voltage
		resp.Current = r.Current
	}
	return resp
}

type statusRequest struct {
	httprequest.Route `httprequest:"GET /api/status"`
}

func (h *apiHandler) GetStatus(*statusRequest) (*StatusResponse, error) {
	return newStatusResponse(h.h.currentStatus()), nil
}

type historyRequest struct {
	httprequest.Route `httprequest:"GET /api/history"`
}

// historyPoint holds one row of the chart of recent readings.
type historyPoint struct {
	Time    time.Time `googlecharts:"Time"`
	Power   float64   `googlecharts:"Power (W),format=%.1f W"`
	Voltage float64   `googlecharts:"Voltage (V),format=%.1f V"`
	Current float64   `googlecharts:"Current (mA),format=%.0f mA"`
}

func (h *apiHandler) GetHistory(*historyRequest) (*googlecharts.DataTable, error) {
	var points []historyPoint
	if s := h.h.currentStatus(); s != nil {
		points = make([]historyPoint, len(s.Recent))
		for i, r := range s.Recent {
			points[i] = historyPoint{
				Time:    r.Time,
				Power:   r.Power,
				Voltage: r.Voltage,
				Current: r.Current,
			}
		}
	}
	return googlecharts.NewDataTable(points), nil
}
