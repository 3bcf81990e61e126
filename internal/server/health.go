package server

import (
	"net/http"
	"time"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Storage       string  `json:"storage"`
	OverallHealth float64 `json:"overall_health"`
	Orchestrating bool    `json:"orchestrating"`
	Uptime        int64   `json:"uptime_seconds"`
}

type healthHandler struct {
	status    StatusReporter
	storage   Pinger
	version   string
	degraded  float64
	startedAt time.Time
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Storage: "in-memory",
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	httpStatus := http.StatusOK

	if h.storage != nil {
		resp.Storage = "connected"
		if err := h.storage.Ping(r.Context()); err != nil {
			resp.Storage = "disconnected"
			resp.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	if h.status != nil {
		report := h.status.GetAgentStatusReport()
		resp.OverallHealth = report.OverallHealth
		resp.Orchestrating = h.status.Running()
		// Degraded still answers 200.
		if resp.Status == "healthy" && report.OverallHealth >= 0 && report.OverallHealth < h.degraded {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, httpStatus, resp)
}
