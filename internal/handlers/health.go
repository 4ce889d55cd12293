package handlers

import (
	"net/http"
	"runtime"
	"time"

	"cleanconvert/internal/startup"
)

const (
	statusHealthy = "healthy"
	statusBusy    = "busy"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	// Pipeline state
	Items       int   `json:"items"`
	Active      int   `json:"active"`
	Limit       int   `json:"limit"`
	LiveHandles int   `json:"liveHandles"`
	LiveBytes   int64 `json:"liveBytes"`
	MemoryPause bool  `json:"memoryPaused"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// ready reports whether new work would be admitted right away.
func (h *Handlers) ready() bool {
	return !h.memory.IsPaused()
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	stats := h.batch.Stats()
	handles := h.registry.Stats()

	response := HealthResponse{
		Status:       statusHealthy,
		Ready:        h.ready(),
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Items:        stats.Total,
		Active:       stats.Active,
		Limit:        stats.Limit,
		LiveHandles:  handles.Live,
		LiveBytes:    handles.Bytes,
		MemoryPause:  h.memory.IsPaused(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if !response.Ready {
		response.Status = statusBusy
	}

	// busy is still healthy: work is delayed, not lost
	writeJSON(w, http.StatusOK, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessCheck returns 503 while conversions are paused for memory pressure.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.ready() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

// GetVersion returns the application version and build information
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, startup.GetBuildInfo())
}
