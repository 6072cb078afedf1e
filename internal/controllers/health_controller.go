package controllers

import (
	"consentsync/internal/connectivity"
	"consentsync/internal/stores"
	"fmt"
	"net/http"
	"time"
)

// StatusReporter is implemented by every store.
type StatusReporter interface {
	Status() stores.Status
}

type HealthController struct {
	config    StatusReporter
	consents  StatusReporter
	probe     connectivity.ProbeInterface
	startTime time.Time
}

type healthResponse struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Connected     bool    `json:"connected"`
	OfflineMode   bool    `json:"offline_mode"`
	ConfigState   string  `json:"config_state"`
	ConsentsState string  `json:"consents_state"`
}

// Health never probes the backend; it reports the last known state.
func (hc *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(hc.startTime)
	cfg, consents := hc.config.Status(), hc.consents.Status()
	state := hc.probe.State()
	resp := healthResponse{
		Status:        "ok",
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
		Connected:     state.IsConnected(),
		OfflineMode:   state.IsOfflineMode(),
		ConfigState:   cfg.State.String(),
		ConsentsState: consents.State.String(),
	}
	if cfg.ConnectionError || consents.ConnectionError {
		resp.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
}

func NewHealthController(config stores.ConfigStoreInterface, consents stores.ConsentStoreInterface, probe connectivity.ProbeInterface) *HealthController {
	return &HealthController{
		config:    config,
		consents:  consents,
		probe:     probe,
		startTime: time.Now(),
	}
}
