// Package diagnostics serves the liveness/counter snapshot. It never
// influences routing or authentication decisions.
package diagnostics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"relayhub/internal/hub"
	"relayhub/internal/turnsupervisor"
)

// response is the JSON body returned by the health endpoint.
type response struct {
	Status                string `json:"status"`
	RegisteredPeers       int64  `json:"registered_peers"`
	EnvelopesRouted       int64  `json:"envelopes_routed"`
	EnvelopesDropped      int64  `json:"envelopes_dropped"`
	TurnAllocationsTried  int64  `json:"turn_allocations_attempted"`
}

// Handler serves /healthz, reporting 200 once both the hub and TURN
// supervisor are serving and 503 otherwise.
type Handler struct {
	ready *atomic.Bool
	h     *hub.Hub
	turn  *turnsupervisor.Supervisor
}

func NewHandler(h *hub.Hub, turn *turnsupervisor.Supervisor, ready *atomic.Bool) *Handler {
	return &Handler{ready: ready, h: h, turn: turn}
}

func (hd *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats := hd.h.Stats()
	resp := response{
		Status:               "ok",
		RegisteredPeers:      stats.RegisteredPeers,
		EnvelopesRouted:      stats.EnvelopesRouted,
		EnvelopesDropped:     stats.EnvelopesDropped,
		TurnAllocationsTried: hd.turn.AllocationAttempts(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !hd.ready.Load() {
		resp.Status = "starting"
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
