// Package api assembles the HTTP surface: static asset delivery, the
// TURN credential endpoint, the signaling upgrade, and diagnostics,
// all behind a permissive CORS middleware.
package api

import (
	"encoding/json"
	"net/http"

	"relayhub/internal/assets"
	"relayhub/internal/turnsupervisor"
)

// Server builds the top-level http.Handler for the process.
type Server struct {
	mux *http.ServeMux
}

// New wires every route. ws serves the signaling upgrade
// (relayhub/internal/transport.Handler) and health serves the
// diagnostics snapshot (relayhub/internal/diagnostics.Handler). Both
// are accepted as http.Handler so this package stays free of a direct
// dependency on the hub.
func New(assetSrv *assets.Server, turn *turnsupervisor.Supervisor, ws http.Handler, health http.Handler) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/index.html" {
			http.NotFound(w, r)
			return
		}
		assetSrv.Index(w, r)
	})
	mux.HandleFunc("/assets/", assetSrv.Asset)
	mux.HandleFunc("/api/turn-config", turnConfigHandler(turn))
	mux.Handle("/ws", ws)
	mux.Handle("/healthz", health)

	return &Server{mux: mux}
}

func turnConfigHandler(turn *turnsupervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if turn == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(turn.Descriptor())
	}
}

// ServeHTTP wraps every route in permissive CORS handling, matching
// the spec's "allow any origin, any method, any header".
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corsMiddleware(s.mux).ServeHTTP(w, r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
