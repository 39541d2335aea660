// Package httpapi exposes a small status/control HTTP surface fronting the
// streamer hub and the Prometheus metrics endpoint, grounded on the
// teacher's internal/api/server.go (gorilla/mux router, CORS middleware,
// one handler per route).
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netsys/sts-replay/internal/streamer"
)

// StatusProvider is the narrow view of a running MCS search the status
// endpoint reports on.
type StatusProvider interface {
	RunStatus() RunStatus
}

// RunStatus is the snapshot served at GET /status.
type RunStatus struct {
	Phase         string `json:"phase"`
	TotalReplays  int64  `json:"total_replays"`
	CurrentSize   int    `json:"current_size"`
	OriginalSize  int    `json:"original_size"`
}

// Server is the status/control API server.
type Server struct {
	hub      *streamer.Hub
	status   StatusProvider
	router   *mux.Router
}

// New builds a Server wired to hub (may be nil if streaming is disabled) and
// status (may be nil before a run has started).
func New(hub *streamer.Hub, status StatusProvider) *Server {
	s := &Server{hub: hub, status: status, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(corsMiddleware)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.HandleWebSocket)
		s.router.HandleFunc("/ws/stats", s.handleWSStats).Methods("GET", "OPTIONS")
	}
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET", "OPTIONS")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		json.NewEncoder(w).Encode(RunStatus{Phase: "idle"})
		return
	}
	json.NewEncoder(w).Encode(s.status.RunStatus())
}

func (s *Server) handleWSStats(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.hub.Stats())
}

// ListenAndServe starts the server on addr, blocking until it errors or is
// shut down.
func (s *Server) ListenAndServe(addr string) error {
	slog.Info("httpapi: listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Router exposes the underlying mux.Router, e.g. for tests via httptest.
func (s *Server) Router() *mux.Router { return s.router }
