// Package streamer broadcasts live minimization progress to connected
// dashboard clients over a websocket hub, grounded on the teacher's
// internal/websocket/dag_streamer.go (register/unregister/broadcast channel
// triad feeding a map of client connections).
package streamer

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// IterationEvent is one progress notice: a candidate subset was tested, a
// violation was (not) found, or the best-so-far MCS shrank.
type IterationEvent struct {
	Type         string    `json:"type"` // "subset_tested", "violation_found", "mcs_shrunk", "done"
	Iteration    int       `json:"iteration"`
	CandidateSize int      `json:"candidate_size,omitempty"`
	Label        string    `json:"label,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Hub manages websocket connections for live MCS-search progress.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan IterationEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// New creates an empty Hub. Call Run in a goroutine before serving
// HandleWebSocket.
func New() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan IterationEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run drives the hub's event loop until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			slog.Info("streamer: client connected", "total", len(h.clients))
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			slog.Info("streamer: client disconnected", "total", len(h.clients))
		case ev := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteJSON(ev); err != nil {
					slog.Warn("streamer: write error", "err", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades an incoming request to a websocket connection and
// registers it with the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("streamer: upgrade error", "err", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish broadcasts ev to every connected client. Non-blocking: a full
// broadcast channel drops the event rather than stalling the minimizer.
func (h *Hub) Publish(ev IterationEvent) {
	ev.Timestamp = time.Now()
	select {
	case h.broadcast <- ev:
	default:
		slog.Warn("streamer: broadcast queue full, dropping event", "type", ev.Type)
	}
}

// SubsetTested announces that a candidate of the given size was replayed.
func (h *Hub) SubsetTested(iteration, size int, label string) {
	h.Publish(IterationEvent{Type: "subset_tested", Iteration: iteration, CandidateSize: size, Label: label})
}

// ViolationFound announces that a candidate reproduced the invariant violation.
func (h *Hub) ViolationFound(iteration, size int, label string) {
	h.Publish(IterationEvent{Type: "violation_found", Iteration: iteration, CandidateSize: size, Label: label})
}

// MCSShrunk announces that the best-so-far MCS candidate got smaller.
func (h *Hub) MCSShrunk(iteration, size int, label string) {
	h.Publish(IterationEvent{Type: "mcs_shrunk", Iteration: iteration, CandidateSize: size, Label: label})
}

// Done announces the run has finished.
func (h *Hub) Done(finalSize int) {
	h.Publish(IterationEvent{Type: "done", CandidateSize: finalSize})
}

// Stats reports the hub's current connection/queue counts, for the status
// API.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]int{
		"connected_clients": len(h.clients),
		"broadcast_queue":   len(h.broadcast),
	}
}
