// Package httpapi is the request layer: user CRUD over the applied state plus
// cluster introspection. It maps requests onto the directory store and the
// consensus node without touching either's internals.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"concord/internal/directory"
	"concord/internal/raft"
)

// Refresher triggers an on-demand peer discovery pass.
type Refresher interface {
	Refresh() error
}

type Server struct {
	store   *directory.Store
	node    *raft.Node
	refresh Refresher        // nil when discovery is disabled
	ws      http.HandlerFunc // consensus transport endpoint, mounted at /ws
}

func New(store *directory.Store, node *raft.Node, refresh Refresher, ws http.HandlerFunc) *Server {
	return &Server{store: store, node: node, refresh: refresh, ws: ws}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/users", s.createUser)
	r.Get("/users", s.listUsers)
	r.Get("/users/{id}", s.getUser)
	r.Get("/peers", s.getPeers)
	r.Post("/peers/update", s.updatePeers)
	r.Get("/status", s.status)
	r.Get("/healthz", s.healthz)
	if s.ws != nil {
		r.Get("/ws", s.ws)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
