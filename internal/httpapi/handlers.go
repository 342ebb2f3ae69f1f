package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"concord/internal/raft"
)

const commitWait = 5 * time.Second

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commitWait)
	defer cancel()

	user, err := s.store.CreateUser(ctx, req.Name, req.Email)
	if errors.Is(err, raft.ErrNotLeader) {
		s.notLeader(w)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	user, ok := s.store.GetUser(uint32(id))
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListUsers())
}

func (s *Server) getPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"peers": s.node.Peers()})
}

func (s *Server) updatePeers(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "peer discovery disabled")
		return
	}
	if err := s.refresh.Refresh(); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": s.node.Peers()})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// notLeader reports 503 with the last known leader as a hint. The hint is
// best effort; callers retry elsewhere.
func (s *Server) notLeader(w http.ResponseWriter) {
	resp := map[string]string{"error": "not leader"}
	if hint := s.node.LeaderHint(); hint != "" && hint != s.node.ID() {
		resp["leader"] = hint
	}
	writeJSON(w, http.StatusServiceUnavailable, resp)
}
