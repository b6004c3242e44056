package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gantry/internal/graph"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/runtime"
	"github.com/seantiz/gantry/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createNetworkRequest is the JSON body for POST /v1/networks: one named
// function described by its placeholders, nodes, and saved outputs.
type createNetworkRequest struct {
	Name    string               `json:"name"`
	Inputs  []*graph.Placeholder `json:"inputs"`
	Nodes   []*graph.Node        `json:"nodes"`
	Outputs []*graph.Save        `json:"outputs"`
}

// listNetworksResponse pairs the live registry snapshot with the paginated
// registration history.
type listNetworksResponse struct {
	Networks []runtime.NetworkStatus `json:"networks"`
	History  []*model.Network        `json:"history"`
	Total    int                     `json:"total"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
}

// networkResponse is the detail view of one network: its live registry
// status, if currently registered, and its latest registration record.
type networkResponse struct {
	Status *runtime.NetworkStatus `json:"status,omitempty"`
	Record *model.Network         `json:"record,omitempty"`
}

func (s *Server) handleCreateNetwork(w http.ResponseWriter, r *http.Request) {
	var req createNetworkRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	m := graph.NewModule()
	fn := m.AddFunction(req.Name)
	for _, p := range req.Inputs {
		fn.AddPlaceholder(p.Name, p.Shape...)
	}
	for _, n := range req.Nodes {
		fn.AddNode(n.Name, n.Op, n.Inputs...)
	}
	for _, o := range req.Outputs {
		fn.AddSave(o.Name, o.Input)
	}

	if err := s.manager.AddNetwork(m); err != nil {
		var compErr *runtime.CompilationError
		switch {
		case errors.Is(err, runtime.ErrAlreadyExists):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &compErr):
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.Error("add network", "network", req.Name, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to add network")
		}
		return
	}

	fragments := 0
	for _, st := range s.manager.Networks() {
		if st.Name == req.Name {
			fragments = st.Fragments
		}
	}

	rec := &model.Network{
		ID:        model.NewID(),
		Name:      req.Name,
		Fragments: fragments,
		Status:    model.NetworkActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateNetwork(r.Context(), rec); err != nil {
		s.logger.Error("record network registration", "network", req.Name, "error", err)
	}

	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListNetworks(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	history, total, err := s.store.ListNetworks(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list network history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list networks")
		return
	}
	if history == nil {
		history = []*model.Network{}
	}

	s.writeJSON(w, http.StatusOK, listNetworksResponse{
		Networks: s.manager.Networks(),
		History:  history,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// handleGetNetwork combines the live registry status with the latest
// registration record. 404 only when the name is unknown to both.
func (s *Server) handleGetNetwork(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var status *runtime.NetworkStatus
	for _, st := range s.manager.Networks() {
		if st.Name == name {
			snapshot := st
			status = &snapshot
			break
		}
	}

	rec, err := s.store.GetNetwork(r.Context(), name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("get network record", "network", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get network")
		return
	}

	if status == nil && rec == nil {
		s.writeError(w, http.StatusNotFound, "network not found")
		return
	}

	s.writeJSON(w, http.StatusOK, networkResponse{
		Status: status,
		Record: rec,
	})
}

// handleDeleteNetwork removes a network. Removal is idempotent and
// failure-free: unknown names return the same 204 as known ones.
func (s *Server) handleDeleteNetwork(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.manager.RemoveNetwork(name)
	if err := s.store.MarkNetworkRemoved(r.Context(), name); err != nil {
		s.logger.Error("record network removal", "network", name, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
