package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gantry/internal/graph"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/runtime"
	"github.com/seantiz/gantry/internal/store"
)

// createRunRequest is the JSON body for POST /v1/networks/{name}/runs.
// Inputs bind flat float32 values by placeholder name.
type createRunRequest struct {
	Inputs map[string][]float32 `json:"inputs"`
}

// createRunResponse acknowledges an accepted run.
type createRunResponse struct {
	ID      string `json:"id"`
	RunID   uint64 `json:"run_id"`
	Network string `json:"network"`
	Status  string `json:"status"`
}

// listRunsResponse wraps the paginated run history.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// handleCreateRun dispatches an asynchronous run. The response is a 202 with
// the run identifiers; completion lands on the run record and the event
// stream. An unknown network is still a 202 — the core delivers the miss
// through the completion path, and it surfaces on the record as a failure.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ectx := graph.NewContext()
	inputs := make(map[string]bool, len(req.Inputs))
	for binding, values := range req.Inputs {
		t := ectx.Allocate(binding, len(values))
		copy(t.Data, values)
		inputs[binding] = true
	}

	rec := &model.Run{
		ID:        model.NewID(),
		Network:   name,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(r.Context(), rec); err != nil {
		s.logger.Error("create run record", "network", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	start := time.Now()
	runID := s.manager.RunNetwork(name, ectx, func(id runtime.RunID, runErr error, ectx *graph.Context) {
		s.finishRun(rec.ID, uint64(id), runErr, ectx, inputs, start)
	})

	s.writeJSON(w, http.StatusAccepted, createRunResponse{
		ID:      rec.ID,
		RunID:   uint64(runID),
		Network: name,
		Status:  model.StatusPending,
	})
}

// finishRun records a run's terminal state from the completion callback.
// The callback arrives on a dispatcher goroutine after the request context
// is gone, so store updates use a background context.
func (s *Server) finishRun(recID string, runID uint64, runErr error, ectx *graph.Context, inputs map[string]bool, start time.Time) {
	now := time.Now().UTC()
	duration := time.Since(start).Milliseconds()

	rec := &model.Run{
		ID:         recID,
		RunID:      &runID,
		Status:     model.StatusCompleted,
		DurationMS: &duration,
		FinishedAt: &now,
	}
	if runErr != nil {
		rec.Status = model.StatusFailed
		rec.Error = runErr.Error()
	} else {
		rec.Outputs = marshalOutputs(ectx, inputs)
	}

	if err := s.store.FinishRun(context.Background(), rec); err != nil {
		s.logger.Error("finish run record", "run_record", recID, "run_id", runID, "error", err)
	}
}

// marshalOutputs encodes every binding the run produced beyond the caller's
// inputs.
func marshalOutputs(ectx *graph.Context, inputs map[string]bool) []byte {
	outputs := make(map[string][]float32)
	for _, name := range ectx.Names() {
		if inputs[name] {
			continue
		}
		if t, ok := ectx.Get(name); ok {
			outputs[name] = t.Data
		}
	}
	if len(outputs) == 0 {
		return nil
	}
	data, err := json.Marshal(outputs)
	if err != nil {
		return nil
	}
	return data
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
