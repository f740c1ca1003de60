package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/slipwayci/slipway/internal/event"
	"github.com/slipwayci/slipway/internal/queue"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summarizeRun(run))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.runs.GetRun(r.Context(), runID)
	if errors.Is(err, queue.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run failed", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	steps, err := s.runs.StepsForRun(r.Context(), runID)
	if err != nil {
		s.logger.Error("load steps failed", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load steps")
		return
	}

	detail := RunDetail{
		RunSummary: summarizeRun(run),
		Trigger:    run.Trigger,
		LastError:  run.LastError,
		Steps:      make([]StepDetail, 0, len(steps)),
	}
	for _, step := range steps {
		detail.Steps = append(detail.Steps, StepDetail{
			Index:       step.Index,
			Name:        step.Name,
			Status:      string(step.Status),
			ExitCode:    step.ExitCode,
			StartedAt:   step.StartedAt,
			CompletedAt: step.CompletedAt,
			Output:      step.Output,
		})
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	out := make([]PipelineSummary, 0, len(s.pipelines.Pipelines))
	for _, name := range s.pipelines.Names() {
		p := s.pipelines.Pipelines[name]
		summary := PipelineSummary{
			Name:        p.Name,
			Matrix:      p.Axes,
			Fingerprint: p.Fingerprint,
		}
		for _, step := range p.Steps {
			summary.Steps = append(summary.Steps, step.Name)
		}
		out = append(out, summary)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	stamped, runIDs, err := s.ingestor.Ingest(r.Context(), ev, "api")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if runIDs == nil {
		runIDs = []string{}
	}

	s.writeJSON(w, http.StatusAccepted, EventResponse{EventID: stamped.EventID, Runs: runIDs})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
