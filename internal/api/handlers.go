package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
	"github.com/vietddude/triage/internal/workflow"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type feedbackResponse struct {
	Success  bool               `json:"success"`
	Feedback []*domain.Feedback `json:"feedback"`
}

type statsResponse struct {
	Success bool `json:"success"`
	*domain.Stats
}

type triggerRequest struct {
	TriggeredBy string `json:"triggeredBy"`
}

type triggerResponse struct {
	Success    bool             `json:"success"`
	InstanceID string           `json:"instanceId"`
	Status     *workflow.Status `json:"status"`
}

type statusResponse struct {
	Status *workflow.Status `json:"status"`
}

type runsResponse struct {
	Success bool               `json:"success"`
	Runs    []*workflow.Status `json:"runs"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func writeServerError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msg, Details: err.Error()})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	filter := storage.FeedbackFilter{Source: r.URL.Query().Get("source")}

	rows, err := s.feedback.List(r.Context(), filter)
	if err != nil {
		writeServerError(w, "Failed to fetch feedback", err)
		return
	}
	if rows == nil {
		rows = []*domain.Feedback{}
	}
	writeJSON(w, http.StatusOK, feedbackResponse{Success: true, Feedback: rows})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.feedback.Stats(r.Context())
	if err != nil {
		writeServerError(w, "Failed to fetch stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: stats})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.host.List(r.Context(), limit)
	if err != nil {
		writeServerError(w, "Failed to list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runsResponse{Success: true, Runs: runs})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	// An empty body is allowed; the trigger source then defaults.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body", Details: err.Error()})
		return
	}

	st, err := s.host.Trigger(r.Context(), req.TriggeredBy)
	if errors.Is(err, domain.ErrRunInProgress) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeServerError(w, "Failed to trigger workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{Success: true, InstanceID: st.ID, Status: st})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.host.Status(r.Context(), r.URL.Query().Get("instanceId"))
	switch {
	case errors.Is(err, domain.ErrMissingIdentifier):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, domain.ErrRunNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
		return
	case err != nil:
		writeServerError(w, "Failed to fetch status", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: st})
}
