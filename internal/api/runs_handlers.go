package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// listRuns handles GET /v1/runs?publisher_ref=&status=&limit=&offset=. It
// returns {"runs": [...]} on success, 400 for invalid filters, 503 when no run
// store is configured, or 500 if the store call fails.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := pipeline.RunFilter{
		PublisherRef: strings.TrimSpace(r.URL.Query().Get("publisher_ref")),
		Limit:        limit,
		Offset:       offset,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := parseStatus(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}
	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// getRun handles GET /v1/runs/{run_id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (pipeline.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return pipeline.RunStatusRunning, nil
	case "succeeded", "success":
		return pipeline.RunStatusSucceeded, nil
	case "failed", "error":
		return pipeline.RunStatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}
