// internal/webhook/server.go
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/user/phaseseg/internal/phase"
	"github.com/user/phaseseg/internal/state"
	"github.com/user/phaseseg/internal/types"
)

// SegmentFunc labels ad-hoc events.
type SegmentFunc func(ctx context.Context, raw []types.RawEvent) (*types.RunOutput, error)

// JobHandler starts a run for a job and returns its record.
type JobHandler func(ctx context.Context, job *state.Job) (*types.RunIndex, error)

// maxBodyBytes caps POST /segment payloads.
const maxBodyBytes = 32 << 20

// Server is a lightweight HTTP handler for segmentation and run endpoints.
type Server struct {
	jobs    *state.JobStore
	segment SegmentFunc
	trigger JobHandler
	runs    types.RunStore
	results types.ResultStore
	token   string
	limiter *rate.Limiter
	mux     *http.ServeMux
}

// NewServer creates a new Server. runs and results may be nil, in which case
// the run API answers 503.
func NewServer(jobs *state.JobStore, segment SegmentFunc, trigger JobHandler, runs types.RunStore, results types.ResultStore) *Server {
	s := &Server{
		jobs:    jobs,
		segment: segment,
		trigger: trigger,
		runs:    runs,
		results: results,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /segment", s.handleSegment)
	s.mux.HandleFunc("POST /jobs/{name}", s.handleJob)
	s.mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleAPIRun)
	s.mux.HandleFunc("GET /api/runs/{id}/summaries", s.handleAPISummaries)
	s.mux.HandleFunc("GET /api/runs/{id}/events", s.handleAPIEvents)
	return s
}

// SetToken requires "Authorization: Bearer <token>" on every endpoint except
// /health. An empty token disables the check.
func (s *Server) SetToken(token string) {
	s.token = token
}

// SetRateLimit bounds POST requests to perSecond with the given burst. A
// non-positive rate removes the limit.
func (s *Server) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		s.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.URL.Path != "/health" && !s.authorized(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if s.limiter != nil && r.Method == http.MethodPost && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// segmentRequest is the JSON body for POST /segment.
type segmentRequest struct {
	Events []types.RawEvent `json:"events"`
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 {
		http.Error(w, `{"error":"events are required"}`, http.StatusBadRequest)
		return
	}

	out, err := s.segment(r.Context(), req.Events)
	if err != nil {
		var schemaErr *phase.SchemaError
		if errors.As(err, &schemaErr) {
			writeError(w, http.StatusBadRequest, schemaErr.Error())
			return
		}
		slog.Error("segment request failed", "events", len(req.Events), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		http.Error(w, `{"error":"job name required"}`, http.StatusBadRequest)
		return
	}

	job, err := s.jobs.Get(name)
	if err != nil {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}

	if !job.Enabled {
		http.Error(w, `{"error":"job is disabled"}`, http.StatusForbidden)
		return
	}

	run, err := s.trigger(r.Context(), job)
	if err != nil {
		slog.Error("webhook job trigger failed", "job", name, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": string(run.RunID),
		"status": string(run.Status),
	})
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, `{"error":"run API not configured"}`, http.StatusServiceUnavailable)
		return
	}
	runs, err := s.runs.List(r.Context())
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*types.RunIndex{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// lookupRun resolves the {id} path value, writing the error response when
// the run is unknown.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*types.RunIndex, bool) {
	if s.runs == nil || s.results == nil {
		http.Error(w, `{"error":"run API not configured"}`, http.StatusServiceUnavailable)
		return nil, false
	}
	run, err := s.runs.Get(r.Context(), types.RunID(r.PathValue("id")))
	if err != nil {
		http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
		return nil, false
	}
	return run, true
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleAPISummaries(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	sums, err := s.results.Summaries(r.Context(), run.RunID)
	if err != nil {
		slog.Error("load summaries failed", "run_id", run.RunID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if sums == nil {
		sums = []*types.IncidentSummary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	limit := 500
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %s", q))
			return
		}
		limit = n
	}

	events, err := s.results.Events(r.Context(), run.RunID, limit)
	if err != nil {
		slog.Error("load labeled events failed", "run_id", run.RunID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*types.LabeledEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
