package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/phaseseg/internal/phase"
	"github.com/user/phaseseg/internal/state"
	"github.com/user/phaseseg/internal/types"
)

type mockGateway struct {
	lastEvents []types.RawEvent
	lastJob    *state.Job
	err        error
}

func (m *mockGateway) Segment(_ context.Context, raw []types.RawEvent) (*types.RunOutput, error) {
	m.lastEvents = raw
	if m.err != nil {
		return nil, m.err
	}
	out := &types.RunOutput{RunID: "adhoc"}
	for i, e := range raw {
		out.Events = append(out.Events, types.LabeledEvent{
			Event:    types.Event{IncidentID: e.IncidentID, Timestamp: e.Timestamp, Actor: e.Actor},
			Position: i,
			Phase:    types.PhaseLiveDispatch,
		})
	}
	return out, nil
}

func (m *mockGateway) Trigger(_ context.Context, job *state.Job) (*types.RunIndex, error) {
	m.lastJob = job
	return &types.RunIndex{RunID: "run-1", Job: job.Name, Status: types.RunStatusQueued}, nil
}

type fixture struct {
	srv     *Server
	runs    *state.RunStore
	results *state.ResultStore
}

func setupServer(t *testing.T, mock *mockGateway, jobs ...*state.Job) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := state.NewJobStore(filepath.Join(dir, "jobs.json"))
	for _, job := range jobs {
		if err := store.Add(job); err != nil {
			t.Fatal(err)
		}
	}
	runs := state.NewRunStore(dir)
	results := state.NewResultStore(dir)
	return &fixture{
		srv:     NewServer(store, mock.Segment, mock.Trigger, runs, results),
		runs:    runs,
		results: results,
	}
}

func do(srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	f := setupServer(t, &mockGateway{})

	w := do(f.srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestSegment(t *testing.T) {
	mock := &mockGateway{}
	f := setupServer(t, mock)

	body := `{"events":[{"incident_id":"INC-1","timestamp":"2024-03-05 09:00:00","actor":"DISPATCH"}]}`
	w := do(f.srv, http.MethodPost, "/segment", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var out types.RunOutput
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Events) != 1 || out.Events[0].Phase != types.PhaseLiveDispatch {
		t.Errorf("unexpected output: %+v", out)
	}
	if len(mock.lastEvents) != 1 || mock.lastEvents[0].IncidentID != "INC-1" {
		t.Errorf("events not passed through: %+v", mock.lastEvents)
	}
}

func TestSegmentBadRequests(t *testing.T) {
	f := setupServer(t, &mockGateway{})

	if w := do(f.srv, http.MethodPost, "/segment", "not json"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected 400, got %d", w.Code)
	}
	if w := do(f.srv, http.MethodPost, "/segment", `{"events":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("no events: expected 400, got %d", w.Code)
	}
	if w := do(f.srv, http.MethodGet, "/segment", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /segment: expected 405, got %d", w.Code)
	}
}

func TestSegmentSchemaError(t *testing.T) {
	mock := &mockGateway{err: &phase.SchemaError{Field: "timestamp", Row: 0}}
	f := setupServer(t, mock)

	w := do(f.srv, http.MethodPost, "/segment", `{"events":[{"incident_id":"INC-1"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "timestamp") {
		t.Errorf("error should name the field, got %s", w.Body.String())
	}

	mock.err = errors.New("boom")
	w = do(f.srv, http.MethodPost, "/segment", `{"events":[{"incident_id":"INC-1"}]}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestJobTrigger(t *testing.T) {
	mock := &mockGateway{}
	f := setupServer(t, mock, &state.Job{Name: "nightly", Input: "events.csv", Enabled: true})

	w := do(f.srv, http.MethodPost, "/jobs/nightly", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["run_id"] != "run-1" || resp["status"] != "queued" {
		t.Errorf("unexpected response: %v", resp)
	}
	if mock.lastJob == nil || mock.lastJob.Input != "events.csv" {
		t.Errorf("job not passed to trigger: %+v", mock.lastJob)
	}
}

func TestJobTriggerNotFound(t *testing.T) {
	f := setupServer(t, &mockGateway{})
	if w := do(f.srv, http.MethodPost, "/jobs/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestJobTriggerDisabled(t *testing.T) {
	mock := &mockGateway{}
	f := setupServer(t, mock, &state.Job{Name: "paused", Input: "events.csv", Enabled: false})

	if w := do(f.srv, http.MethodPost, "/jobs/paused", ""); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if mock.lastJob != nil {
		t.Error("disabled job should not be triggered")
	}
}

func TestRunAPI(t *testing.T) {
	f := setupServer(t, &mockGateway{})
	ctx := context.Background()

	run := &types.RunIndex{Input: "events.csv", Status: types.RunStatusComplete}
	if err := f.runs.Create(ctx, run); err != nil {
		t.Fatal(err)
	}
	out := &types.RunOutput{
		RunID: run.RunID,
		Events: []types.LabeledEvent{
			{Event: types.Event{IncidentID: "INC-1", InsertSequence: 1}, Position: 0, Phase: types.PhaseLiveDispatch},
			{Event: types.Event{IncidentID: "INC-1", InsertSequence: 2}, Position: 1, Phase: types.PhaseDocQC},
		},
		Summaries: []types.IncidentSummary{{IncidentID: "INC-1", NEventsTotal: 2}},
	}
	if err := f.results.Save(ctx, out); err != nil {
		t.Fatal(err)
	}

	w := do(f.srv, http.MethodGet, "/api/runs", "")
	var runs []types.RunIndex
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != run.RunID {
		t.Errorf("unexpected runs: %+v", runs)
	}

	w = do(f.srv, http.MethodGet, "/api/runs/"+string(run.RunID), "")
	if w.Code != http.StatusOK {
		t.Errorf("GET run: expected 200, got %d", w.Code)
	}

	w = do(f.srv, http.MethodGet, "/api/runs/"+string(run.RunID)+"/summaries", "")
	var sums []types.IncidentSummary
	if err := json.NewDecoder(w.Body).Decode(&sums); err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].NEventsTotal != 2 {
		t.Errorf("unexpected summaries: %+v", sums)
	}

	w = do(f.srv, http.MethodGet, "/api/runs/"+string(run.RunID)+"/events?limit=1", "")
	var events []types.LabeledEvent
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].InsertSequence != 1 {
		t.Errorf("unexpected events: %+v", events)
	}

	if w := do(f.srv, http.MethodGet, "/api/runs/"+string(run.RunID)+"/events?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
	if w := do(f.srv, http.MethodGet, "/api/runs/nope/summaries", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown run: expected 404, got %d", w.Code)
	}
}

func TestRunAPINotConfigured(t *testing.T) {
	mock := &mockGateway{}
	srv := NewServer(state.NewJobStore(filepath.Join(t.TempDir(), "jobs.json")), mock.Segment, mock.Trigger, nil, nil)
	if w := do(srv, http.MethodGet, "/api/runs", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestToken(t *testing.T) {
	f := setupServer(t, &mockGateway{})
	f.srv.SetToken("s3cret")

	if w := do(f.srv, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health should stay open, got %d", w.Code)
	}
	if w := do(f.srv, http.MethodGet, "/api/runs", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := setupServer(t, &mockGateway{}, &state.Job{Name: "nightly", Input: "events.csv", Enabled: true})
	f.srv.SetRateLimit(0.001, 2)

	for i := 0; i < 2; i++ {
		if w := do(f.srv, http.MethodPost, "/jobs/nightly", ""); w.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, w.Code)
		}
	}
	w := do(f.srv, http.MethodPost, "/jobs/nightly", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if w := do(f.srv, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("GET should not be limited, got %d", w.Code)
	}

	f.srv.SetRateLimit(0, 0)
	if w := do(f.srv, http.MethodPost, "/jobs/nightly", ""); w.Code != http.StatusAccepted {
		t.Errorf("limit removed: expected 202, got %d", w.Code)
	}
}
