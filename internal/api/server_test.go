package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/critic/internal/models"
	"github.com/joescharf/critic/internal/service"
	"github.com/joescharf/critic/internal/store"
)

type noopDispatcher struct{}

func (noopDispatcher) Enqueue(string) {}

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	st := store.NewMemoryStore()
	svc := service.New(st, noopDispatcher{}, nil)
	ts := httptest.NewServer(NewServer(svc, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func submitTask(t *testing.T, ts *httptest.Server) models.Task {
	t.Helper()

	resp := postJSON(t, ts.URL+"/api/v1/analyze", map[string]any{
		"repository": "acme/api",
		"change_set": 3,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	return decode[models.Task](t, resp)
}

func TestAnalyzeEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	task := submitTask(t, ts)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.TaskStateQueued, task.State)
	assert.Equal(t, "acme/api", task.Repo.String())
}

func TestAnalyzeEndpoint_ForwardsBearerToken(t *testing.T) {
	ts, st := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"repository": "acme/api"})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/analyze", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer gh-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	task := decode[models.Task](t, resp)

	stored, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "gh-token", stored.AuthToken)
	assert.Empty(t, task.AuthToken, "token never appears in the response")
}

func TestAnalyzeEndpoint_Validation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/analyze", map[string]any{"repository": "garbage"})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	task := submitTask(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/status/" + task.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[models.Task](t, resp)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, models.TaskStateQueued, got.State)
}

func TestStatusEndpoint_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/status/missing")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResultsEndpoint_Lifecycle(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()
	task := submitTask(t, ts)

	// Not ready while the task is in flight.
	resp, err := http.Get(ts.URL + "/api/v1/results/" + task.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]map[string]string](t, resp)
	assert.Equal(t, "not_ready", body["error"]["kind"])

	_, err = st.Transition(ctx, task.ID, store.Transition{State: models.TaskStateProcessing, PickUp: true})
	require.NoError(t, err)
	_, err = st.Transition(ctx, task.ID, store.Transition{
		State: models.TaskStateCompleted,
		Result: &models.Report{
			Files:   []models.FileReport{{Name: "a.py", Issues: []models.Issue{}}},
			Summary: models.Summary{TotalFiles: 1},
		},
	})
	require.NoError(t, err)

	resp, err = http.Get(ts.URL + "/api/v1/results/" + task.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decode[models.Report](t, resp)
	assert.Equal(t, 1, rep.Summary.TotalFiles)
}

func TestResultsEndpoint_FailedTask(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()
	task := submitTask(t, ts)

	_, err := st.Transition(ctx, task.ID, store.Transition{State: models.TaskStateProcessing, PickUp: true})
	require.NoError(t, err)
	_, err = st.Transition(ctx, task.ID, store.Transition{
		State: models.TaskStateFailed,
		Error: &models.TaskError{Kind: models.ErrKindAuthDenied, Message: "bad credentials"},
	})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/v1/results/" + task.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[map[string]map[string]string](t, resp)
	assert.Equal(t, "auth_denied", body["error"]["kind"])
}

func TestTasksEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	submitTask(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/tasks?repo=acme/api")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Tasks []models.Task `json:"tasks"`
		Count int           `json:"count"`
	}](t, resp)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Tasks, 1)

	resp, err = http.Get(ts.URL + "/api/v1/tasks?limit=bogus")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	task := submitTask(t, ts)

	resp := postJSON(t, ts.URL+"/api/v1/tasks/"+task.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.Task](t, resp)
	assert.Equal(t, models.TaskStateFailed, got.State)

	// Second cancel hits a terminal task.
	resp = postJSON(t, ts.URL+"/api/v1/tasks/"+task.ID+"/cancel", nil)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebhookEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	payload := map[string]any{
		"action":       "synchronize",
		"pull_request": map[string]any{"number": 9},
		"repository":   map[string]any{"full_name": "acme/api"},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/webhook", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Event", "pull_request")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	task := decode[models.Task](t, resp)
	assert.Equal(t, 9, task.Repo.ChangeSet)

	// Unrelated events are acknowledged but ignored.
	req, err = http.NewRequest(http.MethodPost, ts.URL+"/api/v1/webhook", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Event", "push")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
