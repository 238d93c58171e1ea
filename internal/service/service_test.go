package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/critic/internal/models"
	"github.com/joescharf/critic/internal/store"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Enqueue(id string) {
	d.mu.Lock()
	d.ids = append(d.ids, id)
	d.mu.Unlock()
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

func newTestService() (*Service, store.Store, *recordingDispatcher) {
	st := store.NewMemoryStore()
	d := &recordingDispatcher{}
	return New(st, d, nil), st, d
}

func TestParseRepo(t *testing.T) {
	tests := []struct {
		in        string
		wantOwner string
		wantName  string
	}{
		{"acme/api", "acme", "api"},
		{"github.com/acme/api", "acme", "api"},
		{"https://github.com/acme/api", "acme", "api"},
		{"https://github.com/acme/api.git", "acme", "api"},
		{"https://github.com/acme/api/", "acme", "api"},
		{"git@github.com:acme/api.git", "acme", "api"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			repo, err := ParseRepo(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, repo.Owner)
			assert.Equal(t, tt.wantName, repo.Name)
		})
	}

	for _, in := range []string{"", "acme", "acme/api/extra", "/api", "acme/"} {
		t.Run("invalid "+in, func(t *testing.T) {
			_, err := ParseRepo(in)
			assert.Error(t, err)
		})
	}
}

func TestSubmit_CreatesAndDispatches(t *testing.T) {
	svc, st, d := newTestService()

	task, err := svc.Submit(context.Background(), SubmitRequest{
		Repo:         "https://github.com/acme/api",
		ChangeSet:    12,
		AnalysisType: "Security",
		AuthToken:    "tok",
	})
	require.NoError(t, err)

	assert.Equal(t, "acme", task.Repo.Owner)
	assert.Equal(t, 12, task.Repo.ChangeSet)
	assert.Equal(t, models.AnalysisTypeSecurity, task.AnalysisType)
	assert.Equal(t, models.TaskStateQueued, task.State)
	assert.Empty(t, task.AuthToken, "credentials never leave the service")
	assert.Equal(t, 1, d.count())

	// The token is persisted for the worker even though responses hide it.
	stored, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok", stored.AuthToken)
}

func TestSubmit_DefaultsToFullAnalysis(t *testing.T) {
	svc, _, _ := newTestService()

	task, err := svc.Submit(context.Background(), SubmitRequest{Repo: "acme/api"})
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisTypeFull, task.AnalysisType)
}

func TestSubmit_ValidationFailsFast(t *testing.T) {
	svc, st, d := newTestService()

	tests := []SubmitRequest{
		{Repo: "not-a-repo"},
		{Repo: "acme/api", AnalysisType: "psychic"},
		{Repo: "acme/api", ChangeSet: -1},
	}
	for _, req := range tests {
		_, err := svc.Submit(context.Background(), req)
		var serr *Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, models.ErrKindValidation, serr.Kind)
	}

	tasks, err := st.ListTasks(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks, "rejected submissions leave no trace")
	assert.Equal(t, 0, d.count())
}

func TestSubmit_DeduplicatesInFlight(t *testing.T) {
	svc, _, d := newTestService()

	first, err := svc.Submit(context.Background(), SubmitRequest{Repo: "acme/api", ChangeSet: 5})
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), SubmitRequest{Repo: "acme/api", ChangeSet: 5})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, d.count(), "an idempotent resubmission may re-dispatch; the queue drops duplicates")
}

func TestStatus_OmitsResultBody(t *testing.T) {
	svc, st, _ := newTestService()

	task, err := svc.Submit(context.Background(), SubmitRequest{Repo: "acme/api"})
	require.NoError(t, err)

	_, err = st.Transition(context.Background(), task.ID, store.Transition{State: models.TaskStateProcessing, PickUp: true})
	require.NoError(t, err)
	_, err = st.Transition(context.Background(), task.ID, store.Transition{
		State:  models.TaskStateCompleted,
		Result: &models.Report{Summary: models.Summary{TotalFiles: 1}},
	})
	require.NoError(t, err)

	got, err := svc.Status(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateCompleted, got.State)
	assert.Nil(t, got.Result)
}

func TestResult_GatesOnTerminalState(t *testing.T) {
	svc, st, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Submit(ctx, SubmitRequest{Repo: "acme/api"})
	require.NoError(t, err)

	_, err = svc.Result(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = st.Transition(ctx, task.ID, store.Transition{State: models.TaskStateProcessing, PickUp: true})
	require.NoError(t, err)
	_, err = svc.Result(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = st.Transition(ctx, task.ID, store.Transition{
		State:  models.TaskStateCompleted,
		Result: &models.Report{Summary: models.Summary{TotalFiles: 3}},
	})
	require.NoError(t, err)

	rep, err := svc.Result(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Summary.TotalFiles)
}

func TestResult_FailedTaskReturnsItsError(t *testing.T) {
	svc, st, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Submit(ctx, SubmitRequest{Repo: "acme/api"})
	require.NoError(t, err)
	_, err = st.Transition(ctx, task.ID, store.Transition{State: models.TaskStateProcessing, PickUp: true})
	require.NoError(t, err)
	_, err = st.Transition(ctx, task.ID, store.Transition{
		State: models.TaskStateFailed,
		Error: &models.TaskError{Kind: models.ErrKindNotFound, Message: "repository vanished"},
	})
	require.NoError(t, err)

	_, err = svc.Result(ctx, task.ID)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, models.ErrKindNotFound, serr.Kind)
	assert.Contains(t, serr.Message, "vanished")
}

func TestResult_UnknownTask(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Result(context.Background(), "nope")
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, models.ErrKindNotFound, serr.Kind)
}

func TestCancel(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Submit(ctx, SubmitRequest{Repo: "acme/api"})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateFailed, cancelled.State)
	assert.Equal(t, models.ErrKindCancelled, cancelled.Error.Kind)

	// Cancelling a terminal task is rejected.
	_, err = svc.Cancel(ctx, task.ID)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, models.ErrKindInvalidTransition, serr.Kind)
}

func TestHandleWebhook_TriggersAnalysis(t *testing.T) {
	svc, _, d := newTestService()

	payload := []byte(`{
		"action": "opened",
		"pull_request": {"number": 17},
		"repository": {"full_name": "acme/api"}
	}`)

	task, err := svc.HandleWebhook(context.Background(), "pull_request", payload)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, 17, task.Repo.ChangeSet)
	assert.Equal(t, models.AnalysisTypeFull, task.AnalysisType)
	assert.Equal(t, 1, d.count())
}

func TestHandleWebhook_IgnoresOtherEventsAndActions(t *testing.T) {
	svc, _, d := newTestService()
	ctx := context.Background()

	task, err := svc.HandleWebhook(ctx, "push", []byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, task)

	task, err = svc.HandleWebhook(ctx, "pull_request", []byte(`{
		"action": "closed",
		"pull_request": {"number": 17},
		"repository": {"full_name": "acme/api"}
	}`))
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Equal(t, 0, d.count())
}

func TestHandleWebhook_MalformedPayload(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.HandleWebhook(context.Background(), "pull_request", []byte(`{not json`))
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, models.ErrKindValidation, serr.Kind)
}
