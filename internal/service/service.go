// Package service is the transport-independent application surface. The
// HTTP API, the MCP server, and the CLI all call through here, so submission
// validation, deduplication, and result gating behave identically everywhere.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joescharf/critic/internal/models"
	"github.com/joescharf/critic/internal/store"
)

// Error is a structured service failure carrying the task error kind, so
// transports can map it to their own status codes.
type Error struct {
	Kind    models.ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrNotReady is returned by Result while the task has not reached a
// terminal state.
var ErrNotReady = errors.New("analysis not finished yet")

// Dispatcher schedules a task id for execution.
type Dispatcher interface {
	Enqueue(id string)
}

// Service coordinates the store and the dispatch queue.
type Service struct {
	store      store.Store
	dispatcher Dispatcher
	logger     *slog.Logger
}

// New wires a Service. logger may be nil.
func New(st store.Store, d Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: st, dispatcher: d, logger: logger}
}

// SubmitRequest is a submission before validation. Repo accepts owner/name
// or a GitHub URL; ChangeSet 0 means the whole repository.
type SubmitRequest struct {
	Repo         string
	ChangeSet    int
	AnalysisType string
	AuthToken    string
}

// Submit validates the request, creates (or deduplicates onto) a task, and
// dispatches it. Validation failures never create a task.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Task, error) {
	repo, err := ParseRepo(req.Repo)
	if err != nil {
		return nil, &Error{Kind: models.ErrKindValidation, Message: err.Error()}
	}
	if req.ChangeSet < 0 {
		return nil, &Error{Kind: models.ErrKindValidation, Message: "change-set number must be positive"}
	}
	repo.ChangeSet = req.ChangeSet

	analysisType := models.AnalysisType(strings.ToLower(strings.TrimSpace(req.AnalysisType)))
	if analysisType == "" {
		analysisType = models.AnalysisTypeFull
	}
	if !models.ValidAnalysisType(analysisType) {
		return nil, &Error{Kind: models.ErrKindValidation,
			Message: fmt.Sprintf("unknown analysis type %q", req.AnalysisType)}
	}

	t, err := s.store.CreateTask(ctx, &models.Task{
		Repo:         repo,
		AnalysisType: analysisType,
		AuthToken:    req.AuthToken,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if s.dispatcher != nil && t.State == models.TaskStateQueued {
		s.dispatcher.Enqueue(t.ID)
	}
	s.logger.Info("task submitted", "task", t.ID, "repo", repo.String(),
		"change_set", repo.ChangeSet, "type", analysisType, "state", t.State)
	return redact(t), nil
}

// Status returns the task without its result body.
func (s *Service) Status(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.getTask(ctx, id)
	if err != nil {
		return nil, err
	}
	t = redact(t)
	t.Result = nil
	return t, nil
}

// Result returns the report of a completed task. A non-terminal task yields
// ErrNotReady; a failed task yields its persisted error.
func (s *Service) Result(ctx context.Context, id string) (*models.Report, error) {
	t, err := s.getTask(ctx, id)
	if err != nil {
		return nil, err
	}
	switch t.State {
	case models.TaskStateCompleted:
		return t.Result, nil
	case models.TaskStateFailed:
		return nil, &Error{Kind: t.Error.Kind, Message: t.Error.Message}
	default:
		return nil, ErrNotReady
	}
}

// List returns tasks newest first, without result bodies.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*models.Task, error) {
	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		t = redact(t)
		t.Result = nil
		out = append(out, t)
	}
	return out, nil
}

// Cancel moves a non-terminal task to failed with a cancelled error. Work in
// flight for the task is discarded when it next touches the store.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.store.Transition(ctx, id, store.Transition{
		State:   models.TaskStateFailed,
		Message: "cancelled by request",
		Error:   &models.TaskError{Kind: models.ErrKindCancelled, Message: "cancelled by request"},
	})
	if err != nil {
		var ite *store.InvalidTransitionError
		if errors.As(err, &ite) {
			return nil, &Error{Kind: models.ErrKindInvalidTransition,
				Message: fmt.Sprintf("task %s already %s", id, ite.From)}
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, &Error{Kind: models.ErrKindNotFound, Message: fmt.Sprintf("task %s not found", id)}
		}
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	s.logger.Info("task cancelled", "task", id)
	return redact(t), nil
}

func (s *Service) getTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &Error{Kind: models.ErrKindNotFound, Message: fmt.Sprintf("task %s not found", id)}
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// redact strips credentials before a task leaves the service.
func redact(t *models.Task) *models.Task {
	cp := *t
	cp.AuthToken = ""
	return &cp
}

// ParseRepo normalizes a repository reference into owner and name. Accepted
// forms: "owner/name", "github.com/owner/name", an https GitHub URL, and the
// SSH form "git@github.com:owner/name.git".
func ParseRepo(s string) (models.RepoReference, error) {
	orig := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "git@github.com:")
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "github.com/")
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return models.RepoReference{}, fmt.Errorf("invalid repository reference %q, want owner/name", orig)
	}
	return models.RepoReference{Owner: parts[0], Name: parts[1]}, nil
}
