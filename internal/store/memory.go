package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joescharf/critic/internal/models"
)

// MemoryStore is an in-memory Store used in tests and as the reference
// implementation of the transition semantics. A single mutex serializes all
// transitions, giving the same single-writer-per-id guarantee as SQLite's
// one-connection pool.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	order []string // creation order
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryStore) CreateTask(_ context.Context, t *models.Task) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		existing := s.tasks[s.order[i]]
		if existing.Repo == t.Repo && existing.AnalysisType == t.AnalysisType && !existing.State.Terminal() {
			return cloneTask(existing), nil
		}
	}

	if t.ID == "" {
		t.ID = newULID()
	}
	now := time.Now().UTC()
	t.State = models.TaskStateQueued
	t.Progress = 0
	t.CreatedAt = now
	t.UpdatedAt = now

	s.tasks[t.ID] = cloneTask(t)
	s.order = append(s.order, t.ID)
	return cloneTask(t), nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, tr Transition) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !t.State.CanTransition(tr.State) {
		return nil, &InvalidTransitionError{ID: id, From: t.State, To: tr.State}
	}

	applyTransition(t, tr)
	return cloneTask(t), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter ListFilter) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*models.Task
	for _, id := range s.order {
		t := s.tasks[id]
		if filter.Repo != "" && t.Repo.String() != filter.Repo {
			continue
		}
		if filter.ChangeSet > 0 && t.Repo.ChangeSet != filter.ChangeSet {
			continue
		}
		tasks = append(tasks, cloneTask(t))
	}

	// Newest first, matching the SQLite implementation.
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneTask(t *models.Task) *models.Task {
	out := *t
	out.Diagnostics = append([]string(nil), t.Diagnostics...)
	if t.Result != nil {
		r := *t.Result
		r.Files = append([]models.FileReport(nil), t.Result.Files...)
		out.Result = &r
	}
	if t.Error != nil {
		e := *t.Error
		out.Error = &e
	}
	return &out
}
