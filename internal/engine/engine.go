package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/critic/internal/github"
	"github.com/joescharf/critic/internal/llm"
	"github.com/joescharf/critic/internal/models"
	"github.com/joescharf/critic/internal/prompt"
	"github.com/joescharf/critic/internal/report"
	"github.com/joescharf/critic/internal/store"
)

// Retriever fetches the file set for a repository reference.
type Retriever interface {
	Fetch(ctx context.Context, repo models.RepoReference, token string, limits github.Limits) ([]github.FileRecord, error)
}

// Config bounds the pipeline. Zero values fall back to DefaultConfig.
type Config struct {
	Workers          int
	ChunkParallelism int
	Retry            RetryPolicy
	TaskTimeout      time.Duration
	Limits           github.Limits
}

// DefaultConfig returns the production pipeline bounds.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		ChunkParallelism: 4,
		Retry:            RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second},
		TaskTimeout:      10 * time.Minute,
		Limits:           github.DefaultLimits,
	}
}

// errSuperseded aborts an execution whose task reached a terminal state
// through another path, typically cancellation. Nothing is persisted; the
// work in flight is discarded.
var errSuperseded = errors.New("task reached a terminal state elsewhere")

// Engine owns the dispatch queue and drives tasks to a terminal state.
type Engine struct {
	store   store.Store
	source  Retriever
	invoker llm.Invoker
	builder *prompt.Builder
	agg     *report.Aggregator
	queue   *Queue
	cfg     Config
	logger  *slog.Logger
}

// New wires an Engine. logger may be nil.
func New(st store.Store, source Retriever, invoker llm.Invoker, builder *prompt.Builder, agg *report.Aggregator, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ChunkParallelism <= 0 {
		cfg.ChunkParallelism = def.ChunkParallelism
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.Limits.MaxFiles <= 0 {
		cfg.Limits = def.Limits
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		store:   st,
		source:  source,
		invoker: invoker,
		builder: builder,
		agg:     agg,
		queue:   NewQueue(256),
		cfg:     cfg,
		logger:  logger,
	}
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) {
	e.queue.Start(ctx, e.cfg.Workers, e.execute)
}

// Stop drains the queue and waits for in-flight executions.
func (e *Engine) Stop() {
	e.queue.Stop()
}

// Enqueue schedules a task for execution.
func (e *Engine) Enqueue(id string) {
	if !e.queue.Enqueue(id) {
		e.logger.Warn("dispatch dropped", "task", id)
	}
}

// Recover re-dispatches every non-terminal task. Called on startup so work
// interrupted by a crash resumes; pickup increments the attempt count and
// resets progress, and retrieval is repeatable, so a re-run is safe.
func (e *Engine) Recover(ctx context.Context) error {
	tasks, err := e.store.ListTasks(ctx, store.ListFilter{Limit: 1000})
	if err != nil {
		return fmt.Errorf("list tasks for recovery: %w", err)
	}
	for _, t := range tasks {
		if t.State.Terminal() {
			continue
		}
		e.logger.Info("recovering task", "task", t.ID, "state", t.State)
		e.Enqueue(t.ID)
	}
	return nil
}

// execute drives one task to a terminal state, or returns a backoff delay
// when the task should be re-dispatched after a transient retrieval failure.
func (e *Engine) execute(ctx context.Context, id string) time.Duration {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		e.logger.Error("load task", "task", id, "error", err)
		return 0
	}
	if t.State.Terminal() {
		return 0 // stale dispatch
	}

	t, err = e.store.Transition(ctx, id, store.Transition{
		State:   models.TaskStateProcessing,
		Message: "analysis started",
		PickUp:  true,
	})
	if err != nil {
		var ite *store.InvalidTransitionError
		if !errors.As(err, &ite) {
			e.logger.Error("pick up task", "task", id, "error", err)
		}
		return 0
	}
	e.logger.Info("task picked up", "task", id, "repo", t.Repo.String(), "attempt", t.AttemptCount)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
	defer cancel()

	rep, diags, runErr := e.run(runCtx, t)
	if runErr == nil {
		e.finish(ctx, t.ID, store.Transition{
			State:       models.TaskStateCompleted,
			Message:     "analysis complete",
			Diagnostics: diags,
			Result:      rep,
		})
		e.logger.Info("task completed", "task", t.ID,
			"files", rep.Summary.TotalFiles, "issues", rep.Summary.TotalIssues)
		return 0
	}
	return e.fail(ctx, t, runErr)
}

// fail maps a pipeline error onto the task record. The returned delay is
// non-zero only for a retryable retrieval failure with attempts remaining.
func (e *Engine) fail(ctx context.Context, t *models.Task, runErr error) time.Duration {
	if errors.Is(runErr, errSuperseded) {
		return 0
	}

	var ghErr *github.Error
	if errors.As(runErr, &ghErr) {
		if ghErr.Retryable() && t.AttemptCount < e.cfg.Retry.MaxAttempts {
			delay := e.cfg.Retry.Delay(t.AttemptCount)
			e.logger.Warn("retrying task", "task", t.ID, "attempt", t.AttemptCount, "delay", delay, "error", runErr)
			e.finish(ctx, t.ID, store.Transition{
				State:   models.TaskStateProcessing,
				Message: fmt.Sprintf("transient source error, retrying: %v", ghErr),
			})
			return delay
		}
		kind := sourceErrorKind(ghErr.Kind)
		if ghErr.Retryable() {
			kind = models.ErrKindExhaustedRetries
		}
		e.markFailed(ctx, t.ID, kind, runErr.Error())
		return 0
	}

	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		e.markFailed(ctx, t.ID, models.ErrKindTimeout, "analysis exceeded the task deadline")
	case errors.Is(runErr, context.Canceled):
		// Shutdown. The task stays in processing and Recover re-dispatches it.
	default:
		e.markFailed(ctx, t.ID, models.ErrKindExhaustedRetries, runErr.Error())
	}
	return 0
}

// run executes one attempt: fetch, chunk, invoke, aggregate.
func (e *Engine) run(ctx context.Context, t *models.Task) (*models.Report, []string, error) {
	if err := e.progress(ctx, t.ID, 2, "fetching repository content"); err != nil {
		return nil, nil, err
	}

	files, err := e.source.Fetch(ctx, t.Repo, t.AuthToken, e.cfg.Limits)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", t.Repo, err)
	}
	if err := e.progress(ctx, t.ID, 10, fmt.Sprintf("analyzing %d files", len(files))); err != nil {
		return nil, nil, err
	}

	type chunkJob struct {
		file  int
		chunk int
		p     prompt.Prompt
	}

	var (
		jobs  []chunkJob
		diags []string
	)
	fileResults := make([]report.FileResult, len(files))
	for i, f := range files {
		prompts, truncated := e.builder.Build(f, t.AnalysisType)
		fileResults[i] = report.FileResult{
			Path:      f.Path,
			Truncated: truncated || f.Truncated,
			Chunks:    make([]report.ChunkResult, len(prompts)),
		}
		if fileResults[i].Truncated {
			diags = append(diags, fmt.Sprintf("%s: content truncated before analysis", f.Path))
		}
		for j, p := range prompts {
			jobs = append(jobs, chunkJob{file: i, chunk: j, p: p})
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed int
		done   int
	)
	sem := make(chan struct{}, e.cfg.ChunkParallelism)
	for _, job := range jobs {
		wg.Add(1)
		go func(job chunkJob) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			issues, invErr := e.invokeChunk(runCtx, job.p)

			mu.Lock()
			if invErr != nil {
				issues = nil
				var lerr *llm.Error
				if errors.As(invErr, &lerr) && lerr.Kind == llm.ErrMalformedOutput {
					diags = append(diags, fmt.Sprintf("%s chunk %d/%d: unparseable model output dropped",
						job.p.File, job.p.ChunkIndex+1, job.p.ChunkCount))
				} else {
					failed++
					diags = append(diags, fmt.Sprintf("%s chunk %d/%d: %v",
						job.p.File, job.p.ChunkIndex+1, job.p.ChunkCount, invErr))
				}
			}
			fileResults[job.file].Chunks[job.chunk] = report.ChunkResult{
				LineOffset: job.p.LineOffset,
				Issues:     issues,
			}
			done++
			pct := 10 + 70*done/len(jobs)
			mu.Unlock()

			if err := e.progress(runCtx, t.ID, pct, fmt.Sprintf("analyzed %d/%d chunks", done, len(jobs))); err != nil {
				cancelRun() // cancelled underneath us, stop the remaining chunks
			}
		}(job)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	if runCtx.Err() != nil {
		return nil, nil, errSuperseded
	}
	if len(jobs) > 0 && failed == len(jobs) {
		return nil, nil, fmt.Errorf("all %d chunks failed", len(jobs))
	}

	if err := e.progress(ctx, t.ID, 80, "aggregating findings"); err != nil {
		return nil, nil, err
	}
	return e.agg.Aggregate(fileResults), diags, nil
}

// invokeChunk sends one prompt, retrying transient backend failures. Chunk
// retries never touch the task attempt count.
func (e *Engine) invokeChunk(ctx context.Context, p prompt.Prompt) ([]llm.RawIssue, error) {
	var issues []llm.RawIssue
	err := e.cfg.Retry.Do(ctx, retryableChunk, func() error {
		var err error
		issues, err = e.invoker.Invoke(ctx, p)
		return err
	})
	return issues, err
}

func retryableChunk(err error) bool {
	var lerr *llm.Error
	return errors.As(err, &lerr) && lerr.Retryable()
}

// progress records a processing update. A rejected transition means the task
// terminated through another path; any other store error is logged and the
// execution continues.
func (e *Engine) progress(ctx context.Context, id string, pct int, msg string) error {
	_, err := e.store.Transition(ctx, id, store.Transition{
		State:    models.TaskStateProcessing,
		Progress: &pct,
		Message:  msg,
	})
	if err != nil {
		var ite *store.InvalidTransitionError
		if errors.As(err, &ite) {
			return errSuperseded
		}
		e.logger.Warn("progress update failed", "task", id, "error", err)
	}
	return nil
}

func (e *Engine) markFailed(ctx context.Context, id string, kind models.ErrorKind, msg string) {
	e.logger.Warn("task failed", "task", id, "kind", kind, "error", msg)
	e.finish(ctx, id, store.Transition{
		State:   models.TaskStateFailed,
		Message: msg,
		Error:   &models.TaskError{Kind: kind, Message: msg},
	})
}

// finish applies a terminal (or retry hold) transition. A rejected
// transition is a benign race with cancellation and the outcome is discarded.
func (e *Engine) finish(ctx context.Context, id string, tr store.Transition) {
	if _, err := e.store.Transition(ctx, id, tr); err != nil {
		var ite *store.InvalidTransitionError
		if !errors.As(err, &ite) {
			e.logger.Error("finish task", "task", id, "error", err)
		}
	}
}

func sourceErrorKind(k github.ErrorKind) models.ErrorKind {
	switch k {
	case github.ErrNotFound:
		return models.ErrKindNotFound
	case github.ErrAuthDenied:
		return models.ErrKindAuthDenied
	case github.ErrRateLimited:
		return models.ErrKindRateLimited
	default:
		return models.ErrKindTransport
	}
}
