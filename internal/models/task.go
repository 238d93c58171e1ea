package models

import "time"

// TaskState represents where a task is in its lifecycle.
type TaskState string

const (
	TaskStateQueued     TaskState = "queued"
	TaskStateProcessing TaskState = "processing"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
)

// Terminal reports whether no further transitions are permitted from s.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// CanTransition reports whether the state machine permits moving from s to next.
// Terminal states absorb everything; processing may re-enter itself for
// progress updates and crash re-dispatch pickups.
func (s TaskState) CanTransition(next TaskState) bool {
	switch s {
	case TaskStateQueued:
		return next == TaskStateProcessing
	case TaskStateProcessing:
		return next == TaskStateProcessing || next == TaskStateCompleted || next == TaskStateFailed
	default:
		return false
	}
}

// AnalysisType selects which issue categories the model is asked to emphasize.
type AnalysisType string

const (
	AnalysisTypeFull        AnalysisType = "full"
	AnalysisTypeSecurity    AnalysisType = "security"
	AnalysisTypePerformance AnalysisType = "performance"
	AnalysisTypeQuality     AnalysisType = "quality"
)

// ValidAnalysisType reports whether t is a known analysis type.
func ValidAnalysisType(t AnalysisType) bool {
	switch t {
	case AnalysisTypeFull, AnalysisTypeSecurity, AnalysisTypePerformance, AnalysisTypeQuality:
		return true
	}
	return false
}

// ErrorKind classifies task failures for retry decisions and API responses.
type ErrorKind string

const (
	ErrKindNotFound          ErrorKind = "not_found"
	ErrKindAuthDenied        ErrorKind = "auth_denied"
	ErrKindRateLimited       ErrorKind = "rate_limited"
	ErrKindTransport         ErrorKind = "transport"
	ErrKindUnavailable       ErrorKind = "unavailable"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindMalformedOutput   ErrorKind = "malformed_output"
	ErrKindValidation        ErrorKind = "validation"
	ErrKindCancelled         ErrorKind = "cancelled"
	ErrKindInvalidTransition ErrorKind = "invalid_transition"
	ErrKindExhaustedRetries  ErrorKind = "exhausted_retries"
)

// TaskError is the structured failure descriptor persisted on a failed task.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *TaskError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// RepoReference identifies the unit of work: a repository, optionally scoped
// to one change-set (pull request number, 0 = whole repository).
type RepoReference struct {
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	ChangeSet int    `json:"change_set,omitempty"`
}

// String returns the canonical owner/name form.
func (r RepoReference) String() string {
	return r.Owner + "/" + r.Name
}

// Task is one durable unit of analysis work, tracked from submission to a
// terminal state. Result and Error are mutually exclusive and both absent
// until the task terminates.
type Task struct {
	ID           string       `json:"id"`
	Repo         RepoReference `json:"repo"`
	AnalysisType AnalysisType `json:"analysis_type"`
	State        TaskState    `json:"state"`
	Progress     int          `json:"progress"`
	Message      string       `json:"message,omitempty"`
	AttemptCount int          `json:"attempt_count"`
	Diagnostics  []string     `json:"diagnostics,omitempty"` // non-fatal degradations
	Result       *Report      `json:"result,omitempty"`
	Error        *TaskError   `json:"error,omitempty"`
	AuthToken    string       `json:"-"` // passed through to the source provider, never serialized
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
