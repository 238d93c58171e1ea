package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/critic/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all transitions through Go's connection pool,
	// which is exactly the single-writer-per-id discipline the task state
	// machine requires.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const taskColumns = `id, repo_owner, repo_name, change_set, analysis_type, state, progress, message, attempt_count, diagnostics, result, error_kind, error_message, auth_token, created_at, updated_at`

func (s *SQLiteStore) CreateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotent submission: an identical non-terminal task wins over a new one.
	row := tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		WHERE repo_owner = ? AND repo_name = ? AND change_set = ? AND analysis_type = ?
		AND state IN ('queued', 'processing')
		ORDER BY created_at DESC LIMIT 1`,
		t.Repo.Owner, t.Repo.Name, t.Repo.ChangeSet, string(t.AnalysisType))
	if existing, err := scanTask(row); err == nil {
		return existing, nil
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing task: %w", err)
	}

	if t.ID == "" {
		t.ID = newULID()
	}
	now := time.Now().UTC()
	t.State = models.TaskStateQueued
	t.Progress = 0
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, repo_owner, repo_name, change_set, analysis_type, state, progress, message, attempt_count, diagnostics, auth_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Repo.Owner, t.Repo.Name, t.Repo.ChangeSet, string(t.AnalysisType),
		string(t.State), t.Progress, t.Message, t.AttemptCount, "[]", t.AuthToken,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, tr Transition) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	if !t.State.CanTransition(tr.State) {
		return nil, &InvalidTransitionError{ID: id, From: t.State, To: tr.State}
	}

	applyTransition(t, tr)

	diagJSON, err := json.Marshal(t.Diagnostics)
	if err != nil {
		diagJSON = []byte("[]")
	}
	var resultJSON sql.NullString
	if t.Result != nil {
		data, err := json.Marshal(t.Result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}
	var errKind, errMsg sql.NullString
	if t.Error != nil {
		errKind = sql.NullString{String: string(t.Error.Kind), Valid: true}
		errMsg = sql.NullString{String: t.Error.Message, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET state=?, progress=?, message=?, attempt_count=?, diagnostics=?, result=?, error_kind=?, error_message=?, updated_at=?
		WHERE id=?`,
		string(t.State), t.Progress, t.Message, t.AttemptCount, string(diagJSON),
		resultJSON, errKind, errMsg, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("transition task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

// applyTransition mutates t in place according to tr. Progress is monotonic
// within a single execution attempt; a pickup starts a fresh attempt.
func applyTransition(t *models.Task, tr Transition) {
	t.State = tr.State
	if tr.PickUp {
		t.AttemptCount++
		t.Progress = 0
	}
	if tr.Progress != nil && *tr.Progress > t.Progress {
		t.Progress = *tr.Progress
	}
	if tr.State == models.TaskStateCompleted {
		t.Progress = 100
	}
	if tr.Message != "" {
		t.Message = tr.Message
	}
	t.Diagnostics = append(t.Diagnostics, tr.Diagnostics...)
	if tr.Result != nil {
		t.Result = tr.Result
	}
	if tr.Error != nil {
		t.Error = tr.Error
	}
	t.UpdatedAt = time.Now().UTC()
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter ListFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conditions []string
	var args []any

	if filter.Repo != "" {
		owner, name, ok := strings.Cut(filter.Repo, "/")
		if !ok {
			return nil, fmt.Errorf("malformed repo filter: %s", filter.Repo)
		}
		conditions = append(conditions, "repo_owner = ?", "repo_name = ?")
		args = append(args, owner, name)
	}
	if filter.ChangeSet > 0 {
		conditions = append(conditions, "change_set = ?")
		args = append(args, filter.ChangeSet)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var state, analysisType, diagJSON string
	var resultJSON, errKind, errMsg sql.NullString

	err := row.Scan(&t.ID, &t.Repo.Owner, &t.Repo.Name, &t.Repo.ChangeSet,
		&analysisType, &state, &t.Progress, &t.Message, &t.AttemptCount,
		&diagJSON, &resultJSON, &errKind, &errMsg, &t.AuthToken,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.State = models.TaskState(state)
	t.AnalysisType = models.AnalysisType(analysisType)
	_ = json.Unmarshal([]byte(diagJSON), &t.Diagnostics)
	if resultJSON.Valid {
		var r models.Report
		if err := json.Unmarshal([]byte(resultJSON.String), &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		t.Result = &r
	}
	if errKind.Valid {
		t.Error = &models.TaskError{Kind: models.ErrorKind(errKind.String), Message: errMsg.String}
	}
	return t, nil
}
