package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/critic/internal/models"
)

// ErrorKind classifies retrieval failures. RateLimited and Transport are
// retryable; NotFound and AuthDenied are terminal for the task.
type ErrorKind string

const (
	ErrNotFound    ErrorKind = "not_found"
	ErrAuthDenied  ErrorKind = "auth_denied"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrTransport   ErrorKind = "transport"
)

// Error is a structured retrieval failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("github %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the orchestrator may retry after this error.
func (e *Error) Retryable() bool {
	return e.Kind == ErrRateLimited || e.Kind == ErrTransport
}

// FileRecord is one retrieved file, ordered as the provider returned it.
// Records are transient: they live only for the duration of a task execution.
type FileRecord struct {
	Path      string
	Language  string
	Content   string
	Truncated bool
}

// Limits bounds how much content a single fetch may accumulate. The total
// ceiling exists because the downstream bottleneck is prompt size, not
// storage.
type Limits struct {
	MaxFiles      int
	MaxFileBytes  int
	MaxTotalBytes int
}

// DefaultLimits mirror the retrieval bounds of the analysis pipeline.
var DefaultLimits = Limits{
	MaxFiles:      100,
	MaxFileBytes:  100 * 1024,
	MaxTotalBytes: 1024 * 1024,
}

const defaultBaseURL = "https://api.github.com"

// Client fetches repository content from the GitHub REST API. The zero
// token means unauthenticated access with the provider's public rate limits.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API endpoint (tests, GHE).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient returns a GitHub API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the filtered, ordered file set for a repository or, when the
// reference carries a change-set number, for the files touched by that
// change-set. Pure with respect to task state: identical inputs yield
// identical output, which is what makes crash re-dispatch idempotent.
func (c *Client) Fetch(ctx context.Context, repo models.RepoReference, token string, limits Limits) ([]FileRecord, error) {
	if repo.ChangeSet > 0 {
		return c.fetchChangeSet(ctx, repo, token, limits)
	}
	return c.fetchTree(ctx, repo, token, limits)
}

type repoInfo struct {
	DefaultBranch string `json:"default_branch"`
}

type treeResponse struct {
	Tree []treeEntry `json:"tree"`
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

func (c *Client) fetchTree(ctx context.Context, repo models.RepoReference, token string, limits Limits) ([]FileRecord, error) {
	var info repoInfo
	if err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s", repo.Owner, repo.Name), token, &info); err != nil {
		return nil, err
	}
	branch := info.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	var tree treeResponse
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", repo.Owner, repo.Name, branch)
	if err := c.getJSON(ctx, path, token, &tree); err != nil {
		return nil, err
	}

	var records []FileRecord
	total := 0
	for _, entry := range tree.Tree {
		if entry.Type != "blob" || !Analyzable(entry.Path) {
			continue
		}
		if entry.Size > limits.MaxFileBytes {
			continue // excluded, not truncated
		}
		if len(records) >= limits.MaxFiles || total+entry.Size > limits.MaxTotalBytes {
			break // keep already-accepted files, discard the remainder
		}

		content, err := c.fileContent(ctx, repo, entry.Path, branch, token)
		if err != nil {
			return nil, err
		}
		records = append(records, FileRecord{
			Path:     entry.Path,
			Language: Language(entry.Path),
			Content:  content,
		})
		total += len(content)
	}
	return records, nil
}

type pullInfo struct {
	Number int `json:"number"`
	Head   struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

type pullFile struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Patch    string `json:"patch"`
}

func (c *Client) fetchChangeSet(ctx context.Context, repo models.RepoReference, token string, limits Limits) ([]FileRecord, error) {
	var pr pullInfo
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", repo.Owner, repo.Name, repo.ChangeSet)
	if err := c.getJSON(ctx, path, token, &pr); err != nil {
		return nil, err
	}

	var files []pullFile
	path = fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=100", repo.Owner, repo.Name, repo.ChangeSet)
	if err := c.getJSON(ctx, path, token, &files); err != nil {
		return nil, err
	}

	var records []FileRecord
	total := 0
	for _, f := range files {
		if f.Status == "removed" || !Analyzable(f.Filename) {
			continue
		}
		if len(records) >= limits.MaxFiles {
			break
		}

		content, err := c.fileContent(ctx, repo, f.Filename, pr.Head.SHA, token)
		if err != nil {
			return nil, err
		}
		if len(content) > limits.MaxFileBytes {
			continue
		}
		if total+len(content) > limits.MaxTotalBytes {
			break
		}
		records = append(records, FileRecord{
			Path:     f.Filename,
			Language: Language(f.Filename),
			Content:  content,
		})
		total += len(content)
	}
	return records, nil
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func (c *Client) fileContent(ctx context.Context, repo models.RepoReference, path, ref, token string) (string, error) {
	var cr contentsResponse
	p := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", repo.Owner, repo.Name, path, ref)
	if err := c.getJSON(ctx, p, token, &cr); err != nil {
		return "", err
	}
	if cr.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(cr.Content, "\n", ""))
		if err != nil {
			return "", &Error{Kind: ErrTransport, Message: fmt.Sprintf("decode %s: %v", path, err)}
		}
		return string(decoded), nil
	}
	return cr.Content, nil
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &Error{Kind: ErrTransport, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: ErrTransport, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: ErrTransport, Message: err.Error()}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: ErrTransport, Message: fmt.Sprintf("parse %s: %v", path, err)}
	}
	return nil
}

func classifyStatus(resp *http.Response, path string) *Error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: ErrNotFound, Message: path}
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return &Error{Kind: ErrRateLimited, Message: path}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: ErrAuthDenied, Message: path}
	default:
		return &Error{Kind: ErrTransport, Message: fmt.Sprintf("%s: status %d", path, resp.StatusCode)}
	}
}
