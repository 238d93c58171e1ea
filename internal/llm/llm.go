package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/critic/internal/prompt"
)

// ErrorKind classifies model-backend failures. Unavailable and Timeout are
// retryable at chunk granularity; MalformedOutput is downgraded by the
// orchestrator to an empty result plus a degradation diagnostic.
type ErrorKind string

const (
	ErrUnavailable     ErrorKind = "unavailable"
	ErrTimeout         ErrorKind = "timeout"
	ErrMalformedOutput ErrorKind = "malformed_output"
)

// Error is a structured model-invocation failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the orchestrator may retry the chunk.
func (e *Error) Retryable() bool {
	return e.Kind == ErrUnavailable || e.Kind == ErrTimeout
}

// RawIssue is one finding as reported by the model, before severity
// derivation and line re-basing. Line is relative to the prompt excerpt.
type RawIssue struct {
	Type        string `json:"type"`
	Line        *int   `json:"line"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// Invoker sends one prompt to the model backend and parses the response
// against the fixed issue schema.
type Invoker interface {
	Invoke(ctx context.Context, p prompt.Prompt) ([]RawIssue, error)
}

// Client wraps the Anthropic API as the model backend.
type Client struct {
	api     *anthropic.Client
	model   anthropic.Model
	timeout time.Duration
}

// NewClient creates an LLM client with the given API key, model, and
// per-request timeout.
func NewClient(apiKey, model string, timeout time.Duration) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		api:     &client,
		model:   anthropic.Model(model),
		timeout: timeout,
	}
}

// Invoke sends the prompt to the backend with a bounded deadline and parses
// the response into issues. Any deviation from the expected schema is
// reported as MalformedOutput, never passed through.
func (c *Client) Invoke(ctx context.Context, p prompt.Prompt) ([]RawIssue, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: p.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: ErrTimeout, Message: fmt.Sprintf("%s chunk %d", p.File, p.ChunkIndex+1)}
		}
		return nil, &Error{Kind: ErrUnavailable, Message: err.Error()}
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, &Error{Kind: ErrMalformedOutput, Message: "no text content in API response"}
	}

	return ParseIssues(text)
}

// ParseIssues parses a model response against the fixed issue schema,
// tolerating markdown fencing around the JSON body.
func ParseIssues(text string) ([]RawIssue, error) {
	text = stripFencing(text)

	var parsed struct {
		Issues []RawIssue `json:"issues"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, &Error{Kind: ErrMalformedOutput, Message: fmt.Sprintf("parse response as JSON: %v", err)}
	}
	if parsed.Issues == nil {
		return nil, &Error{Kind: ErrMalformedOutput, Message: `response missing "issues" array`}
	}
	return parsed.Issues, nil
}

// stripFencing removes a surrounding ```json ... ``` block if present.
func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
