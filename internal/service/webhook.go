package service

import (
	"context"
	"encoding/json"

	"github.com/joescharf/critic/internal/models"
)

// webhookPayload is the subset of the GitHub pull_request event we act on.
type webhookPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// webhookActions are the pull_request actions that trigger an analysis.
var webhookActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// HandleWebhook turns a GitHub pull_request event into a submission. Events
// and actions outside the trigger set are ignored and return a nil task.
// Deduplication applies as with any submission, so a burst of synchronize
// events collapses onto one in-flight task.
func (s *Service) HandleWebhook(ctx context.Context, event string, payload []byte) (*models.Task, error) {
	if event != "pull_request" {
		s.logger.Debug("webhook ignored", "event", event)
		return nil, nil
	}

	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &Error{Kind: models.ErrKindValidation, Message: "malformed webhook payload"}
	}
	if !webhookActions[p.Action] {
		s.logger.Debug("webhook action ignored", "action", p.Action)
		return nil, nil
	}

	number := p.PullRequest.Number
	if number == 0 {
		number = p.Number
	}
	if p.Repository.FullName == "" || number == 0 {
		return nil, &Error{Kind: models.ErrKindValidation, Message: "webhook payload missing repository or pull request number"}
	}

	return s.Submit(ctx, SubmitRequest{
		Repo:      p.Repository.FullName,
		ChangeSet: number,
	})
}
