package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"reviewhooks/pkg/worker"
)

type pullRequestPayload struct {
	PullRequest struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
		State string `json:"state"`
	} `json:"pullrequest"`
}

// Action is what a consumer would do for a pull request event given the repo settings.
type Action struct {
	PullRequestID int64
	AssignReviews bool
	PostComment   bool
}

// PlanPullRequest decodes the pull request and applies the repo's auto_assign and comment flags.
func PlanPullRequest(evt *worker.Event) (Action, error) {
	var payload pullRequestPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return Action{}, worker.Permanent(fmt.Errorf("decode pull request: %w", err))
	}
	return Action{
		PullRequestID: payload.PullRequest.ID,
		AssignReviews: evt.AutoAssign(),
		PostComment:   evt.Comment(),
	}, nil
}

func HandlePullRequestCreated(ctx context.Context, evt *worker.Event) error {
	return logPullRequest(evt)
}

func HandlePullRequestUpdated(ctx context.Context, evt *worker.Event) error {
	return logPullRequest(evt)
}

// HandlePullRequestApproved only logs; approvals never trigger reviewer assignment.
func HandlePullRequestApproved(ctx context.Context, evt *worker.Event) error {
	_, owner, name := evt.Repo()
	log.Printf("topic=%s repo=%s/%s approved", evt.Topic, owner, name)
	return nil
}

func HandleInstallCallback(ctx context.Context, evt *worker.Event) error {
	log.Printf("topic=%s install callback bytes=%d", evt.Topic, len(evt.Payload))
	return nil
}

func logPullRequest(evt *worker.Event) error {
	action, err := PlanPullRequest(evt)
	if err != nil {
		return err
	}
	_, owner, name := evt.Repo()
	log.Printf("topic=%s type=%s repo=%s/%s pr=%d assign=%v comment=%v",
		evt.Topic, evt.Type, owner, name, action.PullRequestID, action.AssignReviews, action.PostComment)
	return nil
}
