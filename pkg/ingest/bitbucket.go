package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"reviewhooks/pkg/storage"

	"github.com/go-playground/webhooks/v6/bitbucket"
)

var bitbucketEvents = []bitbucket.Event{
	bitbucket.PullRequestCreatedEvent,
	bitbucket.PullRequestUpdatedEvent,
	bitbucket.PullRequestApprovedEvent,
}

// BitbucketParser verifies and decodes Bitbucket pull request deliveries.
type BitbucketParser struct {
	hook *bitbucket.Webhook
}

// NewBitbucketParser builds a parser. When uuid is set, X-Hook-UUID must match it.
func NewBitbucketParser(uuid string) (*BitbucketParser, error) {
	options := make([]bitbucket.Option, 0, 1)
	if uuid != "" {
		options = append(options, bitbucket.Options.UUID(uuid))
	}
	hook, err := bitbucket.New(options...)
	if err != nil {
		return nil, err
	}
	return &BitbucketParser{hook: hook}, nil
}

// repositoryPayload carries the repository identity. Bitbucket Cloud no longer
// sends repository.owner on workspace repos, so the workspace slug and the
// first segment of full_name stand in for it.
type repositoryPayload struct {
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    struct {
			Username string `json:"username"`
		} `json:"owner"`
		Workspace struct {
			Slug string `json:"slug"`
		} `json:"workspace"`
	} `json:"repository"`
}

func (p repositoryPayload) key() storage.RepoKey {
	repo := p.Repository
	owner := strings.TrimSpace(repo.Owner.Username)
	if owner == "" {
		owner = strings.TrimSpace(repo.Workspace.Slug)
	}
	if owner == "" {
		owner, _, _ = strings.Cut(repo.FullName, "/")
	}
	return storage.RepoKey{Provider: ProviderBitbucket, Owner: owner, Name: repo.Name}.Normalize()
}

// Parse validates and decodes a request into a WebhookEvent.
func (p *BitbucketParser) Parse(req Request) (WebhookEvent, error) {
	kind, err := Validate(req.Method, req.EventKey)
	if err != nil {
		return WebhookEvent{}, err
	}
	return p.parse(kind, req)
}

// parse decodes a request whose method and event key were already validated.
func (p *BitbucketParser) parse(kind EventKind, req Request) (WebhookEvent, error) {
	httpReq, err := http.NewRequest(req.Method, "/", bytes.NewReader(req.Body))
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	httpReq.Header = req.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = http.Header{}
	}
	httpReq.Header.Set("X-Event-Key", req.EventKey)

	payload, err := p.hook.Parse(httpReq, bitbucketEvents...)
	if err != nil {
		if errors.Is(err, bitbucket.ErrMissingHookUUIDHeader) || errors.Is(err, bitbucket.ErrUUIDVerificationFailed) {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrUnverified, err)
		}
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	switch payload.(type) {
	case bitbucket.PullRequestCreatedPayload, bitbucket.PullRequestUpdatedPayload, bitbucket.PullRequestApprovedPayload:
	default:
		return WebhookEvent{}, fmt.Errorf("%w: unexpected payload %T", ErrInvalidBody, payload)
	}

	repo, err := parseRepoKey(req.Body)
	if err != nil {
		return WebhookEvent{}, err
	}
	return WebhookEvent{
		Kind:       kind,
		EventKey:   req.EventKey,
		Repo:       repo,
		DeliveryID: req.DeliveryID,
		RequestID:  req.RequestID,
		Raw:        req.Body,
	}, nil
}

func parseRepoKey(body []byte) (storage.RepoKey, error) {
	var data repositoryPayload
	if err := json.Unmarshal(body, &data); err != nil {
		return storage.RepoKey{}, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	key := data.key()
	if key.Owner == "" || key.Name == "" {
		return storage.RepoKey{}, fmt.Errorf("%w: repository owner and name are required", ErrInvalidBody)
	}
	return key, nil
}

// peekRepo extracts whatever repository identity a body carries, for telemetry only.
func peekRepo(body []byte) storage.RepoKey {
	var data repositoryPayload
	_ = json.Unmarshal(body, &data)
	return data.key()
}
