package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"reviewhooks/internal"
	"reviewhooks/pkg/storage"
	"reviewhooks/pkg/telemetry"
)

// TelemetryEvent is the category of every webhook telemetry record.
const TelemetryEvent = "bitbucket-webhook"

// Response bodies.
const (
	BodySuccess          = "Success"
	MsgMethodNotAllowed  = "Method Not Allowed"
	MsgInvalidEvent      = "Invalid event header"
	MsgInvalidBody       = "Invalid request body"
	MsgBodyTooLarge      = "Request body too large"
	MsgUnauthorized      = "Unauthorized"
	MsgRepoConfigLookup  = "Unable to get repoConfig from db"
	MsgTopicLookup       = "Unable to get topic name from db"
	msgPublishFailedTmpl = "Failed to publish %d messages"
)

// Result is the outcome of one delivery. Stage is the last stage completed
// before the response was decided.
type Result struct {
	Status      int
	Error       string
	FailedCount int
	Stage       Stage
	Duplicate   bool
	Err         error
}

// Body returns the JSON error body, or nil for a successful result.
func (r Result) Body() map[string]interface{} {
	if r.Status == http.StatusOK {
		return nil
	}
	body := map[string]interface{}{"error": r.Error}
	if r.FailedCount > 0 {
		body["failed_count"] = r.FailedCount
	}
	return body
}

// Options configures a Pipeline.
type Options struct {
	Parser         *BitbucketParser
	Resolver       *Resolver
	Publisher      internal.Publisher
	Rules          *internal.RuleEngine
	Tracker        telemetry.Tracker
	Deduper        *Deduper
	PublishTimeout time.Duration
	Logger         *log.Logger
}

// Pipeline runs validate, parse, resolve, publish and telemetry for each delivery.
type Pipeline struct {
	parser         *BitbucketParser
	resolver       *Resolver
	publisher      internal.Publisher
	rules          *internal.RuleEngine
	tracker        telemetry.Tracker
	deduper        *Deduper
	publishTimeout time.Duration
	logger         *log.Logger
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Parser == nil || opts.Resolver == nil || opts.Publisher == nil {
		return nil, errors.New("pipeline requires parser, resolver and publisher")
	}
	if opts.Tracker == nil {
		opts.Tracker = telemetry.NewEmitter(nil, telemetry.Options{})
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Pipeline{
		parser:         opts.Parser,
		resolver:       opts.Resolver,
		publisher:      opts.Publisher,
		rules:          opts.Rules,
		tracker:        opts.Tracker,
		deduper:        opts.Deduper,
		publishTimeout: opts.PublishTimeout,
		logger:         opts.Logger,
	}, nil
}

// Process handles one delivery to completion. It never retries.
func (p *Pipeline) Process(ctx context.Context, req Request) Result {
	logger := internal.WithRequestID(p.logger, req.RequestID)
	internal.IncRequest(ProviderBitbucket)

	if req.BodyErr != nil {
		res := Result{Status: http.StatusBadRequest, Error: MsgInvalidBody, Stage: StageReceived, Err: fmt.Errorf("%w: %w", ErrInvalidBody, req.BodyErr)}
		var tooLarge *http.MaxBytesError
		if errors.As(req.BodyErr, &tooLarge) {
			res.Status, res.Error = http.StatusRequestEntityTooLarge, MsgBodyTooLarge
		}
		logger.Printf("bitbucket body read failed: %v", req.BodyErr)
		return p.finish(ctx, res, repoProperties(peekRepo(req.Body), req.EventKey))
	}

	kind, err := Validate(req.Method, req.EventKey)
	if err != nil {
		props := map[string]interface{}{}
		res := Result{Status: http.StatusMethodNotAllowed, Error: MsgMethodNotAllowed, Stage: StageReceived, Err: err}
		if errors.Is(err, ErrInvalidEventType) {
			props = repoProperties(peekRepo(req.Body), req.EventKey)
			res = Result{Status: http.StatusBadRequest, Error: MsgInvalidEvent, Stage: StageReceived, Err: err}
		}
		logger.Printf("bitbucket rejected: %v", err)
		return p.finish(ctx, res, props)
	}

	event, err := p.parser.parse(kind, req)
	if err != nil {
		res := Result{Status: http.StatusBadRequest, Error: MsgInvalidBody, Stage: StageValidated, Err: err}
		if errors.Is(err, ErrUnverified) {
			res.Status, res.Error = http.StatusUnauthorized, MsgUnauthorized
		}
		logger.Printf("bitbucket parse failed: %v", err)
		return p.finish(ctx, res, repoProperties(peekRepo(req.Body), req.EventKey))
	}
	props := repoProperties(event.Repo, event.EventKey)
	logger.Printf("received %s for %s", event.EventKey, event.Repo)

	if p.deduper.Seen(event.DeliveryID) {
		internal.IncDuplicate(ProviderBitbucket)
		logger.Printf("duplicate delivery %s skipped", event.DeliveryID)
		res := Result{Status: http.StatusOK, Stage: StageValidated, Duplicate: true}
		props["response_status"] = res.Status
		p.tracker.Track(ctx, telemetry.Record{
			UserID:     telemetry.AbsentUser,
			Event:      TelemetryEvent,
			Type:       "duplicate",
			StatusFlag: 1,
			Properties: props,
		})
		return res
	}

	resolution, err := p.resolver.Resolve(ctx, event.Repo)
	if err != nil {
		res := Result{Status: http.StatusInternalServerError, Error: MsgRepoConfigLookup, Stage: StageValidated, Err: err}
		switch {
		case errors.Is(err, ErrLookupTimeout):
			internal.IncLookupError("timeout")
		case errors.Is(err, ErrRepoNotConfigured):
			internal.IncLookupError("not_configured")
		case errors.Is(err, ErrMissingTopicMapping):
			internal.IncLookupError("topic")
			res.Error = MsgTopicLookup
		default:
			internal.IncLookupError("error")
		}
		logger.Printf("resolve %s failed: %v", event.Repo, err)
		return p.finish(ctx, res, props)
	}

	failed, err := p.publish(ctx, logger, event, resolution)
	props["failed_count"] = failed
	if err != nil {
		return p.finish(ctx, Result{
			Status:      http.StatusInternalServerError,
			Error:       fmt.Sprintf(msgPublishFailedTmpl, failed),
			FailedCount: failed,
			Stage:       StageResolved,
			Err:         err,
		}, props)
	}

	p.deduper.Mark(event.DeliveryID)
	return p.finish(ctx, Result{Status: http.StatusOK, Stage: StagePublished}, props)
}

func (p *Pipeline) publish(ctx context.Context, logger *log.Logger, event WebhookEvent, resolution Resolution) (int, error) {
	base := internal.Envelope{
		MessageType: event.Kind.MessageType(),
		Provider:    ProviderBitbucket,
		Event:       event.EventKey,
		RequestID:   event.RequestID,
		Attributes: map[string]string{
			"repo_provider": event.Repo.Provider,
			"repo_owner":    event.Repo.Owner,
			"repo_name":     event.Repo.Name,
			"auto_assign":   strconv.FormatBool(resolution.Config.AutoAssign),
			"comment":       strconv.FormatBool(resolution.Config.Comment),
		},
		Payload: event.Raw,
	}
	if event.DeliveryID != "" {
		base.Attributes["delivery_id"] = event.DeliveryID
	}

	type target struct {
		topic   string
		drivers []string
	}
	targets := make([]target, 0, len(resolution.Topics))
	for _, topic := range resolution.Topics {
		targets = append(targets, target{topic: topic})
	}
	for _, match := range p.rules.Evaluate(ProviderBitbucket, event.EventKey, event.Raw) {
		targets = append(targets, target{topic: match.Topic, drivers: match.Drivers})
	}

	var errs []error
	for _, t := range targets {
		if err := p.publishOne(ctx, base.WithTopic(t.topic), t.drivers); err != nil {
			logger.Printf("publish %s failed: %v", t.topic, err)
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return 0, nil
	}
	return len(errs), &PublishError{Attempted: len(targets), Failed: len(errs), Err: errors.Join(errs...)}
}

func (p *Pipeline) publishOne(ctx context.Context, env internal.Envelope, drivers []string) error {
	ctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()
	err := p.publisher.PublishForDrivers(ctx, env, drivers)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: topic %s: %w", ErrPublishTimeout, env.Topic, err)
	default:
		return fmt.Errorf("%w: topic %s: %w", ErrPublish, env.Topic, err)
	}
}

func (p *Pipeline) finish(ctx context.Context, res Result, props map[string]interface{}) Result {
	if res.Status != http.StatusOK {
		internal.IncRejection(res.Status)
	}
	flag := 0
	if res.Status == http.StatusOK {
		flag = 1
	}
	props["response_status"] = res.Status
	p.tracker.Track(ctx, telemetry.Record{
		UserID:     telemetry.AbsentUser,
		Event:      TelemetryEvent,
		Type:       "HTTP-" + strconv.Itoa(res.Status),
		StatusFlag: flag,
		Properties: props,
	})
	return res
}

func repoProperties(repo storage.RepoKey, eventKey string) map[string]interface{} {
	return map[string]interface{}{
		"repo_name":     repo.Name,
		"repo_owner":    repo.Owner,
		"event_type":    eventKey,
		"repo_provider": ProviderBitbucket,
	}
}
