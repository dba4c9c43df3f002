package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// riverQueuePublisher enqueues envelopes as rows in a River job table.
type riverQueuePublisher struct {
	db  *sql.DB
	cfg RiverQueueConfig
}

func newRiverQueuePublisher(cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: riverqueue dsn is required", errPublisherConfig)
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &riverQueuePublisher{db: db, cfg: cfg}, nil
}

// riverJobArgs is what downstream River workers receive as job args.
type riverJobArgs struct {
	Topic       string            `json:"topic"`
	MessageType string            `json:"msgtype"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Payload     json.RawMessage   `json:"payload"`
}

func (p *riverQueuePublisher) Publish(ctx context.Context, env Envelope) error {
	args := riverJobArgs{
		Topic:       env.Topic,
		MessageType: env.MessageType,
		Attributes:  env.Attributes,
		Payload:     json.RawMessage(env.Payload),
	}
	if !json.Valid(env.Payload) {
		encoded, err := json.Marshal(string(env.Payload))
		if err != nil {
			return err
		}
		args.Payload = encoded
	}
	argsPayload, err := json.Marshal(args)
	if err != nil {
		return err
	}

	metadataPayload, err := json.Marshal(map[string]string{
		MetadataProvider:    env.Provider,
		MetadataEvent:       env.Event,
		MetadataMessageType: env.MessageType,
		MetadataRequestID:   env.RequestID,
	})
	if err != nil {
		return err
	}

	table := strings.TrimSpace(p.cfg.Table)
	if table == "" {
		table = "river_job"
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (args, kind, max_attempts, metadata, priority, queue, scheduled_at, tags)
VALUES ($1, $2, $3, $4, $5, $6, now(), $7)`,
		table,
	)

	_, err = p.db.ExecContext(
		ctx,
		query,
		string(argsPayload),
		p.cfg.Kind,
		p.cfg.MaxAttempts,
		string(metadataPayload),
		p.cfg.Priority,
		p.cfg.Queue,
		pq.Array(p.cfg.Tags),
	)
	return err
}

func (p *riverQueuePublisher) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *riverQueuePublisher) PublishForDrivers(ctx context.Context, env Envelope, drivers []string) error {
	return p.Publish(ctx, env)
}
