package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reviewhooks/pkg/storage"
)

// Resolution is the repository context a delivery is published with.
type Resolution struct {
	Config storage.RepoConfig
	Topics []string
}

// Resolver looks up repository configuration and target topics.
type Resolver struct {
	configs storage.RepoConfigStore
	setups  storage.SetupStore
	timeout time.Duration
}

func NewResolver(configs storage.RepoConfigStore, setups storage.SetupStore, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Resolver{configs: configs, setups: setups, timeout: timeout}
}

// Resolve performs one config lookup and one topic lookup, each bounded by the timeout.
func (r *Resolver) Resolve(ctx context.Context, key storage.RepoKey) (Resolution, error) {
	key = key.Normalize()

	cfg, err := withTimeout(ctx, r.timeout, func(ctx context.Context) (*storage.RepoConfig, error) {
		return r.configs.GetRepoConfig(ctx, key)
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Resolution{}, fmt.Errorf("%w: %s", ErrLookupTimeout, key)
	case err != nil:
		return Resolution{}, fmt.Errorf("%w: %s: %v", ErrConfigLookup, key, err)
	case cfg == nil:
		return Resolution{}, fmt.Errorf("%w: %s", ErrRepoNotConfigured, key)
	}

	topics, err := withTimeout(ctx, r.timeout, func(ctx context.Context) ([]string, error) {
		return r.setups.ListRepoTopics(ctx, key)
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %s: %v", ErrMissingTopicMapping, key, err)
	}
	if len(topics) == 0 {
		return Resolution{}, fmt.Errorf("%w: %s", ErrMissingTopicMapping, key)
	}
	return Resolution{Config: *cfg, Topics: topics}, nil
}

// withTimeout runs fn under a deadline and stops waiting when it passes,
// even if fn ignores its context.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()
	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return res.value, errors.Join(res.err, ctx.Err())
		}
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
