// Package redis provides a Redis implementation of the
// membertrack.ReportBackend interface. The whole report document lives
// under one key, matching the load-all/save-all contract.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/membertrack/membertrack/pkg/membertrack"
)

// DefaultKey is the Redis key holding the report document.
const DefaultKey = "membertrack:report"

// Backend implements membertrack.ReportBackend using Redis.
type Backend struct {
	client redis.UniversalClient
	key    string
}

// Options configures the Redis backend.
type Options struct {
	// Key overrides DefaultKey, for running several trackers against
	// one Redis instance.
	Key string
}

// New creates a Redis report backend over an existing client.
func New(client redis.UniversalClient, opts *Options) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	key := DefaultKey
	if opts != nil && opts.Key != "" {
		key = opts.Key
	}
	return &Backend{client: client, key: key}, nil
}

// Load implements membertrack.ReportBackend
func (b *Backend) Load(ctx context.Context) (*membertrack.Report, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	var r membertrack.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

// Save implements membertrack.ReportBackend
func (b *Backend) Save(ctx context.Context, r *membertrack.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}
