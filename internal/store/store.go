// Package store holds the durable local mirror. The agent writes snapshots of its
// connection state and task queue here for UI consumption; nothing reads them
// back as control input except the task queue rebuilding its cache on a cold start.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink is a key/value mirror. Put writes every entry of a batch or none of them.
type Sink interface {
	Put(ctx context.Context, entries map[string]interface{}) error
	// Get decodes the value stored under key into out. It reports false when
	// the key has never been written.
	Get(ctx context.Context, key string, out interface{}) (bool, error)
	Close() error
}

// Open builds the Sink selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Sink, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemorySink(), nil
	case "file":
		return NewFileSink(cfg.Path, logger)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		sink, err := NewPostgresSink(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
