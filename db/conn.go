package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
	pingTimeout     = 3 * time.Second
)

// NewPool constructs a pgx connection pool using the provided connection string.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, fmt.Errorf("db: empty connection string")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}

	return pgxpool.NewWithConfig(ctx, cfg)
}

// Connect opens a pool and verifies connectivity, retrying a bounded number of
// times with a fixed backoff so the process survives a database that is still
// starting up.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := NewPool(ctx, connString)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = pool.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			return pool, nil
		}

		log.Printf("db: ping attempt %d/%d failed: %v", attempt, connectAttempts, lastErr)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("db: ping after %d attempts: %w", connectAttempts, lastErr)
}
