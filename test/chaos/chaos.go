package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Killer periodically terminates a random backend of the current database so
// the pool and the services are exercised against dropped connections
// mid-transaction.
type Killer struct {
	// Interval between kill attempts. Defaults to 2s.
	Interval time.Duration
	// Odds is the 1-in-N chance a tick actually kills a backend. Defaults to 5.
	Odds int
}

func (k Killer) Run(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	interval := k.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	odds := k.Odds
	if odds <= 0 {
		odds = 5
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(odds) != 0 {
				continue
			}
			_, _ = pool.Exec(ctx, `
				SELECT pg_terminate_backend(pid)
				FROM pg_stat_activity
				WHERE datname = current_database() AND pid <> pg_backend_pid()
				ORDER BY random()
				LIMIT 1
			`)
		}
	}
}
