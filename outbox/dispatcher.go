package outbox

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

const maxAttempts = 3

// Sink receives delivered events. An event counts as delivered only when
// every registered sink accepts it; a failing sink fails the whole attempt so
// the event is retried against all sinks.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, topic string, payload []byte) error
}

// Dispatcher drains the outbox table in batches. Claimed rows are locked with
// SKIP LOCKED so multiple dispatchers can run side by side.
type Dispatcher struct {
	pool         *pgxpool.Pool
	sinks        []Sink
	pollInterval time.Duration
	batchSize    int
}

func NewDispatcher(pool *pgxpool.Pool, pollInterval time.Duration, batchSize int, sinks ...Sink) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Dispatcher{pool: pool, sinks: sinks, pollInterval: pollInterval, batchSize: batchSize}
}

// Run polls until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.drainOnce(ctx); err != nil {
				log.Printf("outbox: drain: %v", err)
			}
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) error {
	for {
		n, err := d.processBatch(ctx)
		if err != nil || n < d.batchSize {
			return err
		}
	}
}

func (d *Dispatcher) processBatch(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	events, err := claimBatch(ctx, tx, d.batchSize)
	if err != nil {
		return 0, err
	}

	for _, ev := range events {
		if deliverErr := d.deliver(ctx, ev); deliverErr != nil {
			log.Printf("outbox: deliver %s (%s, attempt %d): %v", ev.ID, ev.Topic, ev.Attempts+1, deliverErr)
			if err := reschedule(ctx, tx, ev); err != nil {
				return 0, err
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET status = $2, attempts = attempts + 1 WHERE id = $1
		`, ev.ID, StatusDelivered); err != nil {
			return 0, fmt.Errorf("outbox: mark delivered: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit tx: %w", err)
	}
	return len(events), nil
}

// deliver fans the event out to every sink concurrently and fails if any
// sink does.
func (d *Dispatcher) deliver(ctx context.Context, ev Event) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sink := range d.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Deliver(ctx, ev.Topic, ev.Payload); err != nil {
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func claimBatch(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	query := fmt.Sprintf(`
		SELECT id, topic, payload, status, attempts, next_attempt_at, created_at
		FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY created_at
		LIMIT %d
		FOR UPDATE SKIP LOCKED
	`, limit)
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim batch: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Payload, &ev.Status, &ev.Attempts, &ev.NextAttemptAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate events: %w", err)
	}
	return out, nil
}

func reschedule(ctx context.Context, tx pgx.Tx, ev Event) error {
	attempts := ev.Attempts + 1
	if attempts >= maxAttempts {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET status = $2, attempts = $3 WHERE id = $1
		`, ev.ID, StatusFailed, attempts); err != nil {
			return fmt.Errorf("outbox: mark failed: %w", err)
		}
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE outbox SET attempts = $2, next_attempt_at = now() + $3 WHERE id = $1
	`, ev.ID, attempts, nextBackoff(attempts)); err != nil {
		return fmt.Errorf("outbox: reschedule: %w", err)
	}
	return nil
}

// nextBackoff doubles per attempt starting at 30 seconds.
func nextBackoff(attempts int) time.Duration {
	d := 30 * time.Second
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}
