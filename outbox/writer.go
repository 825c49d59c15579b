package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Writer enqueues events inside the caller's transaction so the event becomes
// visible exactly when the business change commits.
type Writer struct {
	idGen func() string
}

func NewWriter() *Writer {
	return &Writer{idGen: uuid.NewString}
}

// Enqueue stamps the payload with a unique event_id so downstream consumers
// can dedupe redeliveries, then inserts the event row.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	stamped := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		stamped[k] = v
	}
	stamped["event_id"] = w.idGen()

	body, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (topic, payload) VALUES ($1, $2)
	`, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}
