package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestWriter_StampsEventID(t *testing.T) {
	w := NewWriter()
	w.idGen = func() string { return "event-42" }

	tx := &execTx{}
	err := w.Enqueue(context.Background(), tx, "order.chosen", map[string]any{"order_id": "order-1"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if tx.topic != "order.chosen" {
		t.Errorf("expected topic order.chosen, got %s", tx.topic)
	}

	var payload map[string]any
	if err := json.Unmarshal(tx.body, &payload); err != nil {
		t.Fatalf("payload is not valid json: %v", err)
	}
	if payload["event_id"] != "event-42" {
		t.Errorf("expected stamped event_id, got %v", payload["event_id"])
	}
	if payload["order_id"] != "order-1" {
		t.Errorf("expected original payload preserved, got %v", payload["order_id"])
	}
}

// execTx records the enqueue insert. Everything else panics.
type execTx struct {
	topic string
	body  []byte
}

func (f *execTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.topic = args[0].(string)
	f.body = args[1].([]byte)
	return pgconn.CommandTag{}, nil
}

func (f *execTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("execTx does not support nested transactions")
}

func (f *execTx) Commit(context.Context) error   { return nil }
func (f *execTx) Rollback(context.Context) error { return nil }

func (f *execTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *execTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *execTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *execTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *execTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *execTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *execTx) Conn() *pgx.Conn {
	panic("not implemented")
}
