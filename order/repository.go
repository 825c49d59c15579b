package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the order does not exist.
var ErrNotFound = errors.New("order: not found")

const orderColumns = `id, client_id::text, title, details, status, budget, created_at, updated_at`

// Repository persists orders. Lifecycle mutations are tx-scoped so callers
// can compose them with proposal and credit updates.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams carries a new order.
type CreateParams struct {
	ClientID    string
	Title       string
	Description string
	Budget      int64
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (Order, error) {
	const query = `
		INSERT INTO orders (client_id, title, details, budget)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + orderColumns
	row := r.pool.QueryRow(ctx, query, p.ClientID, p.Title, p.Description, p.Budget)
	o, err := scanOrder(row)
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return o, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return o, nil
}

// ListByClient returns the client's orders, newest first.
func (r *Repository) ListByClient(ctx context.Context, clientID string) ([]Order, error) {
	const query = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE client_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("order: list by client: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, 8)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

// ListOpen returns open orders for specialists to browse, newest first.
func (r *Repository) ListOpen(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'open'
		ORDER BY created_at DESC
		LIMIT %d
	`, limit)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("order: list open: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

// LockByID loads the order with its row locked for the duration of the
// caller's transaction.
func (r *Repository) LockByID(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	o, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: lock: %w", err)
	}
	return o, nil
}

// SetStatus performs a guarded transition inside the caller's transaction:
// the lifecycle must permit from -> to and the update only lands while the
// row still carries the from status.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("order: set status: %s -> %s not permitted", from, to)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("order: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ClientID, &o.Title, &o.Description, &o.Status, &o.Budget, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
