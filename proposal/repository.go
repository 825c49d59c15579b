package proposal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the proposal does not exist.
	ErrNotFound = errors.New("proposal: not found")
	// ErrDuplicate signals the bidder already has a pending proposal on the order.
	ErrDuplicate = errors.New("proposal: bidder already has a pending proposal")
	// ErrInvalidTransition signals a status change outside the guarded edges.
	ErrInvalidTransition = errors.New("proposal: invalid status transition")
)

const proposalColumns = `id, order_id, bidder_id, lead_user_id, status, message, credit_cost, created_at, updated_at`

// Repository provides persistence for proposals and their team peers. Write
// methods are tx-scoped so lifecycle operations can compose them atomically.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertParams enumerates the fields required to insert a new proposal.
type InsertParams struct {
	OrderID    string
	BidderID   string
	LeadUserID string
	Message    string
	CreditCost int64
	PeerIDs    []string
}

// Insert creates the proposal row and its peer sub-records inside the caller's
// transaction.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Proposal, error) {
	var lead any
	if params.LeadUserID != "" {
		lead = params.LeadUserID
	}

	const insertSQL = `
		INSERT INTO proposals (order_id, bidder_id, lead_user_id, message, credit_cost)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + proposalColumns

	p, err := scanProposal(tx.QueryRow(ctx, insertSQL, params.OrderID, params.BidderID, lead, params.Message, params.CreditCost))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Proposal{}, ErrDuplicate
		}
		return Proposal{}, fmt.Errorf("proposal: insert: %w", err)
	}

	for _, peerID := range params.PeerIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO proposal_peers (proposal_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (proposal_id, user_id) DO NOTHING
		`, p.ID, peerID); err != nil {
			return Proposal{}, fmt.Errorf("proposal: insert peer: %w", err)
		}
	}

	return p, nil
}

// GetByID retrieves a proposal by id.
func (r *Repository) GetByID(ctx context.Context, id string) (Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	p, err := scanProposal(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: get: %w", err)
	}
	return p, nil
}

// ListByOrder returns all proposals on the order, oldest first.
func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE order_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("proposal: list by order: %w", err)
	}
	defer rows.Close()
	return collectProposals(rows)
}

// ListPendingForUpdate loads the order's pending proposals inside the caller's
// transaction with their rows locked, oldest first.
func (r *Repository) ListPendingForUpdate(ctx context.Context, tx pgx.Tx, orderID string) ([]Proposal, error) {
	const query = `
		SELECT ` + proposalColumns + `
		FROM proposals
		WHERE order_id = $1 AND status = 'pending'
		ORDER BY created_at
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("proposal: list pending: %w", err)
	}
	defer rows.Close()
	return collectProposals(rows)
}

// AcceptedForUpdate loads the order's accepted proposal, if any, with its row
// locked. There is at most one by the partial unique index.
func (r *Repository) AcceptedForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (*Proposal, error) {
	const query = `
		SELECT ` + proposalColumns + `
		FROM proposals
		WHERE order_id = $1 AND status = 'accepted'
		FOR UPDATE
	`
	p, err := scanProposal(tx.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("proposal: accepted for update: %w", err)
	}
	return &p, nil
}

// MarkAccepted transitions a pending proposal to accepted.
func (r *Repository) MarkAccepted(ctx context.Context, tx pgx.Tx, id string) error {
	return r.transition(ctx, tx, id, StatusPending, StatusAccepted)
}

// MarkRejected transitions a pending proposal to rejected.
func (r *Repository) MarkRejected(ctx context.Context, tx pgx.Tx, id string) error {
	return r.transition(ctx, tx, id, StatusPending, StatusRejected)
}

// MarkCanceled transitions an accepted proposal to canceled.
func (r *Repository) MarkCanceled(ctx context.Context, tx pgx.Tx, id string) error {
	return r.transition(ctx, tx, id, StatusAccepted, StatusCanceled)
}

// transition performs a guarded status update and cascades it to team peers.
func (r *Repository) transition(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE proposals
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("proposal: transition %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM proposals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("proposal: verify exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE proposal_peers SET status = $2 WHERE proposal_id = $1
	`, id, to); err != nil {
		return fmt.Errorf("proposal: cascade peers: %w", err)
	}
	return nil
}

// ListPeers returns the team peers of a proposal.
func (r *Repository) ListPeers(ctx context.Context, proposalID string) ([]Peer, error) {
	const query = `
		SELECT id, proposal_id, user_id, status, created_at
		FROM proposal_peers
		WHERE proposal_id = $1
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("proposal: list peers: %w", err)
	}
	defer rows.Close()

	out := make([]Peer, 0, 4)
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.ID, &p.ProposalID, &p.UserID, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("proposal: scan peer: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal: iterate peers: %w", err)
	}
	return out, nil
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var p Proposal
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.BidderID,
		&p.LeadUserID,
		&p.Status,
		&p.Message,
		&p.CreditCost,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Proposal{}, err
	}
	return p, nil
}

func collectProposals(rows pgx.Rows) ([]Proposal, error) {
	out := make([]Proposal, 0, 8)
	for rows.Next() {
		var p Proposal
		if err := rows.Scan(
			&p.ID,
			&p.OrderID,
			&p.BidderID,
			&p.LeadUserID,
			&p.Status,
			&p.Message,
			&p.CreditCost,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("proposal: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal: iterate: %w", err)
	}
	return out, nil
}
