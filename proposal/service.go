package proposal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"hireline/credit"
)

var (
	// ErrOrderNotFound signals the target order does not exist.
	ErrOrderNotFound = errors.New("proposal: order not found")
	// ErrOrderNotOpen signals the order is no longer accepting proposals.
	ErrOrderNotOpen = errors.New("proposal: order is not open")
	// ErrOwnOrder signals a client bidding on their own order.
	ErrOwnOrder = errors.New("proposal: cannot bid on own order")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type proposalStore interface {
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Proposal, error)
}

type creditLedger interface {
	Debit(ctx context.Context, tx pgx.Tx, userID string, amount int64, reason, reference string) (int64, error)
}

type eventWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service handles proposal submission. Status transitions themselves belong to
// the order lifecycle; submission is the only entry point that debits credits.
type Service struct {
	pool    TxBeginner
	store   proposalStore
	ledger  creditLedger
	outbox  eventWriter
	pricing credit.Pricing
}

func NewService(pool TxBeginner, store proposalStore, ledger creditLedger, outbox eventWriter, pricing credit.Pricing) *Service {
	return &Service{
		pool:    pool,
		store:   store,
		ledger:  ledger,
		outbox:  outbox,
		pricing: pricing,
	}
}

// SubmitParams captures a specialist's (or team's) bid on an order.
type SubmitParams struct {
	OrderID    string
	BidderID   string
	LeadUserID string
	PeerIDs    []string
	Message    string
}

// Submit records a bid on an open order. The order row is locked for the
// duration of the transaction, the lead bidder is debited the tier-priced
// cost, and a submission event is enqueued. Any failure rolls everything back.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Proposal, error) {
	if params.OrderID == "" || params.BidderID == "" {
		return Proposal{}, fmt.Errorf("proposal: order id and bidder id are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		clientID string
		status   string
		budget   int64
	)
	const orderSQL = `
		SELECT client_id::text, status, budget
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`
	if err := tx.QueryRow(ctx, orderSQL, params.OrderID).Scan(&clientID, &status, &budget); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrOrderNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: load order: %w", err)
	}
	if status != "open" {
		return Proposal{}, ErrOrderNotOpen
	}
	if clientID == params.BidderID {
		return Proposal{}, ErrOwnOrder
	}

	team := params.LeadUserID != "" || len(params.PeerIDs) > 0
	lead := params.LeadUserID
	if lead == "" {
		lead = params.BidderID
	}
	cost := s.pricing.ProposalCost(budget, team)

	if _, err := s.ledger.Debit(ctx, tx, lead, cost, credit.ReasonProposalSubmit, params.OrderID); err != nil {
		return Proposal{}, err
	}

	insert := InsertParams{
		OrderID:    params.OrderID,
		BidderID:   params.BidderID,
		Message:    params.Message,
		CreditCost: cost,
		PeerIDs:    params.PeerIDs,
	}
	if team {
		insert.LeadUserID = lead
	}

	p, err := s.store.Insert(ctx, tx, insert)
	if err != nil {
		return Proposal{}, err
	}

	payload := map[string]any{
		"proposal_id":     p.ID,
		"order_id":        p.OrderID,
		"bidder_id":       p.BidderID,
		"credit_cost":     p.CreditCost,
		"notify_user_ids": []string{clientID},
		"channel":         "orders:events:" + p.OrderID,
	}
	if err := s.outbox.Enqueue(ctx, tx, "proposal.submitted", payload); err != nil {
		return Proposal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("proposal: commit submit: %w", err)
	}

	return p, nil
}
