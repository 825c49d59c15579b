package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"

	"hireline/chat"
	"hireline/credit"
	"hireline/proposal"
)

var (
	// ErrNotOwner signals the caller does not own the order.
	ErrNotOwner = errors.New("order: not the owner")
	// ErrInvalidState signals the order's current status forbids the
	// requested operation.
	ErrInvalidState = errors.New("order: invalid state")
	// ErrNoProposals signals choose was called with no pending proposals.
	ErrNoProposals = errors.New("order: no pending proposals")
	// ErrProposalNotFound signals the named proposal is not pending on the
	// order.
	ErrProposalNotFound = errors.New("order: proposal not pending on this order")
	// ErrEmptyTitle rejects order creation without a title.
	ErrEmptyTitle = errors.New("order: title is required")
	// ErrInvalidBudget rejects non-positive budgets.
	ErrInvalidBudget = errors.New("order: budget must be positive")
)

// TxBeginner starts transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type orderStore interface {
	Create(ctx context.Context, p CreateParams) (Order, error)
	GetByID(ctx context.Context, id string) (Order, error)
	ListByClient(ctx context.Context, clientID string) ([]Order, error)
	ListOpen(ctx context.Context, limit int) ([]Order, error)
	LockByID(ctx context.Context, tx pgx.Tx, id string) (Order, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error
}

type proposalStore interface {
	ListPendingForUpdate(ctx context.Context, tx pgx.Tx, orderID string) ([]proposal.Proposal, error)
	AcceptedForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (*proposal.Proposal, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, id string) error
	MarkRejected(ctx context.Context, tx pgx.Tx, id string) error
	MarkCanceled(ctx context.Context, tx pgx.Tx, id string) error
	ListPeers(ctx context.Context, proposalID string) ([]proposal.Peer, error)
}

type creditLedger interface {
	Credit(ctx context.Context, tx pgx.Tx, userID string, amount int64, reason string, reference string) (int64, error)
}

type conversationStore interface {
	CloseAllForOrder(ctx context.Context, tx pgx.Tx, orderID string) error
	CompleteAllForOrder(ctx context.Context, tx pgx.Tx, orderID string) error
	AppendSystemMessage(ctx context.Context, tx pgx.Tx, orderID, content string) error
}

type conversationEnsurer interface {
	EnsureOrderConversation(ctx context.Context, orderID, title string, participantIDs []string, opening *chat.OpeningMessage) (chat.Conversation, error)
}

type eventWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns the order lifecycle: bids come in through the proposal
// service, and the client resolves them here.
type Service struct {
	pool      TxBeginner
	orders    orderStore
	proposals proposalStore
	ledger    creditLedger
	convs     conversationStore
	chats     conversationEnsurer
	outbox    eventWriter
	pricing   credit.Pricing
}

func NewService(pool TxBeginner, orders orderStore, proposals proposalStore, ledger creditLedger, convs conversationStore, chats conversationEnsurer, outbox eventWriter, pricing credit.Pricing) *Service {
	return &Service{
		pool:      pool,
		orders:    orders,
		proposals: proposals,
		ledger:    ledger,
		convs:     convs,
		chats:     chats,
		outbox:    outbox,
		pricing:   pricing,
	}
}

// Create publishes a new open order for the client.
func (s *Service) Create(ctx context.Context, p CreateParams) (Order, error) {
	if strings.TrimSpace(p.Title) == "" {
		return Order{}, ErrEmptyTitle
	}
	if p.Budget <= 0 {
		return Order{}, ErrInvalidBudget
	}
	return s.orders.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) ListByClient(ctx context.Context, clientID string) ([]Order, error) {
	return s.orders.ListByClient(ctx, clientID)
}

func (s *Service) ListOpen(ctx context.Context, limit int) ([]Order, error) {
	return s.orders.ListOpen(ctx, limit)
}

// Reject turns down every pending proposal, refunds the bidders, and closes
// the order. The whole operation commits or rolls back as one.
func (s *Service) Reject(ctx context.Context, orderID, clientID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.lockOwned(ctx, tx, orderID, clientID)
	if err != nil {
		return err
	}
	if o.Status != StatusOpen {
		return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}

	pending, err := s.proposals.ListPendingForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return ErrNoProposals
	}

	notify := make([]string, 0, len(pending))
	for _, p := range pending {
		if err := s.proposals.MarkRejected(ctx, tx, p.ID); err != nil {
			return err
		}
		if err := s.refund(ctx, tx, p, credit.ReasonRefundRejected, orderID); err != nil {
			return err
		}
		notify = append(notify, p.Lead())
	}

	if err := s.orders.SetStatus(ctx, tx, orderID, o.Status, StatusClosed); err != nil {
		return err
	}
	if err := s.convs.CloseAllForOrder(ctx, tx, orderID); err != nil {
		return err
	}
	if err := s.outbox.Enqueue(ctx, tx, "order.rejected", map[string]any{
		"order_id":        orderID,
		"order_title":     o.Title,
		"notify_user_ids": notify,
		"channel":         "orders:events:" + orderID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("order: commit tx: %w", err)
	}
	return nil
}

// Choose accepts one pending proposal, rejects and refunds the rest, and
// moves the order to in progress. An empty proposalID falls back to the
// oldest pending proposal. After commit the winning party gets an order
// conversation seeded with the proposal text.
func (s *Service) Choose(ctx context.Context, orderID, clientID, proposalID string) (proposal.Proposal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return proposal.Proposal{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.lockOwned(ctx, tx, orderID, clientID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if o.Status != StatusOpen {
		return proposal.Proposal{}, fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}

	pending, err := s.proposals.ListPendingForUpdate(ctx, tx, orderID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if len(pending) == 0 {
		return proposal.Proposal{}, ErrNoProposals
	}

	chosen, rest, err := pick(pending, proposalID)
	if err != nil {
		return proposal.Proposal{}, err
	}

	if err := s.proposals.MarkAccepted(ctx, tx, chosen.ID); err != nil {
		return proposal.Proposal{}, err
	}

	notify := []string{chosen.Lead()}
	for _, p := range rest {
		if err := s.proposals.MarkRejected(ctx, tx, p.ID); err != nil {
			return proposal.Proposal{}, err
		}
		if err := s.refund(ctx, tx, p, credit.ReasonRefundRejected, orderID); err != nil {
			return proposal.Proposal{}, err
		}
		notify = append(notify, p.Lead())
	}

	if err := s.orders.SetStatus(ctx, tx, orderID, o.Status, StatusInProgress); err != nil {
		return proposal.Proposal{}, err
	}
	if err := s.convs.AppendSystemMessage(ctx, tx, orderID,
		"The client has chosen a specialist for this order. Contact details may now be shared."); err != nil {
		return proposal.Proposal{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, "order.chosen", map[string]any{
		"order_id":        orderID,
		"order_title":     o.Title,
		"proposal_id":     chosen.ID,
		"winner_id":       chosen.Lead(),
		"notify_user_ids": notify,
		"channel":         "orders:events:" + orderID,
	}); err != nil {
		return proposal.Proposal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return proposal.Proposal{}, fmt.Errorf("order: commit tx: %w", err)
	}

	s.openWinnerConversation(ctx, o, chosen)
	return chosen, nil
}

// Cancel walks back an in-progress order: the accepted proposal is canceled,
// its bidder partially refunded, and the order closed.
func (s *Service) Cancel(ctx context.Context, orderID, clientID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.lockOwned(ctx, tx, orderID, clientID)
	if err != nil {
		return err
	}
	if o.Status != StatusInProgress {
		return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}

	accepted, err := s.proposals.AcceptedForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if accepted == nil {
		return fmt.Errorf("%w: no accepted proposal", ErrInvalidState)
	}

	if err := s.proposals.MarkCanceled(ctx, tx, accepted.ID); err != nil {
		return err
	}
	if err := s.refund(ctx, tx, *accepted, credit.ReasonRefundCanceled, orderID); err != nil {
		return err
	}

	if err := s.orders.SetStatus(ctx, tx, orderID, o.Status, StatusClosed); err != nil {
		return err
	}
	if err := s.convs.CloseAllForOrder(ctx, tx, orderID); err != nil {
		return err
	}
	if err := s.outbox.Enqueue(ctx, tx, "order.canceled", map[string]any{
		"order_id":        orderID,
		"order_title":     o.Title,
		"notify_user_ids": []string{accepted.Lead()},
		"channel":         "orders:events:" + orderID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("order: commit tx: %w", err)
	}
	return nil
}

// Complete marks an in-progress order as done and completes its
// conversations. No credits move.
func (s *Service) Complete(ctx context.Context, orderID, clientID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.lockOwned(ctx, tx, orderID, clientID)
	if err != nil {
		return err
	}
	if o.Status != StatusInProgress {
		return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}

	accepted, err := s.proposals.AcceptedForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}

	if err := s.orders.SetStatus(ctx, tx, orderID, o.Status, StatusCompleted); err != nil {
		return err
	}
	if err := s.convs.CompleteAllForOrder(ctx, tx, orderID); err != nil {
		return err
	}

	notify := []string{}
	if accepted != nil {
		notify = append(notify, accepted.Lead())
	}
	if err := s.outbox.Enqueue(ctx, tx, "order.completed", map[string]any{
		"order_id":        orderID,
		"order_title":     o.Title,
		"notify_user_ids": notify,
		"channel":         "orders:events:" + orderID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("order: commit tx: %w", err)
	}
	return nil
}

func (s *Service) lockOwned(ctx context.Context, tx pgx.Tx, orderID, clientID string) (Order, error) {
	o, err := s.orders.LockByID(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.ClientID != clientID {
		return Order{}, ErrNotOwner
	}
	return o, nil
}

func (s *Service) refund(ctx context.Context, tx pgx.Tx, p proposal.Proposal, reason, orderID string) error {
	amount := s.pricing.Refund(p.CreditCost)
	if amount <= 0 {
		return nil
	}
	_, err := s.ledger.Credit(ctx, tx, p.Lead(), amount, reason, orderID)
	return err
}

// openWinnerConversation runs after commit: the order's outcome is already
// durable, so a failure here only costs the seeded chat, which the client can
// recreate on demand.
func (s *Service) openWinnerConversation(ctx context.Context, o Order, chosen proposal.Proposal) {
	if s.chats == nil {
		return
	}

	participants := []string{o.ClientID, chosen.BidderID}
	if chosen.LeadUserID != nil && *chosen.LeadUserID != chosen.BidderID {
		participants = append(participants, *chosen.LeadUserID)
	}
	if peers, err := s.proposals.ListPeers(ctx, chosen.ID); err == nil {
		for _, peer := range peers {
			participants = append(participants, peer.UserID)
		}
	} else {
		log.Printf("order: list peers for conversation: %v", err)
	}

	var opening *chat.OpeningMessage
	if chosen.Message != "" {
		opening = &chat.OpeningMessage{SenderID: chosen.BidderID, Content: chosen.Message}
	}
	if _, err := s.chats.EnsureOrderConversation(ctx, o.ID, o.Title, dedupe(participants), opening); err != nil {
		log.Printf("order: ensure conversation for %s: %v", o.ID, err)
	}
}

func pick(pending []proposal.Proposal, proposalID string) (proposal.Proposal, []proposal.Proposal, error) {
	if proposalID == "" {
		return pending[0], pending[1:], nil
	}
	for i, p := range pending {
		if p.ID == proposalID {
			rest := make([]proposal.Proposal, 0, len(pending)-1)
			rest = append(rest, pending[:i]...)
			rest = append(rest, pending[i+1:]...)
			return p, rest, nil
		}
	}
	return proposal.Proposal{}, nil, ErrProposalNotFound
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
