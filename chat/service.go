package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotAParticipant signals the user is not an active participant.
	ErrNotAParticipant = errors.New("chat: not a participant")
	// ErrConversationRemoved signals the conversation was removed and cannot
	// accept messages again.
	ErrConversationRemoved = errors.New("chat: conversation removed")
	// ErrConversationClosed signals the conversation is closed or completed.
	ErrConversationClosed = errors.New("chat: conversation closed")
	// ErrContactInfoBlocked signals the message tripped the contact-info
	// policy while the order is still open.
	ErrContactInfoBlocked = errors.New("chat: contact info blocked")
	// ErrInvalidMessageType signals a message type users may not send.
	ErrInvalidMessageType = errors.New("chat: invalid message type")
	// ErrOrderResolved signals the order is closed or completed and no new
	// conversations may be opened on it.
	ErrOrderResolved = errors.New("chat: order already resolved")
)

// TxBeginner starts transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type conversationStore interface {
	OrderStatus(ctx context.Context, tx pgx.Tx, orderID string) (string, error)
	ListByOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) ([]OrderConversation, error)
	Create(ctx context.Context, tx pgx.Tx, orderID, title string, participantIDs []string) (Conversation, error)
	Reopen(ctx context.Context, tx pgx.Tx, conversationID string) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, conversationID string) (Conversation, *string, error)
	IsActiveParticipant(ctx context.Context, tx pgx.Tx, conversationID, userID string) (bool, error)
	ActiveParticipantIDs(ctx context.Context, tx pgx.Tx, conversationID string) ([]string, error)
	InsertMessage(ctx context.Context, tx pgx.Tx, conversationID string, senderID *string, msgType MessageType, content string) (Message, error)
	ListMessages(ctx context.Context, conversationID, beforeID string, limit int) ([]Message, error)
	ListForUser(ctx context.Context, userID string) ([]Conversation, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

type eventWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns conversation lifecycle and message delivery.
type Service struct {
	pool   TxBeginner
	store  conversationStore
	outbox eventWriter
	policy Policy
}

func NewService(pool TxBeginner, store conversationStore, outbox eventWriter, policy Policy) *Service {
	if policy == nil {
		policy = ContainsPhoneNumber
	}
	return &Service{pool: pool, store: store, outbox: outbox, policy: policy}
}

// OpeningMessage seeds a freshly created order conversation, typically with
// the proposal text that started the contact.
type OpeningMessage struct {
	SenderID string
	Content  string
}

// GetOrCreateForOrder returns the order conversation whose active participant
// set matches exactly, creating one when none matches. A closed match is
// reopened instead of duplicated.
func (s *Service) GetOrCreateForOrder(ctx context.Context, orderID, title string, participantIDs []string, opening *OpeningMessage) (Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Conversation{}, fmt.Errorf("chat: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, created, err := s.getOrCreateLocked(ctx, tx, orderID, title, participantIDs)
	if err != nil {
		return Conversation{}, err
	}

	if created && opening != nil && opening.Content != "" {
		sender := opening.SenderID
		if _, err := s.store.InsertMessage(ctx, tx, conv.ID, &sender, TypeText, opening.Content); err != nil {
			return Conversation{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, fmt.Errorf("chat: commit tx: %w", err)
	}
	return conv, nil
}

func (s *Service) getOrCreateLocked(ctx context.Context, tx pgx.Tx, orderID, title string, participantIDs []string) (Conversation, bool, error) {
	status, err := s.store.OrderStatus(ctx, tx, orderID)
	if err != nil {
		return Conversation{}, false, err
	}
	if status == "closed" || status == "completed" {
		return Conversation{}, false, ErrOrderResolved
	}

	existing, err := s.store.ListByOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return Conversation{}, false, err
	}

	want := normalizeSet(participantIDs)
	for _, c := range existing {
		if c.Status == StatusRemoved {
			continue
		}
		if !sameSet(want, normalizeSet(c.ActiveParticipants)) {
			continue
		}
		if c.Status == StatusClosed {
			if err := s.store.Reopen(ctx, tx, c.ID); err != nil {
				return Conversation{}, false, err
			}
			c.Status = StatusActive
		}
		return c.Conversation, false, nil
	}

	conv, err := s.store.Create(ctx, tx, orderID, title, want)
	if err != nil {
		return Conversation{}, false, err
	}
	return conv, true, nil
}

// EnsureOrderConversation creates (or reuses) the order conversation for the
// given participant set, retrying transient failures so a won proposal always
// ends up with a channel to talk on.
func (s *Service) EnsureOrderConversation(ctx context.Context, orderID, title string, participantIDs []string, opening *OpeningMessage) (Conversation, error) {
	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Conversation{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		conv, err := s.GetOrCreateForOrder(ctx, orderID, title, participantIDs, opening)
		if err == nil {
			return conv, nil
		}
		if errors.Is(err, ErrOrderResolved) {
			return Conversation{}, err
		}
		lastErr = err
	}
	return Conversation{}, fmt.Errorf("chat: ensure conversation: %w", lastErr)
}

// SendParams carries one message send.
type SendParams struct {
	ConversationID string
	SenderID       string
	Type           MessageType
	Content        string
}

// Send appends a message after checking membership, conversation state, and
// the contact-info policy. The policy applies only while the owning order is
// still open and only to text messages.
func (s *Service) Send(ctx context.Context, p SendParams) (Message, error) {
	if p.Type == "" {
		p.Type = TypeText
	}
	if !validMessageType(p.Type) {
		return Message{}, ErrInvalidMessageType
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("chat: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, orderStatus, err := s.store.GetForUpdate(ctx, tx, p.ConversationID)
	if err != nil {
		return Message{}, err
	}
	switch conv.Status {
	case StatusRemoved:
		return Message{}, ErrConversationRemoved
	case StatusClosed, StatusCompleted:
		return Message{}, ErrConversationClosed
	}

	active, err := s.store.IsActiveParticipant(ctx, tx, conv.ID, p.SenderID)
	if err != nil {
		return Message{}, err
	}
	if !active {
		return Message{}, ErrNotAParticipant
	}

	orderOpen := orderStatus != nil && *orderStatus == "open"
	if orderOpen && p.Type == TypeText && s.policy(p.Content) {
		return Message{}, ErrContactInfoBlocked
	}

	sender := p.SenderID
	msg, err := s.store.InsertMessage(ctx, tx, conv.ID, &sender, p.Type, p.Content)
	if err != nil {
		return Message{}, err
	}

	recipients, err := s.store.ActiveParticipantIDs(ctx, tx, conv.ID)
	if err != nil {
		return Message{}, err
	}
	notify := recipients[:0:0]
	for _, id := range recipients {
		if id != p.SenderID {
			notify = append(notify, id)
		}
	}

	if err := s.outbox.Enqueue(ctx, tx, "chat.message", map[string]any{
		"conversation_id": conv.ID,
		"message_id":      msg.ID,
		"sender_id":       p.SenderID,
		"message_type":    string(msg.Type),
		"preview":         preview(msg.Content),
		"notify_user_ids": notify,
		"channel":         "chat:events:" + conv.ID,
	}); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("chat: commit tx: %w", err)
	}
	return msg, nil
}

// Messages lists a conversation page for an active participant.
func (s *Service) Messages(ctx context.Context, conversationID, userID, beforeID string, limit int) ([]Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, _, err := s.store.GetForUpdate(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == StatusRemoved {
		return nil, ErrConversationRemoved
	}
	active, err := s.store.IsActiveParticipant(ctx, tx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrNotAParticipant
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("chat: commit tx: %w", err)
	}

	return s.store.ListMessages(ctx, conversationID, beforeID, limit)
}

// ListForUser returns the user's conversations, most recently touched first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	return s.store.ListForUser(ctx, userID)
}

// MarkRead stamps the participant's read cursor.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) error {
	return s.store.MarkRead(ctx, conversationID, userID)
}

// normalizeSet dedupes and sorts ids so participant sets compare as sets
// regardless of how callers spell them.
func normalizeSet(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func preview(content string) string {
	const max = 120
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}
