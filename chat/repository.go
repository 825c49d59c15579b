package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the conversation does not exist.
var ErrNotFound = errors.New("chat: conversation not found")

// Repository provides persistence for conversations, participants, and
// messages. Mutations that participate in lifecycle operations are tx-scoped.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// OrderConversation pairs a conversation with its active participant set,
// used for the exact-set idempotency match.
type OrderConversation struct {
	Conversation
	ActiveParticipants []string
}

// OrderStatus returns the order's status with its row locked, serializing
// conversation creation against lifecycle transitions.
func (r *Repository) OrderStatus(ctx context.Context, tx pgx.Tx, orderID string) (string, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("chat: order status: %w", err)
	}
	return status, nil
}

// ListByOrderForUpdate loads the order's conversations with their rows locked
// and their active participant user ids attached.
func (r *Repository) ListByOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) ([]OrderConversation, error) {
	const convSQL = `
		SELECT id, order_id::text, title, status, created_at, updated_at
		FROM conversations
		WHERE order_id = $1
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, convSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("chat: list order conversations: %w", err)
	}
	defer rows.Close()

	out := make([]OrderConversation, 0, 4)
	for rows.Next() {
		var c OrderConversation
		if err := rows.Scan(&c.ID, &c.OrderID, &c.Title, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate conversations: %w", err)
	}
	rows.Close()

	for i := range out {
		ids, err := r.activeParticipantIDs(ctx, tx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].ActiveParticipants = ids
	}
	return out, nil
}

// Create inserts a conversation and its participant rows inside the caller's
// transaction.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, orderID, title string, participantIDs []string) (Conversation, error) {
	var order any
	if orderID != "" {
		order = orderID
	}

	const insertSQL = `
		INSERT INTO conversations (order_id, title)
		VALUES ($1, $2)
		RETURNING id, order_id::text, title, status, created_at, updated_at
	`
	var c Conversation
	if err := tx.QueryRow(ctx, insertSQL, order, title).
		Scan(&c.ID, &c.OrderID, &c.Title, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Conversation{}, fmt.Errorf("chat: insert conversation: %w", err)
	}

	for _, userID := range participantIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (conversation_id, user_id) DO UPDATE SET active = true
		`, c.ID, userID); err != nil {
			return Conversation{}, fmt.Errorf("chat: insert participant: %w", err)
		}
	}
	return c, nil
}

// Reopen returns a closed conversation to active.
func (r *Repository) Reopen(ctx context.Context, tx pgx.Tx, conversationID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE conversations
		SET status = 'active', updated_at = now()
		WHERE id = $1 AND status = 'closed'
	`, conversationID); err != nil {
		return fmt.Errorf("chat: reopen conversation: %w", err)
	}
	return nil
}

// SetStatusByOrder moves every non-removed conversation of the order to the
// given status. Used by the order lifecycle inside its transaction.
func (r *Repository) SetStatusByOrder(ctx context.Context, tx pgx.Tx, orderID string, status Status) error {
	if _, err := tx.Exec(ctx, `
		UPDATE conversations
		SET status = $2, updated_at = now()
		WHERE order_id = $1 AND status <> 'removed'
	`, orderID, status); err != nil {
		return fmt.Errorf("chat: set status by order: %w", err)
	}
	return nil
}

// CloseAllForOrder closes the order's conversations.
func (r *Repository) CloseAllForOrder(ctx context.Context, tx pgx.Tx, orderID string) error {
	return r.SetStatusByOrder(ctx, tx, orderID, StatusClosed)
}

// CompleteAllForOrder completes the order's conversations.
func (r *Repository) CompleteAllForOrder(ctx context.Context, tx pgx.Tx, orderID string) error {
	return r.SetStatusByOrder(ctx, tx, orderID, StatusCompleted)
}

// AppendSystemMessage posts a system message into every active conversation
// of the order inside the caller's transaction.
func (r *Repository) AppendSystemMessage(ctx context.Context, tx pgx.Tx, orderID, content string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (conversation_id, sender_id, message_type, content)
		SELECT id, NULL, 'system', $2
		FROM conversations
		WHERE order_id = $1 AND status = 'active'
	`, orderID, content); err != nil {
		return fmt.Errorf("chat: append system message: %w", err)
	}
	return nil
}

// GetForUpdate loads a conversation with its row locked, joined with the
// owning order's status when the conversation is order-bound.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, conversationID string) (Conversation, *string, error) {
	const query = `
		SELECT c.id, c.order_id::text, c.title, c.status, c.created_at, c.updated_at, o.status
		FROM conversations c
		LEFT JOIN orders o ON o.id = c.order_id
		WHERE c.id = $1
		FOR UPDATE OF c
	`
	var (
		c           Conversation
		orderStatus *string
	)
	if err := tx.QueryRow(ctx, query, conversationID).
		Scan(&c.ID, &c.OrderID, &c.Title, &c.Status, &c.CreatedAt, &c.UpdatedAt, &orderStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, nil, ErrNotFound
		}
		return Conversation{}, nil, fmt.Errorf("chat: get conversation: %w", err)
	}
	return c, orderStatus, nil
}

// IsActiveParticipant reports whether the user is an active participant of the
// conversation, checked inside the caller's transaction.
func (r *Repository) IsActiveParticipant(ctx context.Context, tx pgx.Tx, conversationID, userID string) (bool, error) {
	var active bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2 AND active
		)
	`, conversationID, userID).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("chat: check participant: %w", err)
	}
	return active, nil
}

// ActiveParticipantIDs returns the user ids of the conversation's active
// participants inside the caller's transaction.
func (r *Repository) ActiveParticipantIDs(ctx context.Context, tx pgx.Tx, conversationID string) ([]string, error) {
	return r.activeParticipantIDs(ctx, tx, conversationID)
}

func (r *Repository) activeParticipantIDs(ctx context.Context, tx pgx.Tx, conversationID string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT user_id::text
		FROM conversation_participants
		WHERE conversation_id = $1 AND active
		ORDER BY user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("chat: list participants: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chat: scan participant: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate participants: %w", err)
	}
	return out, nil
}

// InsertMessage appends a message and bumps the conversation's updated_at
// inside the caller's transaction.
func (r *Repository) InsertMessage(ctx context.Context, tx pgx.Tx, conversationID string, senderID *string, msgType MessageType, content string) (Message, error) {
	const insertSQL = `
		INSERT INTO messages (conversation_id, sender_id, message_type, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, conversation_id, sender_id::text, message_type, content, created_at
	`
	var m Message
	if err := tx.QueryRow(ctx, insertSQL, conversationID, senderID, msgType, content).
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Content, &m.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("chat: insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET updated_at = now() WHERE id = $1
	`, conversationID); err != nil {
		return Message{}, fmt.Errorf("chat: touch conversation: %w", err)
	}
	return m, nil
}

// ListMessages returns the conversation's messages in insertion order with
// sender names attached, optionally paginated with a before-id cursor.
func (r *Repository) ListMessages(ctx context.Context, conversationID, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT m.id, m.conversation_id, m.sender_id::text, m.message_type, m.content,
		       COALESCE(u.full_name, ''), m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
	`
	args := []any{conversationID}
	if beforeID != "" {
		query += ` AND m.created_at < (SELECT created_at FROM messages WHERE id = $2)`
		args = append(args, beforeID)
	}
	query += fmt.Sprintf(` ORDER BY m.created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Content, &m.SenderName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate messages: %w", err)
	}

	// The query walks newest-first for the cursor; present oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListForUser returns the conversations the user actively participates in,
// most recently touched first.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	const query = `
		SELECT c.id, c.order_id::text, c.title, c.status, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1 AND p.active AND c.status <> 'removed'
		ORDER BY c.updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: list for user: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, 8)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.OrderID, &c.Title, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate conversations: %w", err)
	}
	return out, nil
}

// MarkRead stamps the participant's last-read time.
func (r *Repository) MarkRead(ctx context.Context, conversationID, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants
		SET last_read_at = now()
		WHERE conversation_id = $1 AND user_id = $2 AND active
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("chat: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotAParticipant
	}
	return nil
}
