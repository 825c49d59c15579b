package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestSend_BlocksContactInfoWhileOrderOpen(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		conv:        Conversation{ID: "conv-1", Status: StatusActive},
		orderStatus: strptr("open"),
		active:      true,
	}
	outbox := &fakeOutbox{}
	svc := NewService(pool, store, outbox, ContainsPhoneNumber)

	_, err := svc.Send(context.Background(), SendParams{
		ConversationID: "conv-1",
		SenderID:       "user-1",
		Content:        "call me at 555-123-4567",
	})
	if !errors.Is(err, ErrContactInfoBlocked) {
		t.Fatalf("expected ErrContactInfoBlocked, got %v", err)
	}
	if store.inserted != nil {
		t.Errorf("expected no message to be stored")
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
}

func TestSend_AllowsContactInfoAfterOrderLeavesOpen(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		conv:        Conversation{ID: "conv-1", Status: StatusActive},
		orderStatus: strptr("in_progress"),
		active:      true,
		recipients:  []string{"user-1", "user-2"},
	}
	outbox := &fakeOutbox{}
	svc := NewService(pool, store, outbox, ContainsPhoneNumber)

	msg, err := svc.Send(context.Background(), SendParams{
		ConversationID: "conv-1",
		SenderID:       "user-1",
		Content:        "call me at 555-123-4567",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if msg.Content != "call me at 555-123-4567" {
		t.Errorf("unexpected message content %q", msg.Content)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if len(outbox.events) != 1 || outbox.events[0].topic != "chat.message" {
		t.Fatalf("expected one chat.message event, got %+v", outbox.events)
	}
	notify, _ := outbox.events[0].payload["notify_user_ids"].([]string)
	if len(notify) != 1 || notify[0] != "user-2" {
		t.Errorf("expected sender excluded from notify set, got %v", notify)
	}
}

func TestSend_RejectsNonParticipant(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		conv:        Conversation{ID: "conv-1", Status: StatusActive},
		orderStatus: strptr("open"),
		active:      false,
	}
	svc := NewService(pool, store, &fakeOutbox{}, nil)

	_, err := svc.Send(context.Background(), SendParams{
		ConversationID: "conv-1",
		SenderID:       "stranger",
		Content:        "hello",
	})
	if !errors.Is(err, ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant, got %v", err)
	}
}

func TestSend_RemovedConversation(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{conv: Conversation{ID: "conv-1", Status: StatusRemoved}}
	svc := NewService(pool, store, &fakeOutbox{}, nil)

	_, err := svc.Send(context.Background(), SendParams{
		ConversationID: "conv-1",
		SenderID:       "user-1",
		Content:        "anyone here?",
	})
	if !errors.Is(err, ErrConversationRemoved) {
		t.Fatalf("expected ErrConversationRemoved, got %v", err)
	}
}

func TestSend_ClosedConversation(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{conv: Conversation{ID: "conv-1", Status: StatusClosed}}
	svc := NewService(pool, store, &fakeOutbox{}, nil)

	_, err := svc.Send(context.Background(), SendParams{
		ConversationID: "conv-1",
		SenderID:       "user-1",
		Content:        "hello?",
	})
	if !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
}

func TestSend_RejectsSystemType(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeStore{}, &fakeOutbox{}, nil)

	_, err := svc.Send(context.Background(), SendParams{
		ConversationID: "conv-1",
		SenderID:       "user-1",
		Type:           TypeSystem,
		Content:        "pretending to be the platform",
	})
	if !errors.Is(err, ErrInvalidMessageType) {
		t.Fatalf("expected ErrInvalidMessageType, got %v", err)
	}
}

func TestGetOrCreateForOrder_ReusesExactParticipantSet(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		byOrder: []OrderConversation{
			{
				Conversation:       Conversation{ID: "conv-old", Status: StatusActive},
				ActiveParticipants: []string{"client", "specialist"},
			},
		},
	}
	svc := NewService(pool, store, &fakeOutbox{}, nil)

	conv, err := svc.GetOrCreateForOrder(context.Background(), "order-1", "Kitchen remodel", []string{"specialist", "client"}, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if conv.ID != "conv-old" {
		t.Errorf("expected existing conversation to be reused, got %q", conv.ID)
	}
	if store.created {
		t.Errorf("expected no new conversation")
	}
}

func TestGetOrCreateForOrder_DuplicateIDsCompareAsSet(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		byOrder: []OrderConversation{
			{
				Conversation:       Conversation{ID: "conv-old", Status: StatusActive},
				ActiveParticipants: []string{"client", "specialist"},
			},
		},
	}
	svc := NewService(pool, store, &fakeOutbox{}, nil)

	conv, err := svc.GetOrCreateForOrder(context.Background(), "order-1", "Kitchen remodel", []string{"client", "client", "specialist"}, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if conv.ID != "conv-old" {
		t.Errorf("expected existing conversation to be reused, got %q", conv.ID)
	}
	if store.created {
		t.Errorf("expected no new conversation")
	}
}

func TestGetOrCreateForOrder_ReopensClosedMatch(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		byOrder: []OrderConversation{
			{
				Conversation:       Conversation{ID: "conv-old", Status: StatusClosed},
				ActiveParticipants: []string{"client", "specialist"},
			},
		},
	}
	svc := NewService(pool, store, &fakeOutbox{}, nil)

	conv, err := svc.GetOrCreateForOrder(context.Background(), "order-1", "Kitchen remodel", []string{"client", "specialist"}, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if conv.ID != "conv-old" {
		t.Errorf("expected closed conversation to be reused, got %q", conv.ID)
	}
	if !store.reopened {
		t.Errorf("expected conversation to be reopened")
	}
	if conv.Status != StatusActive {
		t.Errorf("expected active status, got %q", conv.Status)
	}
}

func TestGetOrCreateForOrder_CreatesForDifferentSet(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{
		byOrder: []OrderConversation{
			{
				Conversation:       Conversation{ID: "conv-old", Status: StatusActive},
				ActiveParticipants: []string{"client", "other-specialist"},
			},
		},
	}
	svc := NewService(pool, store, &fakeOutbox{}, nil)

	opening := &OpeningMessage{SenderID: "specialist", Content: "I can start Monday."}
	conv, err := svc.GetOrCreateForOrder(context.Background(), "order-1", "Kitchen remodel", []string{"client", "specialist"}, opening)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !store.created {
		t.Fatalf("expected a new conversation")
	}
	if conv.ID != "conv-new" {
		t.Errorf("expected created conversation, got %q", conv.ID)
	}
	if store.inserted == nil || store.inserted.Content != "I can start Monday." {
		t.Errorf("expected opening message to be seeded, got %+v", store.inserted)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestGetOrCreateForOrder_RefusesResolvedOrder(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{orderState: "closed"}
	svc := NewService(pool, store, &fakeOutbox{}, nil)

	_, err := svc.GetOrCreateForOrder(context.Background(), "order-1", "Kitchen remodel", []string{"client", "specialist"}, nil)
	if !errors.Is(err, ErrOrderResolved) {
		t.Fatalf("expected ErrOrderResolved, got %v", err)
	}
	if store.created {
		t.Errorf("expected no conversation to be created")
	}
}

func TestEnsureOrderConversation_RetriesTransientFailure(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{listErrs: []error{errors.New("deadlock detected")}}
	svc := NewService(pool, store, &fakeOutbox{}, nil)

	conv, err := svc.EnsureOrderConversation(context.Background(), "order-1", "Kitchen remodel", []string{"client", "specialist"}, nil)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if conv.ID != "conv-new" {
		t.Errorf("expected created conversation, got %q", conv.ID)
	}
	if store.listCalls != 2 {
		t.Errorf("expected 2 attempts, got %d", store.listCalls)
	}
}

func strptr(s string) *string { return &s }

type outboxEvent struct {
	topic   string
	payload map[string]any
}

type fakeOutbox struct {
	events []outboxEvent
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.events = append(f.events, outboxEvent{topic: topic, payload: payload})
	return nil
}

type fakeStore struct {
	conv        Conversation
	orderState  string
	orderStatus *string
	active      bool
	recipients  []string
	byOrder     []OrderConversation

	listErrs  []error
	listCalls int

	created  bool
	reopened bool
	inserted *Message
}

func (f *fakeStore) OrderStatus(ctx context.Context, tx pgx.Tx, orderID string) (string, error) {
	if f.orderState == "" {
		return "open", nil
	}
	return f.orderState, nil
}

func (f *fakeStore) ListByOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) ([]OrderConversation, error) {
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	return f.byOrder, nil
}

func (f *fakeStore) Create(ctx context.Context, tx pgx.Tx, orderID, title string, participantIDs []string) (Conversation, error) {
	f.created = true
	return Conversation{ID: "conv-new", Title: title, Status: StatusActive}, nil
}

func (f *fakeStore) Reopen(ctx context.Context, tx pgx.Tx, conversationID string) error {
	f.reopened = true
	return nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, tx pgx.Tx, conversationID string) (Conversation, *string, error) {
	if f.conv.ID == "" {
		return Conversation{}, nil, ErrNotFound
	}
	return f.conv, f.orderStatus, nil
}

func (f *fakeStore) IsActiveParticipant(ctx context.Context, tx pgx.Tx, conversationID, userID string) (bool, error) {
	return f.active, nil
}

func (f *fakeStore) ActiveParticipantIDs(ctx context.Context, tx pgx.Tx, conversationID string) ([]string, error) {
	return f.recipients, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, tx pgx.Tx, conversationID string, senderID *string, msgType MessageType, content string) (Message, error) {
	m := Message{ID: "msg-1", ConversationID: conversationID, SenderID: senderID, Type: msgType, Content: content}
	f.inserted = &m
	return m, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, conversationID, beforeID string, limit int) ([]Message, error) {
	return nil, nil
}

func (f *fakeStore) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	return nil, nil
}

func (f *fakeStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	panic("not implemented")
}
