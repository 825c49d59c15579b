package chat

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusCompleted Status = "completed"
	StatusRemoved   Status = "removed"
)

type MessageType string

const (
	TypeText   MessageType = "text"
	TypeImage  MessageType = "image"
	TypeFile   MessageType = "file"
	TypeSystem MessageType = "system"
)

// Conversation is a message thread, optionally bound to one order.
type Conversation struct {
	ID        string
	OrderID   *string
	Title     string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant is a membership record. Participants are soft-removed
// (active=false) rather than deleted so message history keeps its authorship.
type Participant struct {
	ID             string
	ConversationID string
	UserID         string
	Active         bool
	LastReadAt     *time.Time
	CreatedAt      time.Time
}

// Message belongs to exactly one conversation and is immutable once created.
// SenderID is nil for system messages. SenderName is populated on reads that
// join the users table.
type Message struct {
	ID             string
	ConversationID string
	SenderID       *string
	Type           MessageType
	Content        string
	SenderName     string
	CreatedAt      time.Time
}

func validMessageType(t MessageType) bool {
	switch t {
	case TypeText, TypeImage, TypeFile:
		return true
	default:
		return false
	}
}
