package order

import "time"

// Status is the order lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
	StatusCompleted  Status = "completed"
)

// CanTransition reports whether the lifecycle permits moving from current to
// next. Closed and completed are terminal.
func CanTransition(current, next Status) bool {
	switch current {
	case StatusOpen:
		return next == StatusInProgress || next == StatusClosed
	case StatusInProgress:
		return next == StatusCompleted || next == StatusClosed
	default:
		return false
	}
}

// Order is a client's request for work that specialists bid on.
type Order struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Budget      int64     `json:"budget"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
