package proposal

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusCanceled Status = "canceled"
)

// Proposal is a bid by a user, optionally on behalf of a team, on an order.
// CreditCost is the amount debited from the lead bidder at submission time;
// refunds are computed from it.
type Proposal struct {
	ID         string
	OrderID    string
	BidderID   string
	LeadUserID *string
	Status     Status
	Message    string
	CreditCost int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Peer is a team-member sub-record of a team proposal. Peer statuses mirror
// the parent proposal's transitions.
type Peer struct {
	ID         string
	ProposalID string
	UserID     string
	Status     Status
	CreatedAt  time.Time
}

// Lead returns the user who is debited and refunded for this proposal: the
// lead user for team bids, otherwise the bidder.
func (p Proposal) Lead() string {
	if p.LeadUserID != nil && *p.LeadUserID != "" {
		return *p.LeadUserID
	}
	return p.BidderID
}

// IsTeam reports whether the proposal was submitted on behalf of a team.
func (p Proposal) IsTeam() bool {
	return p.LeadUserID != nil && *p.LeadUserID != ""
}

// CanTransition reports whether a proposal in the current status may move to
// next. Only pending proposals can be accepted or rejected, and only accepted
// proposals can be canceled.
func CanTransition(current, next Status) bool {
	switch current {
	case StatusPending:
		return next == StatusAccepted || next == StatusRejected
	case StatusAccepted:
		return next == StatusCanceled
	default:
		return false
	}
}
