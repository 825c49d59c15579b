package credit

import "time"

// Reasons recorded on ledger transactions. Every balance mutation carries one.
const (
	ReasonProposalSubmit = "proposal_submit"
	ReasonRefundRejected = "refund_rejected"
	ReasonRefundCanceled = "refund_canceled"
	ReasonTopUp          = "top_up"
)

// Transaction is an immutable ledger row. Amount is signed: debits are
// negative, credits positive. BalanceAfter is the balance that resulted from
// applying this transaction, kept for audit and replay detection.
type Transaction struct {
	ID           string
	UserID       string
	Amount       int64
	BalanceAfter int64
	Reason       string
	Reference    *string
	CreatedAt    time.Time
}
