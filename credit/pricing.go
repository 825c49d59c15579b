package credit

// Proposal cost tiers by order budget. Team bids cost half again as much as
// individual bids; only the lead bidder is debited.
const (
	tierSmallBudget  = 500
	tierMediumBudget = 2000
	tierLargeBudget  = 10000

	costSmall  = 20
	costMedium = 35
	costLarge  = 50
	costXL     = 80
)

// Pricing derives proposal costs and refunds from an order's budget tier and
// the configured refund percentage.
type Pricing struct {
	refundPercent int64
}

func NewPricing(refundPercent int) Pricing {
	if refundPercent < 0 {
		refundPercent = 0
	}
	if refundPercent > 100 {
		refundPercent = 100
	}
	return Pricing{refundPercent: int64(refundPercent)}
}

// ProposalCost returns the credits debited when submitting a proposal on an
// order with the given budget.
func (p Pricing) ProposalCost(budget int64, team bool) int64 {
	var cost int64
	switch {
	case budget < tierSmallBudget:
		cost = costSmall
	case budget < tierMediumBudget:
		cost = costMedium
	case budget < tierLargeBudget:
		cost = costLarge
	default:
		cost = costXL
	}
	if team {
		cost = cost * 3 / 2
	}
	return cost
}

// Refund returns the credits returned to the lead bidder when a proposal that
// originally cost the given amount is rejected or canceled.
func (p Pricing) Refund(cost int64) int64 {
	return cost * p.refundPercent / 100
}
