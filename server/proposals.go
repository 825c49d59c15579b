package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hireline/auth"
	"hireline/proposal"
)

type submitProposalRequest struct {
	Message    string   `json:"message"`
	LeadUserID string   `json:"leadUserId"`
	PeerIDs    []string `json:"peerIds"`
}

type proposalResponse struct {
	ID         string  `json:"id"`
	OrderID    string  `json:"orderId"`
	BidderID   string  `json:"bidderId"`
	LeadUserID *string `json:"leadUserId,omitempty"`
	IsTeam     bool    `json:"isTeam"`
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	CreditCost int64   `json:"creditCost"`
	CreatedAt  string  `json:"createdAt"`
}

func toProposalResponse(p proposal.Proposal) proposalResponse {
	return proposalResponse{
		ID:         p.ID,
		OrderID:    p.OrderID,
		BidderID:   p.BidderID,
		LeadUserID: p.LeadUserID,
		IsTeam:     p.IsTeam(),
		Status:     string(p.Status),
		Message:    p.Message,
		CreditCost: p.CreditCost,
		CreatedAt:  p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) submitProposal(c *gin.Context) {
	var req submitProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := s.proposals.Submit(c.Request.Context(), proposal.SubmitParams{
		OrderID:    c.Param("id"),
		BidderID:   auth.UserID(c),
		LeadUserID: req.LeadUserID,
		PeerIDs:    req.PeerIDs,
		Message:    req.Message,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProposalResponse(p))
}

// listProposals returns the order's proposals. Only the order owner sees
// other bidders' proposals; a bidder sees just their own.
func (s *Server) listProposals(c *gin.Context) {
	orderID := c.Param("id")
	callerID := auth.UserID(c)

	o, err := s.orders.Get(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	proposals, err := s.bids.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]proposalResponse, 0, len(proposals))
	for _, p := range proposals {
		if o.ClientID != callerID && p.BidderID != callerID && p.Lead() != callerID {
			continue
		}
		out = append(out, toProposalResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"proposals": out})
}
