package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hireline/auth"
	"hireline/order"
)

type createOrderRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Budget      int64  `json:"budget" binding:"required,gt=0"`
}

type orderResponse struct {
	ID          string `json:"id"`
	ClientID    string `json:"clientId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Budget      int64  `json:"budget"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func toOrderResponse(o order.Order) orderResponse {
	return orderResponse{
		ID:          o.ID,
		ClientID:    o.ClientID,
		Title:       o.Title,
		Description: o.Description,
		Budget:      o.Budget,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   o.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := s.orders.Create(c.Request.Context(), order.CreateParams{
		ClientID:    auth.UserID(c),
		Title:       req.Title,
		Description: req.Description,
		Budget:      req.Budget,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(o))
}

func (s *Server) listMyOrders(c *gin.Context) {
	orders, err := s.orders.ListByClient(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": toOrderResponses(orders)})
}

func (s *Server) listOpenOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	orders, err := s.orders.ListOpen(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": toOrderResponses(orders)})
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o))
}

func (s *Server) rejectOrder(c *gin.Context) {
	if err := s.orders.Reject(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

type chooseRequest struct {
	ProposalID string `json:"proposalId"`
}

func (s *Server) chooseProposal(c *gin.Context) {
	var req chooseRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chosen, err := s.orders.Choose(c.Request.Context(), c.Param("id"), auth.UserID(c), req.ProposalID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProposalResponse(chosen))
}

func (s *Server) cancelOrder(c *gin.Context) {
	if err := s.orders.Cancel(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (s *Server) completeOrder(c *gin.Context) {
	if err := s.orders.Complete(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}
