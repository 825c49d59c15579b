package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hireline/auth"
	"hireline/credit"
)

func (s *Server) creditBalance(c *gin.Context) {
	balance, err := s.ledger.Balance(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

type transactionResponse struct {
	ID           string  `json:"id"`
	Amount       int64   `json:"amount"`
	BalanceAfter int64   `json:"balanceAfter"`
	Reason       string  `json:"reason"`
	Reference    *string `json:"reference,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

func toTransactionResponse(t credit.Transaction) transactionResponse {
	return transactionResponse{
		ID:           t.ID,
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		Reason:       t.Reason,
		Reference:    t.Reference,
		CreatedAt:    t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) creditHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	history, err := s.ledger.History(c.Request.Context(), auth.UserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]transactionResponse, 0, len(history))
	for _, t := range history {
		out = append(out, toTransactionResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

type deviceRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform"`
}

func (s *Server) registerDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.tokens.Register(c.Request.Context(), auth.UserID(c), req.Token, req.Platform); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "registered"})
}

func (s *Server) removeDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.tokens.Remove(c.Request.Context(), auth.UserID(c), req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
