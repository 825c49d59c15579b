package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hireline/auth"
	"hireline/chat"
	"hireline/order"
	"hireline/proposal"
)

type conversationResponse struct {
	ID        string  `json:"id"`
	OrderID   *string `json:"orderId,omitempty"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	UpdatedAt string  `json:"updatedAt"`
}

func toConversationResponse(c chat.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		OrderID:   c.OrderID,
		Title:     c.Title,
		Status:    string(c.Status),
		UpdatedAt: c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

type messageResponse struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversationId"`
	SenderID       *string `json:"senderId,omitempty"`
	SenderName     string  `json:"senderName,omitempty"`
	Type           string  `json:"type"`
	Content        string  `json:"content"`
	CreatedAt      string  `json:"createdAt"`
}

func toMessageResponse(m chat.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Type:           string(m.Type),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

type openConversationRequest struct {
	ParticipantIDs []string `json:"participantIds" binding:"required,min=1"`
	Title          string   `json:"title"`
}

// openOrderConversation lets the order owner or a bidder start (or resume) a
// conversation on the order before anyone is chosen.
func (s *Server) openOrderConversation(c *gin.Context) {
	var req openConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID := c.Param("id")
	callerID := auth.UserID(c)

	o, err := s.orders.Get(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	bids, err := s.bids.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	participants, opening, err := planOrderConversation(o, bids, callerID, req.ParticipantIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	title := req.Title
	if title == "" {
		title = o.Title
	}

	conv, err := s.chats.GetOrCreateForOrder(c.Request.Context(), orderID, title, participants, opening)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

// planOrderConversation decides who sits in an order conversation and which
// proposal text seeds it. Only the order's client or someone behind one of its
// proposals may open one, and the client is always part of the set.
func planOrderConversation(o order.Order, bids []proposal.Proposal, callerID string, requested []string) ([]string, *chat.OpeningMessage, error) {
	byUser := make(map[string]*proposal.Proposal, len(bids)*2)
	for i := range bids {
		p := &bids[i]
		byUser[p.BidderID] = p
		byUser[p.Lead()] = p
	}
	if callerID != o.ClientID {
		if _, ok := byUser[callerID]; !ok {
			return nil, nil, chat.ErrNotAParticipant
		}
	}

	participants := append([]string{o.ClientID, callerID}, requested...)

	// Seed the conversation with the counterpart's proposal text so both
	// sides see what the bid said.
	var opening *chat.OpeningMessage
	for _, id := range participants {
		if id == o.ClientID {
			continue
		}
		if p, ok := byUser[id]; ok && p.Message != "" {
			opening = &chat.OpeningMessage{SenderID: p.BidderID, Content: p.Message}
			break
		}
	}
	return participants, opening, nil
}

func (s *Server) listConversations(c *gin.Context) {
	convs, err := s.chats.ListForUser(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, toConversationResponse(conv))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (s *Server) listMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := s.chats.Messages(c.Request.Context(), c.Param("id"), auth.UserID(c), c.Query("before"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Type    string `json:"type"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.chats.Send(c.Request.Context(), chat.SendParams{
		ConversationID: c.Param("id"),
		SenderID:       auth.UserID(c),
		Type:           chat.MessageType(req.Type),
		Content:        req.Content,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageResponse(msg))
}

func (s *Server) markRead(c *gin.Context) {
	if err := s.chats.MarkRead(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
