package server

import (
	"github.com/gin-gonic/gin"

	"hireline/auth"
	"hireline/chat"
	"hireline/credit"
	"hireline/notify"
	"hireline/order"
	"hireline/proposal"
)

// Server wires the HTTP API over the domain services.
type Server struct {
	auths     *auth.Service
	orders    *order.Service
	proposals *proposal.Service
	bids      *proposal.Repository
	chats     *chat.Service
	ledger    *credit.Ledger
	tokens    *notify.TokenRepository
}

func New(auths *auth.Service, orders *order.Service, proposals *proposal.Service, bids *proposal.Repository, chats *chat.Service, ledger *credit.Ledger, tokens *notify.TokenRepository) *Server {
	return &Server{
		auths:     auths,
		orders:    orders,
		proposals: proposals,
		bids:      bids,
		chats:     chats,
		ledger:    ledger,
		tokens:    tokens,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/auth/register", s.register)
	api.POST("/auth/login", s.login)

	authed := api.Group("")
	authed.Use(auth.Middleware(s.auths))
	{
		authed.GET("/me", s.me)

		authed.POST("/orders", s.createOrder)
		authed.GET("/orders", s.listMyOrders)
		authed.GET("/orders/open", s.listOpenOrders)
		authed.GET("/orders/:id", s.getOrder)
		authed.POST("/orders/:id/reject", s.rejectOrder)
		authed.POST("/orders/:id/choose", s.chooseProposal)
		authed.POST("/orders/:id/cancel", s.cancelOrder)
		authed.POST("/orders/:id/complete", s.completeOrder)

		authed.POST("/orders/:id/proposals", s.submitProposal)
		authed.GET("/orders/:id/proposals", s.listProposals)
		authed.POST("/orders/:id/conversation", s.openOrderConversation)

		authed.GET("/conversations", s.listConversations)
		authed.GET("/conversations/:id/messages", s.listMessages)
		authed.POST("/conversations/:id/messages", s.sendMessage)
		authed.POST("/conversations/:id/read", s.markRead)

		authed.GET("/credits/balance", s.creditBalance)
		authed.GET("/credits/history", s.creditHistory)

		authed.POST("/devices", s.registerDevice)
		authed.DELETE("/devices", s.removeDevice)
	}

	return r
}
