package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hireline/auth"
	"hireline/chat"
	"hireline/credit"
	"hireline/order"
	"hireline/proposal"
)

// respondError maps domain errors onto HTTP statuses. Unknown errors become
// opaque 500s so internals never leak to clients.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, order.ErrEmptyTitle),
		errors.Is(err, order.ErrInvalidBudget),
		errors.Is(err, chat.ErrInvalidMessageType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrProposalNotFound),
		errors.Is(err, proposal.ErrOrderNotFound),
		errors.Is(err, proposal.ErrNotFound),
		errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, order.ErrNotOwner),
		errors.Is(err, proposal.ErrOwnOrder),
		errors.Is(err, chat.ErrNotAParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrNoProposals),
		errors.Is(err, proposal.ErrOrderNotOpen),
		errors.Is(err, proposal.ErrDuplicate),
		errors.Is(err, chat.ErrConversationClosed),
		errors.Is(err, chat.ErrOrderResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, credit.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
	case errors.Is(err, chat.ErrContactInfoBlocked):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "message appears to contain contact details; sharing them is allowed once the order leaves the open stage"})
	case errors.Is(err, chat.ErrConversationRemoved):
		c.JSON(http.StatusGone, gin.H{"error": "conversation removed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
