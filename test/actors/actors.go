package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"hireline/chat"
	"hireline/order"
	"hireline/proposal"
)

// Actors drive the services under contention and tolerate every call-level
// error: duplicate bids, state conflicts, empty wallets, and connections
// dropped by the chaos goroutine are all expected. Correctness is enforced by
// the oracles, which inspect the database between rounds.

// Bidder submits proposals on the order from random specialists.
func Bidder(ctx context.Context, svc *proposal.Service, orderID string, specialistIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		bidder := specialistIDs[rand.Intn(len(specialistIDs))]
		_, _ = svc.Submit(ctx, proposal.SubmitParams{
			OrderID:  orderID,
			BidderID: bidder,
			Message:  fmt.Sprintf("bid from %s at %d", bidder, time.Now().UnixNano()),
		})
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Resolver races the client's lifecycle actions against the bidders. Once
// the order leaves open, most calls fail with state errors, which is the
// point: exactly one resolution must win.
func Resolver(ctx context.Context, svc *order.Service, orderID, clientID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		switch rand.Intn(4) {
		case 0:
			_, _ = svc.Choose(ctx, orderID, clientID, "")
		case 1:
			_ = svc.Reject(ctx, orderID, clientID)
		case 2:
			_ = svc.Cancel(ctx, orderID, clientID)
		default:
			_ = svc.Complete(ctx, orderID, clientID)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Messenger chats in every conversation the user can see, occasionally
// trying to sneak a phone number through to exercise the content policy.
func Messenger(ctx context.Context, svc *chat.Service, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		convs, err := svc.ListForUser(ctx, userID)
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		for _, conv := range convs {
			content := fmt.Sprintf("update at %d", time.Now().UnixNano())
			if rand.Intn(4) == 0 {
				content = "reach me on 555-123-4567"
			}
			_, _ = svc.Send(ctx, chat.SendParams{
				ConversationID: conv.ID,
				SenderID:       userID,
				Content:        content,
			})
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}
