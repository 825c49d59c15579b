package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"firebase.google.com/go/v4/messaging"
)

type tokenLister interface {
	ListByUsers(ctx context.Context, userIDs []string) ([]string, error)
}

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushSink sends FCM notifications to the users named in the event payload's
// notify_user_ids field. Events without recipients pass through silently.
type PushSink struct {
	client messageSender
	tokens tokenLister
}

func NewPushSink(client messageSender, tokens tokenLister) *PushSink {
	return &PushSink{client: client, tokens: tokens}
}

func (s *PushSink) Name() string { return "fcm" }

func (s *PushSink) Deliver(ctx context.Context, topic string, payload []byte) error {
	var body struct {
		OrderTitle    string   `json:"order_title"`
		Preview       string   `json:"preview"`
		NotifyUserIDs []string `json:"notify_user_ids"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("notify: decode payload: %w", err)
	}
	if len(body.NotifyUserIDs) == 0 {
		return nil
	}

	tokens, err := s.tokens.ListByUsers(ctx, body.NotifyUserIDs)
	if err != nil {
		return err
	}

	title, text := describe(topic, body.OrderTitle, body.Preview)
	var lastErr error
	for _, token := range tokens {
		_, err := s.client.Send(ctx, &messaging.Message{
			Token: token,
			Notification: &messaging.Notification{
				Title: title,
				Body:  text,
			},
			Data: map[string]string{"topic": topic},
		})
		if err != nil {
			// Stale tokens are expected; keep sending to the rest.
			log.Printf("notify: send to token: %v", err)
			lastErr = err
		}
	}
	if lastErr != nil && len(tokens) == 1 {
		return lastErr
	}
	return nil
}

func describe(topic, orderTitle, preview string) (string, string) {
	switch topic {
	case "proposal.submitted":
		return "New proposal", "You received a new proposal on " + orderTitle
	case "order.chosen":
		return "Proposal accepted", "Your proposal on " + orderTitle + " was accepted"
	case "order.rejected":
		return "Proposal declined", "Your proposal on " + orderTitle + " was declined and credits refunded"
	case "order.canceled":
		return "Order canceled", orderTitle + " was canceled and credits partially refunded"
	case "order.completed":
		return "Order completed", orderTitle + " was marked completed"
	case "chat.message":
		return "New message", preview
	default:
		return "Update", orderTitle
	}
}
