package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailSink_MailsEveryRecipient(t *testing.T) {
	sender := &fakeEmailSender{}
	emails := &fakeEmails{byUser: map[string]string{
		"bidder-1": "one@example.com",
		"bidder-2": "two@example.com",
	}}
	sink := NewEmailSink(sender, emails)

	payload := []byte(`{"order_title":"Fix roof","notify_user_ids":["bidder-1","bidder-2"]}`)
	require.NoError(t, sink.Deliver(context.Background(), "order.rejected", payload))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "one@example.com", sender.sent[0].to)
	assert.Equal(t, "Proposal declined", sender.sent[0].subject)
	assert.Contains(t, sender.sent[0].body, "Fix roof")
}

func TestEmailSink_NoRecipientsIsANoOp(t *testing.T) {
	sender := &fakeEmailSender{}
	sink := NewEmailSink(sender, &fakeEmails{})

	require.NoError(t, sink.Deliver(context.Background(), "order.completed", []byte(`{"order_id":"o1"}`)))
	assert.Empty(t, sender.sent)
}

func TestEmailSink_SendFailureIsLoggedNotReturned(t *testing.T) {
	sender := &fakeEmailSender{err: errors.New("smtp down")}
	emails := &fakeEmails{byUser: map[string]string{"client": "c@example.com"}}
	sink := NewEmailSink(sender, emails)

	payload := []byte(`{"order_title":"Fix roof","notify_user_ids":["client"]}`)
	assert.NoError(t, sink.Deliver(context.Background(), "order.chosen", payload))
}

type sentEmail struct {
	to      string
	subject string
	body    string
}

type fakeEmailSender struct {
	err  error
	sent []sentEmail
}

func (f *fakeEmailSender) Send(ctx context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{to: to, subject: subject, body: body})
	return nil
}

type fakeEmails struct {
	byUser map[string]string
}

func (f *fakeEmails) EmailsByUsers(ctx context.Context, userIDs []string) ([]string, error) {
	var out []string
	for _, id := range userIDs {
		if addr, ok := f.byUser[id]; ok {
			out = append(out, addr)
		}
	}
	return out, nil
}
