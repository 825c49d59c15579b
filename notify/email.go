package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EmailSender abstracts the outbound mail provider.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogEmailSender writes mail to the log instead of sending it. Used in
// development and wherever no provider is configured.
type LogEmailSender struct{}

func (LogEmailSender) Send(ctx context.Context, to, subject, body string) error {
	log.Printf("notify: email to %s: %s", to, subject)
	return nil
}

type emailLister interface {
	EmailsByUsers(ctx context.Context, userIDs []string) ([]string, error)
}

// EmailSink mails every user listed in the event's notify_user_ids. Individual
// send failures are logged, not propagated: a bounced address must not push
// the event back into retry.
type EmailSink struct {
	sender EmailSender
	emails emailLister
}

func NewEmailSink(sender EmailSender, emails emailLister) *EmailSink {
	return &EmailSink{sender: sender, emails: emails}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, topic string, payload []byte) error {
	var body struct {
		OrderTitle    string   `json:"order_title"`
		Preview       string   `json:"preview"`
		NotifyUserIDs []string `json:"notify_user_ids"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("notify: decode email payload: %w", err)
	}
	if len(body.NotifyUserIDs) == 0 {
		return nil
	}

	addrs, err := s.emails.EmailsByUsers(ctx, body.NotifyUserIDs)
	if err != nil {
		return err
	}

	subject, text := describe(topic, body.OrderTitle, body.Preview)
	for _, to := range addrs {
		if err := s.sender.Send(ctx, to, subject, text); err != nil {
			log.Printf("notify: email %s: %v", to, err)
		}
	}
	return nil
}

// Directory resolves user ids to email addresses.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) EmailsByUsers(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT email FROM users WHERE id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("notify: list emails: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, len(userIDs))
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("notify: scan email: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}
