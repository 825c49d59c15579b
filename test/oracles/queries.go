package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each query selects VIOLATING rows, so an
// empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_proposal",
			SQL: `SELECT order_id, COUNT(*) FROM proposals
                  WHERE status = 'accepted'
                  GROUP BY order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_non_negative_balances",
			SQL:  `SELECT id, credit_balance FROM users WHERE credit_balance < 0`,
		},
		{
			Name: "O3_ledger_matches_balance",
			SQL: `SELECT u.id, u.credit_balance, COALESCE(t.total, 0) AS ledger_total
                  FROM users u
                  LEFT JOIN (SELECT user_id, SUM(amount) AS total
                             FROM credit_transactions GROUP BY user_id) t
                    ON t.user_id = u.id
                  WHERE u.credit_balance <> COALESCE(t.total, 0)`,
		},
		{
			Name: "O4_no_pending_on_resolved_order",
			SQL: `SELECT p.id, p.order_id, o.status FROM proposals p
                  JOIN orders o ON o.id = p.order_id
                  WHERE p.status = 'pending' AND o.status <> 'open'`,
		},
		{
			Name: "O5_accepted_implies_order_started",
			SQL: `SELECT p.id, p.order_id, o.status FROM proposals p
                  JOIN orders o ON o.id = p.order_id
                  WHERE p.status = 'accepted' AND o.status = 'open'`,
		},
		{
			Name: "O6_outbox_not_stuck",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O7_user_messages_have_sender",
			SQL: `SELECT id FROM messages
                  WHERE message_type <> 'system' AND sender_id IS NULL`,
		},
		{
			Name: "O8_no_active_conversation_on_closed_order",
			SQL: `SELECT c.id, c.order_id FROM conversations c
                  JOIN orders o ON o.id = c.order_id
                  WHERE o.status IN ('closed','completed') AND c.status = 'active'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
