package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRepository stores device push tokens. A token belongs to one user; the
// same token re-registered just refreshes the row.
type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Register(ctx context.Context, userID, token, platform string) error {
	if platform == "" {
		platform = "android"
	}
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO device_tokens (user_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token) DO UPDATE SET platform = EXCLUDED.platform
	`, userID, token, platform); err != nil {
		return fmt.Errorf("notify: register token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Remove(ctx context.Context, userID, token string) error {
	if _, err := r.pool.Exec(ctx, `
		DELETE FROM device_tokens WHERE user_id = $1 AND token = $2
	`, userID, token); err != nil {
		return fmt.Errorf("notify: remove token: %w", err)
	}
	return nil
}

// ListByUsers returns all tokens registered by the given users.
func (r *TokenRepository) ListByUsers(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT token FROM device_tokens WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("notify: list tokens: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, len(userIDs))
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("notify: scan token: %w", err)
		}
		out = append(out, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate tokens: %w", err)
	}
	return out, nil
}
