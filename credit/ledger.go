package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInsufficientBalance signals a debit that would take the balance negative.
	ErrInsufficientBalance = errors.New("credit: insufficient balance")
	// ErrAccountNotFound is returned when the user row does not exist.
	ErrAccountNotFound = errors.New("credit: account not found")
)

// Ledger mutates credit balances. Mutations are tx-scoped: the caller owns the
// transaction so lifecycle operations stay atomic across aggregates. Every
// mutation appends an immutable credit_transactions row.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Debit removes amount credits from the user inside the caller's transaction.
// The balance update is a single conditional UPDATE so the non-negative
// invariant holds regardless of concurrent activity.
func (l *Ledger) Debit(ctx context.Context, tx pgx.Tx, userID string, amount int64, reason string, reference string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit: debit amount must be positive, got %d", amount)
	}

	const debitSQL = `
		UPDATE users
		SET credit_balance = credit_balance - $2, updated_at = now()
		WHERE id = $1 AND credit_balance >= $2
		RETURNING credit_balance
	`

	var balance int64
	if err := tx.QueryRow(ctx, debitSQL, userID, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, l.classifyMiss(ctx, tx, userID)
		}
		return 0, fmt.Errorf("credit: debit: %w", err)
	}

	if err := l.record(ctx, tx, userID, -amount, balance, reason, reference); err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit adds amount credits to the user inside the caller's transaction.
func (l *Ledger) Credit(ctx context.Context, tx pgx.Tx, userID string, amount int64, reason string, reference string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit: credit amount must be positive, got %d", amount)
	}

	const creditSQL = `
		UPDATE users
		SET credit_balance = credit_balance + $2, updated_at = now()
		WHERE id = $1
		RETURNING credit_balance
	`

	var balance int64
	if err := tx.QueryRow(ctx, creditSQL, userID, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("credit: credit: %w", err)
	}

	if err := l.record(ctx, tx, userID, amount, balance, reason, reference); err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance returns the user's current spendable balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := l.pool.QueryRow(ctx, `SELECT credit_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("credit: balance: %w", err)
	}
	return balance, nil
}

// History lists the user's ledger transactions, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	const query = `
		SELECT id, user_id, amount, balance_after, reason, reference, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := l.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("credit: list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, 16)
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.BalanceAfter, &t.Reason, &t.Reference, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("credit: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credit: iterate transactions: %w", err)
	}
	return out, nil
}

func (l *Ledger) record(ctx context.Context, tx pgx.Tx, userID string, amount, balanceAfter int64, reason, reference string) error {
	var ref any
	if reference != "" {
		ref = reference
	}

	const insertSQL = `
		INSERT INTO credit_transactions (user_id, amount, balance_after, reason, reference)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insertSQL, userID, amount, balanceAfter, reason, ref); err != nil {
		return fmt.Errorf("credit: record transaction: %w", err)
	}
	return nil
}

// classifyMiss distinguishes a missing account from an insufficient balance
// after a conditional debit matched no row.
func (l *Ledger) classifyMiss(ctx context.Context, tx pgx.Tx, userID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("credit: verify account: %w", err)
	}
	if !exists {
		return ErrAccountNotFound
	}
	return ErrInsufficientBalance
}
