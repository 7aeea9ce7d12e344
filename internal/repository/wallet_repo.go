package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Get returns the user's wallet. A user with no wallet row has a zero balance.
func (r *WalletRepo) Get(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return r.get(ctx, on(r.pool, tx), userID, "")
}

// GetForUpdate locks the wallet row. Call within a transaction.
func (r *WalletRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return r.get(ctx, tx, userID, " FOR UPDATE")
}

func (r *WalletRepo) get(ctx context.Context, q querier, userID uuid.UUID, lock string) (*models.Wallet, error) {
	w := models.Wallet{UserID: userID}
	err := q.QueryRow(ctx, `SELECT balance, updated_at FROM wallets WHERE user_id = $1`+lock, userID).
		Scan(&w.Balance, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &w, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Credit adds amount to the wallet, creating it at that amount if missing. Returns the new balance.
func (r *WalletRepo) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (newBalance decimal.Decimal, err error) {
	err = on(r.pool, tx).QueryRow(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance
	`, userID, amount).Scan(&newBalance)
	return newBalance, err
}

// Debit atomically deducts amount if balance >= amount. Returns the new balance or ErrInsufficientBalance.
func (r *WalletRepo) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (newBalance decimal.Decimal, err error) {
	err = on(r.pool, tx).QueryRow(ctx, `
		UPDATE wallets SET balance = balance - $1, updated_at = now()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance
	`, amount, userID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrInsufficientBalance
	}
	return newBalance, err
}
