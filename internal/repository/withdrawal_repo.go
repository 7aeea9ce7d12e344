package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/models"
)

type WithdrawalRepo struct {
	pool *pgxpool.Pool
}

func NewWithdrawalRepo(pool *pgxpool.Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

const withdrawalColumns = `id, user_id, tx_id, amount, fee, network, source, status, provider_request_id, failure_reason, created_at, processing_at, finished_at`

func (r *WithdrawalRepo) Create(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error {
	return on(r.pool, tx).QueryRow(ctx, `
		INSERT INTO withdrawals (id, user_id, tx_id, amount, fee, network, source, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, w.ID, w.UserID, w.TxID, w.Amount, w.Fee, w.Network, w.Source, w.Status).Scan(&w.CreatedAt)
}

// ListByStatus returns up to limit withdrawals in the given status, oldest first.
func (r *WithdrawalRepo) ListByStatus(ctx context.Context, status models.WithdrawalStatus, limit int) ([]*models.Withdrawal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Withdrawal
	for rows.Next() {
		var w models.Withdrawal
		if err := rows.Scan(&w.ID, &w.UserID, &w.TxID, &w.Amount, &w.Fee, &w.Network, &w.Source, &w.Status,
			&w.ProviderRequestID, &w.FailureReason, &w.CreatedAt, &w.ProcessingAt, &w.FinishedAt); err != nil {
			return nil, err
		}
		list = append(list, &w)
	}
	return list, rows.Err()
}

// MarkProcessing moves a pending withdrawal to processing and records the provider's id.
func (r *WithdrawalRepo) MarkProcessing(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerRequestID string) (bool, error) {
	return r.transition(ctx, tx, id, models.WithdrawalPending, models.WithdrawalProcessing, `processing_at = now(), provider_request_id = $4`, providerRequestID)
}

// MarkCompleted moves a processing withdrawal to completed.
func (r *WithdrawalRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	return r.transition(ctx, tx, id, models.WithdrawalProcessing, models.WithdrawalCompleted, `finished_at = now()`)
}

// MarkFailed moves a withdrawal from the given state to failed. The caller refunds in the same transaction.
func (r *WithdrawalRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, from models.WithdrawalStatus, reason string) (bool, error) {
	return r.transition(ctx, tx, id, from, models.WithdrawalFailed, `finished_at = now(), failure_reason = $4`, reason)
}

func (r *WithdrawalRepo) transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.WithdrawalStatus, set string, args ...any) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("withdrawal %s: illegal transition %s -> %s", id, from, to)
	}
	tag, err := on(r.pool, tx).Exec(ctx, `
		UPDATE withdrawals SET status = $2, `+set+` WHERE id = $1 AND status = $3
	`, append([]any{id, to, from}, args...)...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SumBySource totals the user's withdrawals from one source, excluding failed ones.
func (r *WithdrawalRepo) SumBySource(ctx context.Context, tx pgx.Tx, userID uuid.UUID, source models.WithdrawalSource) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := on(r.pool, tx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE user_id = $1 AND source = $2 AND status <> $3
	`, userID, source, models.WithdrawalFailed).Scan(&total)
	return total, err
}
