package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakeladder/backend/internal/models"
)

type DepositRepo struct {
	pool *pgxpool.Pool
}

func NewDepositRepo(pool *pgxpool.Pool) *DepositRepo {
	return &DepositRepo{pool: pool}
}

// Create inserts a pending deposit. A reused tx_ref yields ErrDuplicate.
func (r *DepositRepo) Create(ctx context.Context, d *models.Deposit) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO deposits (id, user_id, amount, fee, network, tx_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, d.ID, d.UserID, d.Amount, d.Fee, d.Network, d.TxRef, d.Status).Scan(&d.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// ListPending returns up to limit pending deposits, oldest first.
func (r *DepositRepo) ListPending(ctx context.Context, limit int) ([]*models.Deposit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, fee, network, tx_ref, status, created_at, confirmed_at
		FROM deposits WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, models.DepositPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Deposit
	for rows.Next() {
		var d models.Deposit
		if err := rows.Scan(&d.ID, &d.UserID, &d.Amount, &d.Fee, &d.Network, &d.TxRef, &d.Status, &d.CreatedAt, &d.ConfirmedAt); err != nil {
			return nil, err
		}
		list = append(list, &d)
	}
	return list, rows.Err()
}

// MarkConfirmed moves a pending deposit to confirmed. It reports false when the
// deposit was no longer pending, so a caller never credits it twice.
func (r *DepositRepo) MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := on(r.pool, tx).Exec(ctx, `
		UPDATE deposits SET status = $2, confirmed_at = now() WHERE id = $1 AND status = $3
	`, id, models.DepositConfirmed, models.DepositPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
