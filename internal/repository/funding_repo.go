package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakeladder/backend/internal/models"
)

type FundingRepo struct {
	pool *pgxpool.Pool
}

func NewFundingRepo(pool *pgxpool.Pool) *FundingRepo {
	return &FundingRepo{pool: pool}
}

func (r *FundingRepo) Create(ctx context.Context, tx pgx.Tx, f *models.Funding) error {
	return on(r.pool, tx).QueryRow(ctx, `
		INSERT INTO fundings (id, user_id, amount, required_return, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, f.ID, f.UserID, f.Amount, f.RequiredReturn, f.Status).Scan(&f.CreatedAt)
}

// ListActive returns the user's active fundings, oldest first.
func (r *FundingRepo) ListActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.Funding, error) {
	rows, err := on(r.pool, tx).Query(ctx, `
		SELECT id, user_id, amount, required_return, status, created_at, repaid_at
		FROM fundings WHERE user_id = $1 AND status = $2 ORDER BY created_at ASC
	`, userID, models.FundingStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Funding
	for rows.Next() {
		var f models.Funding
		if err := rows.Scan(&f.ID, &f.UserID, &f.Amount, &f.RequiredReturn, &f.Status, &f.CreatedAt, &f.RepaidAt); err != nil {
			return nil, err
		}
		list = append(list, &f)
	}
	return list, rows.Err()
}

func (r *FundingRepo) MarkRepaid(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := on(r.pool, tx).Exec(ctx, `
		UPDATE fundings SET status = $2, repaid_at = now() WHERE id = $1 AND status = $3
	`, id, models.FundingStatusRepaid, models.FundingStatusActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
