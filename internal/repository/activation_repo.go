package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakeladder/backend/internal/models"
)

type ActivationRepo struct {
	pool *pgxpool.Pool
}

func NewActivationRepo(pool *pgxpool.Pool) *ActivationRepo {
	return &ActivationRepo{pool: pool}
}

func (r *ActivationRepo) Create(ctx context.Context, tx pgx.Tx, a *models.PackageActivation) error {
	return on(r.pool, tx).QueryRow(ctx, `
		INSERT INTO package_activations (id, user_id, package_code, principal, cycle_cap, cycle_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING activated_at
	`, a.ID, a.UserID, a.PackageCode, a.Principal, a.CycleCap, a.CycleStatus).Scan(&a.ActivatedAt)
}

// Latest returns the user's most recent activation, or nil if the user never activated.
func (r *ActivationRepo) Latest(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.PackageActivation, error) {
	var a models.PackageActivation
	err := on(r.pool, tx).QueryRow(ctx, `
		SELECT id, user_id, package_code, principal, cycle_cap, cycle_status, activated_at
		FROM package_activations WHERE user_id = $1
		ORDER BY activated_at DESC, id DESC LIMIT 1
	`, userID).Scan(&a.ID, &a.UserID, &a.PackageCode, &a.Principal, &a.CycleCap, &a.CycleStatus, &a.ActivatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CompleteActive flips every active activation of the user to complete.
func (r *ActivationRepo) CompleteActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	tag, err := on(r.pool, tx).Exec(ctx, `
		UPDATE package_activations SET cycle_status = $2 WHERE user_id = $1 AND cycle_status = $3
	`, userID, models.CycleStatusComplete, models.CycleStatusActive)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
