package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakeladder/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := on(r.pool, tx).QueryRow(ctx, `
		SELECT id, sponsor_id, email, status, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.SponsorID, &u.Email, &u.Status, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// LockByID locks the user row for the rest of the transaction. Every path that
// reads the cap total and then writes a capped credit or a status change holds
// this lock, which serializes concurrent credits to the same user.
func (r *UserRepo) LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := tx.QueryRow(ctx, `
		SELECT id, sponsor_id, email, status, created_at FROM users WHERE id = $1 FOR UPDATE
	`, id).Scan(&u.ID, &u.SponsorID, &u.Email, &u.Status, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *UserRepo) SetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	tag, err := on(r.pool, tx).Exec(ctx, `UPDATE users SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveIDs pages through active users in id order, starting after the given id.
func (r *UserRepo) ListActiveIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM users WHERE status = $1 AND id > $2 ORDER BY id LIMIT $3
	`, models.UserStatusActive, after, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *UserRepo) PayoutAddress(ctx context.Context, userID uuid.UUID, network models.Network) (string, error) {
	var addr string
	err := r.pool.QueryRow(ctx, `
		SELECT address FROM payout_addresses WHERE user_id = $1 AND network = $2
	`, userID, network).Scan(&addr)
	if err != nil {
		return "", notFound(err)
	}
	return addr, nil
}
