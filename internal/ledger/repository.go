package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/models"
)

// Repository writes and aggregates the five append-only ledgers:
// return_ledger, bonus_ledger, points_ledger, rebate_ledger and award_ledger.
// Every insert carries a unique tx_id. Rows are never updated or deleted.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) on(tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.pool
}

func (r *Repository) InsertReturn(ctx context.Context, tx pgx.Tx, e *models.ReturnEntry) error {
	return r.on(tx).QueryRow(ctx, `
		INSERT INTO return_ledger (id, tx_id, user_id, activation_id, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.TxID, e.UserID, e.ActivationID, e.Amount).Scan(&e.CreatedAt)
}

func (r *Repository) InsertBonus(ctx context.Context, tx pgx.Tx, e *models.BonusEntry) error {
	return r.on(tx).QueryRow(ctx, `
		INSERT INTO bonus_ledger (id, tx_id, user_id, source_user_id, activation_id, level, type, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, e.ID, e.TxID, e.UserID, e.SourceUserID, e.ActivationID, e.Level, e.Type, e.Amount).Scan(&e.CreatedAt)
}

func (r *Repository) InsertPoints(ctx context.Context, tx pgx.Tx, e *models.PointsEntry) error {
	return r.on(tx).QueryRow(ctx, `
		INSERT INTO points_ledger (id, tx_id, user_id, source_user_id, activation_id, level, points)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.TxID, e.UserID, e.SourceUserID, e.ActivationID, e.Level, e.Points).Scan(&e.CreatedAt)
}

func (r *Repository) InsertRebate(ctx context.Context, tx pgx.Tx, e *models.RebateEntry) error {
	return r.on(tx).QueryRow(ctx, `
		INSERT INTO rebate_ledger (id, tx_id, user_id, source_user_id, level, points_used, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.TxID, e.UserID, e.SourceUserID, e.Level, e.PointsUsed, e.Amount).Scan(&e.CreatedAt)
}

func (r *Repository) InsertAward(ctx context.Context, tx pgx.Tx, e *models.AwardEntry) error {
	return r.on(tx).QueryRow(ctx, `
		INSERT INTO award_ledger (id, tx_id, user_id, rank, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.TxID, e.UserID, e.Rank, e.Amount).Scan(&e.CreatedAt)
}

func (r *Repository) sum(ctx context.Context, tx pgx.Tx, query string, args ...any) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.on(tx).QueryRow(ctx, query, args...).Scan(&total)
	return total, err
}

// CapTotal is the all-time Return + Bonus + Rebate credited to the user.
func (r *Repository) CapTotal(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	return r.sum(ctx, tx, `
		SELECT
			(SELECT COALESCE(SUM(amount), 0) FROM return_ledger WHERE user_id = $1) +
			(SELECT COALESCE(SUM(amount), 0) FROM bonus_ledger WHERE user_id = $1) +
			(SELECT COALESCE(SUM(amount), 0) FROM rebate_ledger WHERE user_id = $1)
	`, userID)
}

func (r *Repository) SumPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	return r.sum(ctx, tx, `SELECT COALESCE(SUM(points), 0) FROM points_ledger WHERE user_id = $1`, userID)
}

func (r *Repository) SumPointsUsed(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	return r.sum(ctx, tx, `SELECT COALESCE(SUM(points_used), 0) FROM rebate_ledger WHERE user_id = $1`, userID)
}

// SumRebateAmount totals rebates paid to the user in [from, to).
func (r *Repository) SumRebateAmount(ctx context.Context, tx pgx.Tx, userID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	return r.sum(ctx, tx, `
		SELECT COALESCE(SUM(amount), 0) FROM rebate_ledger WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
	`, userID, from, to)
}

// HasReturnSince reports whether the activation already accrued a Return at or after since.
func (r *Repository) HasReturnSince(ctx context.Context, tx pgx.Tx, activationID uuid.UUID, since time.Time) (bool, error) {
	var exists bool
	err := r.on(tx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM return_ledger WHERE activation_id = $1 AND created_at >= $2)
	`, activationID, since).Scan(&exists)
	return exists, err
}

func (r *Repository) SumReturnSince(ctx context.Context, tx pgx.Tx, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	return r.sum(ctx, tx, `
		SELECT COALESCE(SUM(amount), 0) FROM return_ledger WHERE user_id = $1 AND created_at >= $2
	`, userID, since)
}

// EarnedBySource is the all-time ledger total behind one withdrawal source.
func (r *Repository) EarnedBySource(ctx context.Context, tx pgx.Tx, userID uuid.UUID, source models.WithdrawalSource) (decimal.Decimal, error) {
	var table string
	switch source {
	case models.SourceReturn:
		table = "return_ledger"
	case models.SourceBonus:
		table = "bonus_ledger"
	case models.SourceRebate:
		table = "rebate_ledger"
	case models.SourceAward:
		table = "award_ledger"
	default:
		return decimal.Zero, fmt.Errorf("unknown withdrawal source %q", source)
	}
	return r.sum(ctx, tx, `SELECT COALESCE(SUM(amount), 0) FROM `+table+` WHERE user_id = $1`, userID)
}

func (r *Repository) Summary(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.EarningsSummary, error) {
	var s models.EarningsSummary
	err := r.on(tx).QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(amount), 0) FROM return_ledger WHERE user_id = $1),
			(SELECT COALESCE(SUM(amount), 0) FROM bonus_ledger WHERE user_id = $1),
			(SELECT COALESCE(SUM(amount), 0) FROM rebate_ledger WHERE user_id = $1),
			(SELECT COALESCE(SUM(amount), 0) FROM award_ledger WHERE user_id = $1),
			(SELECT COALESCE(SUM(points), 0) FROM points_ledger WHERE user_id = $1),
			(SELECT COALESCE(SUM(points_used), 0) FROM rebate_ledger WHERE user_id = $1)
	`, userID).Scan(&s.Return, &s.Bonus, &s.Rebate, &s.Award, &s.Points, &s.PointsUsed)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
