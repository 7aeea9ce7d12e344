package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/models"
)

// TxBeginner starts a transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserRepo is the minimal user repository interface for the plan engines.
type UserRepo interface {
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
}

// WalletRepo is the minimal wallet repository interface. Credit and Debit are atomic increments.
type WalletRepo interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
}

type ActivationRepo interface {
	Create(ctx context.Context, tx pgx.Tx, a *models.PackageActivation) error
	Latest(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.PackageActivation, error)
	CompleteActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error)
}

// CapLedger aggregates the capped ledgers.
type CapLedger interface {
	CapTotal(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (decimal.Decimal, error)
}

// CommissionLedger is what the commission walk writes to.
type CommissionLedger interface {
	InsertBonus(ctx context.Context, tx pgx.Tx, e *models.BonusEntry) error
	InsertPoints(ctx context.Context, tx pgx.Tx, e *models.PointsEntry) error
}

// RebateLedger is what the rebate engine reads and writes.
type RebateLedger interface {
	InsertRebate(ctx context.Context, tx pgx.Tx, e *models.RebateEntry) error
	SumPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (decimal.Decimal, error)
	SumPointsUsed(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (decimal.Decimal, error)
	SumRebateAmount(ctx context.Context, tx pgx.Tx, userID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
}
