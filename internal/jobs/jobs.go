// Package jobs holds the background workers: the daily return accrual, the
// deposit verification loop and the withdrawal settlement loop. Each worker is
// single-threaded and guarded so an overlapping trigger is dropped, not queued.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/chain"
	"github.com/stakeladder/backend/internal/models"
	"github.com/stakeladder/backend/internal/notify"
	"github.com/stakeladder/backend/internal/payout"
)

var (
	// ErrRunInProgress is returned when a trigger arrives while the previous run is still going.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrProviderNotConfigured is returned when the withdrawal worker has no payout provider.
	ErrProviderNotConfigured = errors.New("withdrawal provider not configured")
)

// Summary counts what a single run did.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type UserStore interface {
	LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	ListActiveIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type PayoutAddresses interface {
	PayoutAddress(ctx context.Context, userID uuid.UUID, network models.Network) (string, error)
}

type WalletCreditor interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
}

type ActivationReader interface {
	Latest(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.PackageActivation, error)
}

// ReturnLedger is what the accrual reads and writes.
type ReturnLedger interface {
	CapTotal(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (decimal.Decimal, error)
	HasReturnSince(ctx context.Context, tx pgx.Tx, activationID uuid.UUID, since time.Time) (bool, error)
	InsertReturn(ctx context.Context, tx pgx.Tx, e *models.ReturnEntry) error
}

// FundingReconciler closes fundings whose required return has been earned.
type FundingReconciler interface {
	ReconcileFunding(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error)
}

type DepositStore interface {
	ListPending(ctx context.Context, limit int) ([]*models.Deposit, error)
	MarkConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
}

// TxVerifier is satisfied by *chain.Client.
type TxVerifier interface {
	Verify(ctx context.Context, req chain.VerifyRequest) (*chain.VerifyResult, error)
}

type WithdrawalStore interface {
	ListByStatus(ctx context.Context, status models.WithdrawalStatus, limit int) ([]*models.Withdrawal, error)
	MarkProcessing(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerRequestID string) (bool, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, from models.WithdrawalStatus, reason string) (bool, error)
}

// PayoutProvider is satisfied by *payout.Client.
type PayoutProvider interface {
	Submit(ctx context.Context, req payout.Request) (*payout.Response, error)
}

// Notifier is satisfied by *notify.RiverNotifier.
type Notifier interface {
	Notify(ctx context.Context, e notify.Event) error
}
