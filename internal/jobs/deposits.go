package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stakeladder/backend/internal/chain"
	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/models"
	"github.com/stakeladder/backend/internal/notify"
	"github.com/stakeladder/backend/internal/services"
)

// DepositVerifierWorker is the worker name used in logs and metrics.
const DepositVerifierWorker = "deposit_verifier"

// DepositVerifier confirms pending deposits once the chain verifier vouches for them.
type DepositVerifier struct {
	Pool      services.TxBeginner
	Deposits  DepositStore
	Wallets   WalletCreditor
	Verifier  TxVerifier
	Notifier  Notifier
	Addresses map[models.Network]string
	BatchSize int
	Logger    *slog.Logger
}

func NewDepositVerifier(pool services.TxBeginner, deposits DepositStore, wallets WalletCreditor, verifier TxVerifier, notifier Notifier, addresses map[models.Network]string, logger *slog.Logger) *DepositVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DepositVerifier{
		Pool:      pool,
		Deposits:  deposits,
		Wallets:   wallets,
		Verifier:  verifier,
		Notifier:  notifier,
		Addresses: addresses,
		BatchSize: 50,
		Logger:    logger,
	}
}

// Tick checks the oldest pending deposits once. Unverified deposits stay pending for the next tick.
func (v *DepositVerifier) Tick(ctx context.Context) (Summary, error) {
	var sum Summary
	pending, err := v.Deposits.ListPending(ctx, v.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("list pending deposits: %w", err)
	}
	for _, d := range pending {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Processed++
		addr := v.Addresses[d.Network]
		if addr == "" {
			v.Logger.Warn("no receiving address configured for network", "network", d.Network, "deposit_id", d.ID)
			sum.Skipped++
			continue
		}
		res, err := v.Verifier.Verify(ctx, chain.VerifyRequest{
			TxRef:     d.TxRef,
			Network:   d.Network,
			ToAddress: addr,
			Amount:    d.ExpectedOnChain(),
		})
		if err != nil {
			sum.Failed++
			v.Logger.Warn("deposit verification failed", "deposit_id", d.ID, "tx_ref", d.TxRef, "error", err)
			continue
		}
		if !res.Verified {
			sum.Skipped++
			continue
		}
		confirmed, err := v.confirm(ctx, d)
		if err != nil {
			sum.Failed++
			v.Logger.Error("deposit confirmation failed", "deposit_id", d.ID, "error", err)
			continue
		}
		if !confirmed {
			sum.Skipped++
			continue
		}
		sum.Succeeded++
		v.notify(ctx, d)
	}
	return sum, nil
}

// confirm flips the deposit to confirmed and credits the principal amount in one
// transaction. It reports false if another path already moved the deposit.
func (v *DepositVerifier) confirm(ctx context.Context, d *models.Deposit) (bool, error) {
	tx, err := v.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := v.Deposits.MarkConfirmed(ctx, tx, d.ID)
	if err != nil || !ok {
		return false, err
	}
	if _, err := v.Wallets.Credit(ctx, tx, d.UserID, d.Amount); err != nil {
		return false, fmt.Errorf("credit wallet: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	metrics.RecordSettlement("deposit", string(models.DepositConfirmed))
	v.Logger.Info("deposit confirmed", "deposit_id", d.ID, "user_id", d.UserID, "amount", d.Amount.String())
	return true, nil
}

func (v *DepositVerifier) notify(ctx context.Context, d *models.Deposit) {
	if v.Notifier == nil {
		return
	}
	err := v.Notifier.Notify(ctx, notify.Event{
		Kind: notify.KindDepositConfirmed, UserID: d.UserID, Amount: d.Amount, Network: d.Network, Reference: d.TxRef,
	})
	if err != nil {
		v.Logger.Warn("deposit notification failed", "deposit_id", d.ID, "error", err)
	}
}
