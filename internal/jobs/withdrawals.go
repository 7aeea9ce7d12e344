package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stakeladder/backend/internal/chain"
	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/models"
	"github.com/stakeladder/backend/internal/notify"
	"github.com/stakeladder/backend/internal/payout"
	"github.com/stakeladder/backend/internal/repository"
	"github.com/stakeladder/backend/internal/services"
)

// WithdrawalSettlerWorker is the worker name used in logs and metrics.
const WithdrawalSettlerWorker = "withdrawal_settler"

// WithdrawalSettler hands pending withdrawals to the payout provider and later
// marks them completed. Failures refund amount plus fee to the wallet.
type WithdrawalSettler struct {
	Pool          services.TxBeginner
	Withdrawals   WithdrawalStore
	Addresses     PayoutAddresses
	Wallets       WalletCreditor
	Provider      PayoutProvider
	Notifier      Notifier
	InitiateBatch int
	CompleteBatch int
	MinAge        time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

func NewWithdrawalSettler(pool services.TxBeginner, withdrawals WithdrawalStore, addresses PayoutAddresses, wallets WalletCreditor, provider PayoutProvider, notifier Notifier, minAge time.Duration, logger *slog.Logger) (*WithdrawalSettler, error) {
	if provider == nil {
		return nil, ErrProviderNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WithdrawalSettler{
		Pool:          pool,
		Withdrawals:   withdrawals,
		Addresses:     addresses,
		Wallets:       wallets,
		Provider:      provider,
		Notifier:      notifier,
		InitiateBatch: 25,
		CompleteBatch: 50,
		MinAge:        minAge,
		Now:           time.Now,
		Logger:        logger,
	}, nil
}

// Tick runs the initiation pass and then the completion pass.
func (s *WithdrawalSettler) Tick(ctx context.Context) (Summary, error) {
	sum, err := s.initiatePending(ctx)
	if err != nil {
		return sum, err
	}
	done, err := s.completeProcessing(ctx)
	sum.Processed += done.Processed
	sum.Succeeded += done.Succeeded
	sum.Failed += done.Failed
	sum.Skipped += done.Skipped
	return sum, err
}

func (s *WithdrawalSettler) initiatePending(ctx context.Context) (Summary, error) {
	var sum Summary
	pending, err := s.Withdrawals.ListByStatus(ctx, models.WithdrawalPending, s.InitiateBatch)
	if err != nil {
		return sum, fmt.Errorf("list pending withdrawals: %w", err)
	}
	for _, w := range pending {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Processed++
		outcome, err := s.initiate(ctx, w)
		if err != nil {
			s.Logger.Error("withdrawal initiation failed", "withdrawal_id", w.ID, "error", err)
		}
		switch outcome {
		case initiateSubmitted:
			sum.Succeeded++
		case initiateRetry:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}
	return sum, nil
}

type initiateOutcome int

const (
	initiateFailed initiateOutcome = iota
	initiateSubmitted
	initiateRetry
)

// initiate submits one withdrawal. A rejected withdrawal is failed and
// refunded. When the provider's answer is unknown the row stays pending for
// the next tick. Only store errors are returned.
func (s *WithdrawalSettler) initiate(ctx context.Context, w *models.Withdrawal) (initiateOutcome, error) {
	addr, err := s.Addresses.PayoutAddress(ctx, w.UserID, w.Network)
	if errors.Is(err, repository.ErrNotFound) {
		return initiateFailed, s.fail(ctx, w, "no payout address on file")
	}
	if err != nil {
		return initiateFailed, fmt.Errorf("payout address: %w", err)
	}
	if err := chain.ValidateAddress(w.Network, addr); err != nil {
		return initiateFailed, s.fail(ctx, w, "invalid payout address")
	}

	resp, err := s.Provider.Submit(ctx, payout.Request{
		UserID:      w.UserID,
		ToAddress:   addr,
		Amount:      w.Amount,
		Network:     w.Network,
		Source:      w.Source,
		TxID:        w.TxID,
		RequestedAt: s.Now().UTC(),
	})
	if errors.Is(err, payout.ErrRejected) {
		s.Logger.Warn("payout provider rejected withdrawal", "withdrawal_id", w.ID, "error", err)
		return initiateFailed, s.fail(ctx, w, "provider rejected payout")
	}
	if err != nil {
		s.Logger.Warn("payout submission outcome unknown, will retry", "withdrawal_id", w.ID, "error", err)
		return initiateRetry, nil
	}
	requestID := resp.ProviderRequestID
	if requestID == "" {
		requestID = w.TxID.String()
	}

	// If this write is lost the next tick resubmits with the same txId, which the provider deduplicates.
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return initiateRetry, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	ok, err := s.Withdrawals.MarkProcessing(ctx, tx, w.ID, requestID)
	if err != nil {
		return initiateRetry, fmt.Errorf("mark processing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return initiateRetry, fmt.Errorf("commit: %w", err)
	}
	if !ok {
		return initiateRetry, nil
	}
	metrics.RecordSettlement("withdrawal", string(models.WithdrawalProcessing))
	s.Logger.Info("withdrawal submitted", "withdrawal_id", w.ID, "provider_request_id", requestID)
	return initiateSubmitted, nil
}

// fail marks a pending withdrawal failed and refunds what was debited, atomically.
func (s *WithdrawalSettler) fail(ctx context.Context, w *models.Withdrawal, reason string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := s.Withdrawals.MarkFailed(ctx, tx, w.ID, models.WithdrawalPending, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if !ok {
		return nil
	}
	if _, err := s.Wallets.Credit(ctx, tx, w.UserID, w.Debited()); err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	metrics.RecordSettlement("withdrawal", string(models.WithdrawalFailed))
	s.Logger.Info("withdrawal failed and refunded", "withdrawal_id", w.ID, "reason", reason, "refund", w.Debited().String())
	s.notify(ctx, w, notify.KindWithdrawalFailed, reason)
	return nil
}

func (s *WithdrawalSettler) completeProcessing(ctx context.Context) (Summary, error) {
	var sum Summary
	processing, err := s.Withdrawals.ListByStatus(ctx, models.WithdrawalProcessing, s.CompleteBatch)
	if err != nil {
		return sum, fmt.Errorf("list processing withdrawals: %w", err)
	}
	now := s.Now()
	for _, w := range processing {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Processed++
		since := w.CreatedAt
		if w.ProcessingAt != nil {
			since = *w.ProcessingAt
		}
		if now.Sub(since) < s.MinAge {
			sum.Skipped++
			continue
		}
		if err := s.complete(ctx, w); err != nil {
			sum.Failed++
			s.Logger.Error("withdrawal completion failed", "withdrawal_id", w.ID, "error", err)
			continue
		}
		sum.Succeeded++
	}
	return sum, nil
}

func (s *WithdrawalSettler) complete(ctx context.Context, w *models.Withdrawal) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	ok, err := s.Withdrawals.MarkCompleted(ctx, tx, w.ID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if !ok {
		return nil
	}
	metrics.RecordSettlement("withdrawal", string(models.WithdrawalCompleted))
	ref := w.TxID.String()
	if w.ProviderRequestID != nil {
		ref = *w.ProviderRequestID
	}
	s.notify(ctx, w, notify.KindWithdrawalCompleted, ref)
	return nil
}

func (s *WithdrawalSettler) notify(ctx context.Context, w *models.Withdrawal, kind, ref string) {
	if s.Notifier == nil {
		return
	}
	err := s.Notifier.Notify(ctx, notify.Event{Kind: kind, UserID: w.UserID, Amount: w.Amount, Network: w.Network, Reference: ref})
	if err != nil {
		s.Logger.Warn("withdrawal notification failed", "withdrawal_id", w.ID, "kind", kind, "error", err)
	}
}
