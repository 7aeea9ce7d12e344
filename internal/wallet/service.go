package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/models"
	"github.com/stakeladder/backend/internal/repository"
	"github.com/stakeladder/backend/internal/services"
)

var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrBelowMinimum       = errors.New("amount is below the minimum withdrawal")
	ErrUnknownNetwork     = errors.New("unknown network")
	ErrMissingTxRef       = errors.New("transaction reference is required")
	ErrDuplicateDeposit   = errors.New("deposit with this transaction reference already exists")
	ErrSourceExhausted    = errors.New("withdrawal exceeds what is available from this source")
	ErrFundingOutstanding = errors.New("return withdrawals are blocked while a funding is outstanding")
)

type UserStore interface {
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
}

type WalletStore interface {
	Get(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
}

type ActivationReader interface {
	Latest(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.PackageActivation, error)
}

type Ledger interface {
	InsertAward(ctx context.Context, tx pgx.Tx, e *models.AwardEntry) error
	EarnedBySource(ctx context.Context, tx pgx.Tx, userID uuid.UUID, source models.WithdrawalSource) (decimal.Decimal, error)
	SumReturnSince(ctx context.Context, tx pgx.Tx, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
	Summary(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.EarningsSummary, error)
}

type DepositStore interface {
	Create(ctx context.Context, d *models.Deposit) error
}

type WithdrawalStore interface {
	Create(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error
	SumBySource(ctx context.Context, tx pgx.Tx, userID uuid.UUID, source models.WithdrawalSource) (decimal.Decimal, error)
}

type FundingStore interface {
	Create(ctx context.Context, tx pgx.Tx, f *models.Funding) error
	ListActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.Funding, error)
	MarkRepaid(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
}

// Fees holds the per-network fees and the withdrawal floor.
type Fees struct {
	Deposit       map[models.Network]decimal.Decimal
	Withdrawal    map[models.Network]decimal.Decimal
	MinWithdrawal decimal.Decimal
}

// Service handles the user-facing money movements outside the activation flow.
type Service struct {
	Pool        services.TxBeginner
	Users       UserStore
	Wallets     WalletStore
	Activations ActivationReader
	Ledger      Ledger
	Deposits    DepositStore
	Withdrawals WithdrawalStore
	Fundings    FundingStore
	Fees        Fees
	Logger      *slog.Logger
}

func NewService(pool services.TxBeginner, users UserStore, wallets WalletStore, activations ActivationReader, ledger Ledger, deposits DepositStore, withdrawals WithdrawalStore, fundings FundingStore, fees Fees, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Pool:        pool,
		Users:       users,
		Wallets:     wallets,
		Activations: activations,
		Ledger:      ledger,
		Deposits:    deposits,
		Withdrawals: withdrawals,
		Fundings:    fundings,
		Fees:        fees,
		Logger:      logger,
	}
}

func knownNetwork(n models.Network) bool {
	return slices.Contains(models.Networks, n)
}

// RequestDeposit records a pending deposit for the verifier to pick up.
// The fee is on top of amount: the chain transfer must cover both, only amount is credited.
func (s *Service) RequestDeposit(ctx context.Context, userID uuid.UUID, network models.Network, txRef string, amount decimal.Decimal) (*models.Deposit, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !knownNetwork(network) {
		return nil, ErrUnknownNetwork
	}
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, ErrMissingTxRef
	}
	d := &models.Deposit{
		ID:      uuid.New(),
		UserID:  userID,
		Amount:  amount,
		Fee:     s.Fees.Deposit[network],
		Network: network,
		TxRef:   txRef,
		Status:  models.DepositPending,
	}
	if err := s.Deposits.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateDeposit
		}
		return nil, fmt.Errorf("create deposit: %w", err)
	}
	metrics.RecordSettlement("deposit", string(models.DepositPending))
	s.Logger.Info("deposit requested", "deposit_id", d.ID, "user_id", userID, "network", network, "tx_ref", txRef)
	return d, nil
}

// RequestWithdrawal debits amount plus fee and queues a pending withdrawal, in one transaction.
func (s *Service) RequestWithdrawal(ctx context.Context, userID uuid.UUID, network models.Network, source models.WithdrawalSource, amount decimal.Decimal) (*models.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(s.Fees.MinWithdrawal) {
		return nil, ErrBelowMinimum
	}
	if !knownNetwork(network) {
		return nil, ErrUnknownNetwork
	}
	if _, err := models.ParseWithdrawalSource(string(source)); err != nil {
		return nil, err
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// The user row serializes withdrawals per user so the availability check holds until commit.
	if _, err := s.Users.LockByID(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	if source == models.SourceReturn {
		active, err := s.Fundings.ListActive(ctx, tx, userID)
		if err != nil {
			return nil, fmt.Errorf("list fundings: %w", err)
		}
		if len(active) > 0 {
			return nil, ErrFundingOutstanding
		}
	}
	earned, err := s.Ledger.EarnedBySource(ctx, tx, userID, source)
	if err != nil {
		return nil, fmt.Errorf("earned by source: %w", err)
	}
	withdrawn, err := s.Withdrawals.SumBySource(ctx, tx, userID, source)
	if err != nil {
		return nil, fmt.Errorf("withdrawn by source: %w", err)
	}
	if withdrawn.Add(amount).GreaterThan(earned) {
		return nil, ErrSourceExhausted
	}

	w := &models.Withdrawal{
		ID:      uuid.New(),
		UserID:  userID,
		TxID:    models.NewTxID(),
		Amount:  amount,
		Fee:     s.Fees.Withdrawal[network],
		Network: network,
		Source:  source,
		Status:  models.WithdrawalPending,
	}
	if _, err := s.Wallets.Debit(ctx, tx, userID, w.Debited()); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, services.ErrInsufficientFunds
		}
		return nil, fmt.Errorf("debit wallet: %w", err)
	}
	if err := s.Withdrawals.Create(ctx, tx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	metrics.RecordSettlement("withdrawal", string(models.WithdrawalPending))
	s.Logger.Info("withdrawal requested", "withdrawal_id", w.ID, "user_id", userID, "source", source, "amount", amount.String())
	return w, nil
}

// OpenFunding credits amount to the wallet and opens a funding that is repaid
// once the user has earned FundingMultiplier times amount in Return.
func (s *Service) OpenFunding(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Funding, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.Users.LockByID(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	f := &models.Funding{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         amount,
		RequiredReturn: amount.Mul(models.FundingMultiplier),
		Status:         models.FundingStatusActive,
	}
	if _, err := s.Wallets.Credit(ctx, tx, userID, amount); err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}
	if err := s.Fundings.Create(ctx, tx, f); err != nil {
		return nil, fmt.Errorf("create funding: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.Logger.Info("funding opened", "funding_id", f.ID, "user_id", userID, "amount", amount.String())
	return f, nil
}

// ReconcileFunding marks repaid every active funding whose required Return has
// been earned since it was opened, and returns how many it closed. Call within a transaction.
func (s *Service) ReconcileFunding(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error) {
	active, err := s.Fundings.ListActive(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("list fundings: %w", err)
	}
	closed := 0
	for _, f := range active {
		earned, err := s.Ledger.SumReturnSince(ctx, tx, userID, f.CreatedAt)
		if err != nil {
			return closed, fmt.Errorf("return since funding: %w", err)
		}
		if earned.LessThan(f.RequiredReturn) {
			continue
		}
		ok, err := s.Fundings.MarkRepaid(ctx, tx, f.ID)
		if err != nil {
			return closed, fmt.Errorf("mark repaid: %w", err)
		}
		if ok {
			closed++
			s.Logger.Info("funding repaid", "funding_id", f.ID, "user_id", userID)
		}
	}
	return closed, nil
}

// GrantAward credits a rank award. Awards never count toward the cycle cap.
func (s *Service) GrantAward(ctx context.Context, userID uuid.UUID, rank string, amount decimal.Decimal) (*models.AwardEntry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.Users.LockByID(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	e := &models.AwardEntry{ID: uuid.New(), TxID: models.NewTxID(), UserID: userID, Rank: strings.TrimSpace(rank), Amount: amount}
	if err := s.Ledger.InsertAward(ctx, tx, e); err != nil {
		return nil, fmt.Errorf("insert award: %w", err)
	}
	if _, err := s.Wallets.Credit(ctx, tx, userID, amount); err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	metrics.RecordCredit(models.LedgerAward, amount)
	return e, nil
}

// Overview is the wallet screen: balance, earnings and cap progress.
type Overview struct {
	UserID       uuid.UUID               `json:"user_id"`
	Status       string                  `json:"status"`
	Balance      decimal.Decimal         `json:"balance"`
	Earnings     *models.EarningsSummary `json:"earnings"`
	PackageCode  string                  `json:"package_code,omitempty"`
	CycleCap     decimal.Decimal         `json:"cycle_cap"`
	CapEarned    decimal.Decimal         `json:"cap_earned"`
	CapRemaining decimal.Decimal         `json:"cap_remaining"`
}

func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (*Overview, error) {
	user, err := s.Users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	w, err := s.Wallets.Get(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	earnings, err := s.Ledger.Summary(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("earnings: %w", err)
	}
	latest, err := s.Activations.Latest(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("latest activation: %w", err)
	}

	o := &Overview{
		UserID:       userID,
		Status:       user.Status,
		Balance:      w.Balance,
		Earnings:     earnings,
		CycleCap:     decimal.Zero,
		CapEarned:    earnings.Capped(),
		CapRemaining: decimal.Zero,
	}
	if latest != nil {
		o.PackageCode = latest.PackageCode
		o.CycleCap = latest.CycleCap
		if rem := latest.CycleCap.Sub(o.CapEarned); rem.IsPositive() {
			o.CapRemaining = rem
		}
	}
	return o, nil
}
