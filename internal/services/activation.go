package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/models"
	"github.com/stakeladder/backend/internal/repository"
)

var (
	// ErrInvalidPackage is returned for a package code missing from the price table.
	ErrInvalidPackage = errors.New("invalid package")
	// ErrInsufficientFunds is returned when the wallet balance is below the package principal.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// ActivationService opens package activations. The debit, the activation row
// and every commission, points and rebate posting commit or roll back together.
type ActivationService struct {
	Pool        TxBeginner
	Users       UserRepo
	Wallets     WalletRepo
	Activations ActivationRepo
	Guard       *CapGuard
	Commission  *CommissionEngine
	Logger      *slog.Logger
}

func NewActivationService(pool TxBeginner, users UserRepo, wallets WalletRepo, activations ActivationRepo, guard *CapGuard, commission *CommissionEngine, logger *slog.Logger) *ActivationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivationService{
		Pool:        pool,
		Users:       users,
		Wallets:     wallets,
		Activations: activations,
		Guard:       guard,
		Commission:  commission,
		Logger:      logger,
	}
}

// Activate buys packageCode for userID out of their wallet.
func (s *ActivationService) Activate(ctx context.Context, userID uuid.UUID, packageCode string) (*models.PackageActivation, error) {
	pkg, ok := models.LookupPackage(packageCode)
	if !ok {
		return nil, ErrInvalidPackage
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	m := metrics.NewBatch()

	// User row before wallet row, activator before sponsors: the lock order every writer follows.
	user, err := s.Users.LockByID(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	wallet, err := s.Wallets.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if wallet.Balance.LessThan(pkg.Principal) {
		return nil, ErrInsufficientFunds
	}
	if _, err := s.Wallets.Debit(ctx, tx, userID, pkg.Principal); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("debit wallet: %w", err)
	}

	a := &models.PackageActivation{
		ID:          uuid.New(),
		UserID:      userID,
		PackageCode: pkg.Code,
		Principal:   pkg.Principal,
		CycleCap:    pkg.Principal.Mul(models.CycleMultiplier),
		CycleStatus: models.CycleStatusActive,
	}
	if err := s.Activations.Create(ctx, tx, a); err != nil {
		return nil, fmt.Errorf("create activation: %w", err)
	}
	if err := s.Guard.Reopen(ctx, tx, user, m); err != nil {
		return nil, err
	}
	// Reopen may have completed the new activation on the spot.
	latest, err := s.Activations.Latest(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("reload activation: %w", err)
	}
	if latest != nil && latest.ID == a.ID {
		a.CycleStatus = latest.CycleStatus
	}

	sponsors, err := s.Commission.Distribute(ctx, tx, a, m)
	if err != nil {
		return nil, fmt.Errorf("distribute commission: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	m.Commit()
	metrics.RecordActivation(pkg.Code)
	s.Logger.Info("package activated",
		"user_id", userID, "activation_id", a.ID, "package", pkg.Code,
		"principal", pkg.Principal, "sponsors_credited", len(sponsors))
	return a, nil
}
