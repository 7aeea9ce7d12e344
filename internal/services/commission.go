package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/models"
)

// MaxLevels bounds the sponsor walk.
const MaxLevels = 10

var (
	indirectRateL1   = decimal.NewFromFloat(0.10)
	indirectRateDeep = decimal.NewFromFloat(0.01)
	directRate       = decimal.NewFromFloat(0.10)
	half             = decimal.NewFromFloat(0.5)
)

// IndirectRate is the indirect bonus rate for a level (1-indexed).
func IndirectRate(level int) decimal.Decimal {
	if level == 1 {
		return indirectRateL1
	}
	return indirectRateDeep
}

// DirectRate is the direct bonus rate for a level; zero outside levels 2..6.
func DirectRate(level int) decimal.Decimal {
	if level >= 2 && level <= 6 {
		return directRate
	}
	return decimal.Zero
}

// PointsFor is principal * 0.5^level, computed by exact halving.
func PointsFor(principal decimal.Decimal, level int) decimal.Decimal {
	p := principal
	for i := 0; i < level; i++ {
		p = p.Mul(half)
	}
	return p
}

// CommissionEngine walks the sponsor chain above an activator and posts
// Bonus and Points credits level by level.
type CommissionEngine struct {
	Users   UserRepo
	Wallets WalletRepo
	Ledger  CommissionLedger
	Guard   *CapGuard
	Rebates *RebateEngine
	Logger  *slog.Logger
}

func NewCommissionEngine(users UserRepo, wallets WalletRepo, ledger CommissionLedger, guard *CapGuard, rebates *RebateEngine, logger *slog.Logger) *CommissionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommissionEngine{Users: users, Wallets: wallets, Ledger: ledger, Guard: guard, Rebates: rebates, Logger: logger}
}

// Distribute runs the walk for one activation and returns the sponsors it visited, nearest first.
// Per level: indirect bonus, cap check, direct bonus (levels 2..6), cap check, points, rebates.
// A bonus is credited first and checked second, so a single credit may carry a sponsor past
// the cap; the guard then blocks every later capped credit. A sponsor who is not
// active or has no active activation gets no bonus and no rebate at that level,
// but the level's points are still posted. Call within a transaction.
func (e *CommissionEngine) Distribute(ctx context.Context, tx pgx.Tx, a *models.PackageActivation, m *metrics.Batch) ([]uuid.UUID, error) {
	current, err := e.Users.GetByID(ctx, tx, a.UserID)
	if err != nil {
		return nil, fmt.Errorf("load activator: %w", err)
	}
	var touched []uuid.UUID
	for level := 1; level <= MaxLevels && current.SponsorID != nil; level++ {
		sponsorID := *current.SponsorID
		if sponsorID == a.UserID {
			return touched, fmt.Errorf("sponsor cycle at user %s", current.ID)
		}
		if err := e.creditLevel(ctx, tx, a, sponsorID, level, m); err != nil {
			return touched, fmt.Errorf("level %d sponsor %s: %w", level, sponsorID, err)
		}
		touched = append(touched, sponsorID)

		next, err := e.Users.GetByID(ctx, tx, sponsorID)
		if err != nil {
			return touched, fmt.Errorf("load sponsor %s: %w", sponsorID, err)
		}
		current = next
	}
	return touched, nil
}

func (e *CommissionEngine) creditLevel(ctx context.Context, tx pgx.Tx, a *models.PackageActivation, sponsorID uuid.UUID, level int, m *metrics.Batch) error {
	open, err := e.Guard.Eligible(ctx, tx, sponsorID)
	if err != nil {
		return err
	}
	if open {
		if amount := a.Principal.Mul(IndirectRate(level)); amount.IsPositive() {
			done, err := e.creditBonus(ctx, tx, a, sponsorID, level, models.BonusTypeIndirect, amount, m)
			if err != nil {
				return err
			}
			open = !done
		}
	}
	if open {
		if amount := a.Principal.Mul(DirectRate(level)); amount.IsPositive() {
			if _, err := e.creditBonus(ctx, tx, a, sponsorID, level, models.BonusTypeDirect, amount, m); err != nil {
				return err
			}
		}
	}

	pts := &models.PointsEntry{
		ID:           uuid.New(),
		TxID:         models.NewTxID(),
		UserID:       sponsorID,
		SourceUserID: a.UserID,
		ActivationID: a.ID,
		Level:        level,
		Points:       PointsFor(a.Principal, level),
	}
	if err := e.Ledger.InsertPoints(ctx, tx, pts); err != nil {
		return fmt.Errorf("insert points: %w", err)
	}
	m.Credit(models.LedgerPoints, pts.Points)

	if e.Rebates != nil {
		if _, err := e.Rebates.Emit(ctx, tx, sponsorID, m); err != nil {
			return fmt.Errorf("rebates: %w", err)
		}
	}
	return nil
}

// creditBonus posts one bonus row, credits the wallet, then runs the cap guard.
// It reports whether the sponsor's cycle is complete afterwards.
func (e *CommissionEngine) creditBonus(ctx context.Context, tx pgx.Tx, a *models.PackageActivation, sponsorID uuid.UUID, level int, typ string, amount decimal.Decimal, m *metrics.Batch) (bool, error) {
	entry := &models.BonusEntry{
		ID:           uuid.New(),
		TxID:         models.NewTxID(),
		UserID:       sponsorID,
		SourceUserID: a.UserID,
		ActivationID: a.ID,
		Level:        level,
		Type:         typ,
		Amount:       amount,
	}
	if err := e.Ledger.InsertBonus(ctx, tx, entry); err != nil {
		return false, fmt.Errorf("insert %s bonus: %w", typ, err)
	}
	if _, err := e.Wallets.Credit(ctx, tx, sponsorID, amount); err != nil {
		return false, fmt.Errorf("credit wallet: %w", err)
	}
	m.Credit(models.LedgerBonus, amount)
	return e.Guard.Check(ctx, tx, sponsorID, m)
}
