package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/models"
)

// CapGuard enforces the cycle cap: Return + Bonus + Rebate credited to a user
// may not pass the cycle_cap of their latest activation. It runs after every
// capped credit and flips the user to cycle_complete once the cap is reached.
type CapGuard struct {
	Users       UserRepo
	Activations ActivationRepo
	Ledger      CapLedger
	Logger      *slog.Logger
}

func NewCapGuard(users UserRepo, activations ActivationRepo, ledger CapLedger, logger *slog.Logger) *CapGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapGuard{Users: users, Activations: activations, Ledger: ledger, Logger: logger}
}

// Check completes the user's cycle if the cap is reached. Returns true when the user is (now) complete.
// It is a no-op for a user who never activated. Call within a transaction.
func (g *CapGuard) Check(ctx context.Context, tx pgx.Tx, userID uuid.UUID, m *metrics.Batch) (bool, error) {
	total, err := g.Ledger.CapTotal(ctx, tx, userID)
	if err != nil {
		return false, fmt.Errorf("cap total: %w", err)
	}
	latest, err := g.Activations.Latest(ctx, tx, userID)
	if err != nil {
		return false, fmt.Errorf("latest activation: %w", err)
	}
	if latest == nil {
		return false, nil
	}
	if total.LessThan(latest.CycleCap) {
		return false, nil
	}
	return true, g.complete(ctx, tx, userID, m)
}

// Reopen re-evaluates a user right after a new activation became their latest.
// A cycle_complete user whose all-time capped total is still under the new cap
// becomes active again; otherwise the new activation is completed at once.
func (g *CapGuard) Reopen(ctx context.Context, tx pgx.Tx, user *models.User, m *metrics.Batch) error {
	completed, err := g.Check(ctx, tx, user.ID, m)
	if err != nil || completed {
		return err
	}
	if user.Status != models.UserStatusActive {
		if err := g.Users.SetStatus(ctx, tx, user.ID, models.UserStatusActive); err != nil {
			return fmt.Errorf("reopen user: %w", err)
		}
		g.Logger.Info("cycle reopened", "user_id", user.ID)
	}
	return nil
}

// Eligible locks the user row and reports whether they may receive a capped
// credit: status active and an active current activation. A user with no
// activation has no cap and therefore no room.
func (g *CapGuard) Eligible(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error) {
	u, err := g.Users.LockByID(ctx, tx, userID)
	if err != nil {
		return false, fmt.Errorf("lock user %s: %w", userID, err)
	}
	if u.Status != models.UserStatusActive {
		return false, nil
	}
	latest, err := g.Activations.Latest(ctx, tx, userID)
	if err != nil {
		return false, fmt.Errorf("latest activation: %w", err)
	}
	return latest.IsActive(), nil
}

func (g *CapGuard) complete(ctx context.Context, tx pgx.Tx, userID uuid.UUID, m *metrics.Batch) error {
	if err := g.Users.SetStatus(ctx, tx, userID, models.UserStatusCycleComplete); err != nil {
		return fmt.Errorf("set cycle_complete: %w", err)
	}
	n, err := g.Activations.CompleteActive(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("complete activations: %w", err)
	}
	if n > 0 {
		m.CycleCompleted()
		g.Logger.Info("cycle complete", "user_id", userID, "activations", n)
	}
	return nil
}
