package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/models"
	"github.com/stakeladder/backend/internal/services"
)

const accrualWorker = "return_accrual"

var (
	// DefaultReturnRate is the daily yield as a fraction of principal.
	DefaultReturnRate = decimal.RequireFromString("0.015")
	// DefaultAccrualMinAge is how old an activation must be before it accrues.
	DefaultAccrualMinAge = 24 * time.Hour
)

// ReturnAccrual credits the daily Return to every active user on a cron schedule.
type ReturnAccrual struct {
	Pool        services.TxBeginner
	Users       UserStore
	Activations ActivationReader
	Wallets     WalletCreditor
	Ledger      ReturnLedger
	Guard       *services.CapGuard
	Fundings    FundingReconciler
	Rate        decimal.Decimal
	MinAge      time.Duration
	Location    *time.Location
	PageSize    int
	Now         func() time.Time
	Logger      *slog.Logger

	guard  Guard
	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewReturnAccrual(pool services.TxBeginner, users UserStore, activations ActivationReader, wallets WalletCreditor, ledger ReturnLedger, guard *services.CapGuard, fundings FundingReconciler, loc *time.Location, logger *slog.Logger) *ReturnAccrual {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ReturnAccrual{
		Pool:        pool,
		Users:       users,
		Activations: activations,
		Wallets:     wallets,
		Ledger:      ledger,
		Guard:       guard,
		Fundings:    fundings,
		Rate:        DefaultReturnRate,
		MinAge:      DefaultAccrualMinAge,
		Location:    loc,
		PageSize:    500,
		Now:         time.Now,
		Logger:      logger,
	}
}

// Start schedules the accrual with a standard five-field cron spec evaluated in the plan timezone.
func (a *ReturnAccrual) Start(ctx context.Context, spec string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(a.Location))
	if _, err := c.AddFunc(spec, func() { _, _ = a.Run(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule accrual %q: %w", spec, err)
	}
	c.Start()
	a.cron = c
	a.cancel = cancel
	a.Logger.Info("worker started", "worker", accrualWorker, "schedule", spec, "location", a.Location.String())
	return nil
}

// Stop removes the schedule and waits for an in-flight run, or for ctx to expire.
func (a *ReturnAccrual) Stop(ctx context.Context) error {
	a.mu.Lock()
	c, cancel := a.cron, a.cancel
	a.cron, a.cancel = nil, nil
	a.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	a.Logger.Info("worker stopped", "worker", accrualWorker)
	return nil
}

// Run performs one accrual pass over all active users. A second call while a
// pass is running returns ErrRunInProgress.
func (a *ReturnAccrual) Run(ctx context.Context) (Summary, error) {
	return runGuarded(ctx, &a.guard, accrualWorker, a.Logger, a.accrueAll)
}

func (a *ReturnAccrual) accrueAll(ctx context.Context) (Summary, error) {
	var sum Summary
	now := a.Now()
	dayStart, _ := services.DayBounds(now, a.Location)

	after := uuid.Nil
	for {
		ids, err := a.Users.ListActiveIDs(ctx, after, a.PageSize)
		if err != nil {
			return sum, fmt.Errorf("list active users: %w", err)
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Processed++
			credited, err := a.accrueUser(ctx, id, now, dayStart)
			switch {
			case err != nil:
				sum.Failed++
				a.Logger.Error("accrual failed", "user_id", id, "error", err)
			case credited:
				sum.Succeeded++
			default:
				sum.Skipped++
			}
		}
		if len(ids) < a.PageSize {
			return sum, nil
		}
		after = ids[len(ids)-1]
	}
}

// accrueUser credits one day's Return to userID in its own transaction.
// It reports false when the user is not due.
func (a *ReturnAccrual) accrueUser(ctx context.Context, userID uuid.UUID, now, dayStart time.Time) (bool, error) {
	tx, err := a.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	user, err := a.Users.LockByID(ctx, tx, userID)
	if err != nil {
		return false, fmt.Errorf("lock user: %w", err)
	}
	if user.Status != models.UserStatusActive {
		return false, nil
	}
	act, err := a.Activations.Latest(ctx, tx, userID)
	if err != nil {
		return false, fmt.Errorf("latest activation: %w", err)
	}
	if !act.IsActive() || now.Sub(act.ActivatedAt) < a.MinAge {
		return false, nil
	}
	paid, err := a.Ledger.HasReturnSince(ctx, tx, act.ID, dayStart)
	if err != nil {
		return false, fmt.Errorf("check today's return: %w", err)
	}
	if paid {
		return false, nil
	}
	total, err := a.Ledger.CapTotal(ctx, tx, userID)
	if err != nil {
		return false, fmt.Errorf("cap total: %w", err)
	}
	if total.GreaterThanOrEqual(act.CycleCap) {
		return false, nil
	}

	m := metrics.NewBatch()
	yield := act.Principal.Mul(a.Rate)
	entry := &models.ReturnEntry{ID: uuid.New(), TxID: models.NewTxID(), UserID: userID, ActivationID: act.ID, Amount: yield}
	if err := a.Ledger.InsertReturn(ctx, tx, entry); err != nil {
		return false, fmt.Errorf("insert return: %w", err)
	}
	if _, err := a.Wallets.Credit(ctx, tx, userID, yield); err != nil {
		return false, fmt.Errorf("credit wallet: %w", err)
	}
	if _, err := a.Guard.Check(ctx, tx, userID, m); err != nil {
		return false, err
	}
	if a.Fundings != nil {
		if _, err := a.Fundings.ReconcileFunding(ctx, tx, userID); err != nil {
			return false, fmt.Errorf("reconcile funding: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	m.Credit(models.LedgerReturn, yield)
	m.Commit()
	return true, nil
}
