package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/models"
)

var (
	DefaultRebateThreshold = decimal.NewFromInt(500)
	DefaultRebatePayout    = decimal.NewFromInt(40)
)

// RebateEngine converts unconsumed points into fixed rebate payouts, at most
// a daily ceiling's worth per plan day. Leftover points stay for later days.
type RebateEngine struct {
	Activations ActivationRepo
	Wallets     WalletRepo
	Ledger      RebateLedger
	Guard       *CapGuard
	Threshold   decimal.Decimal
	Payout      decimal.Decimal
	Location    *time.Location
	Now         func() time.Time
	Logger      *slog.Logger
}

func NewRebateEngine(activations ActivationRepo, wallets WalletRepo, ledger RebateLedger, guard *CapGuard, loc *time.Location, logger *slog.Logger) *RebateEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RebateEngine{
		Activations: activations,
		Wallets:     wallets,
		Ledger:      ledger,
		Guard:       guard,
		Threshold:   DefaultRebateThreshold,
		Payout:      DefaultRebatePayout,
		Location:    loc,
		Now:         time.Now,
		Logger:      logger,
	}
}

// DayBounds returns [start, end) of the plan day containing t.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Emit pays as many rebates as the user's available points and today's
// remaining ceiling allow, and returns how many were paid. Available points are
// recomputed from the ledgers on every call. Call within a transaction.
func (e *RebateEngine) Emit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, m *metrics.Batch) (int, error) {
	total, err := e.Ledger.SumPoints(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("sum points: %w", err)
	}
	used, err := e.Ledger.SumPointsUsed(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("sum points used: %w", err)
	}
	available := total.Sub(used)
	if available.LessThan(e.Threshold) {
		return 0, nil
	}

	latest, err := e.Activations.Latest(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("latest activation: %w", err)
	}
	ceiling := decimal.Zero
	if latest != nil {
		ceiling = latest.Principal
	}

	from, to := DayBounds(e.Now(), e.Location)
	todayPaid, err := e.Ledger.SumRebateAmount(ctx, tx, userID, from, to)
	if err != nil {
		return 0, fmt.Errorf("sum today's rebates: %w", err)
	}

	emitted := 0
	for available.GreaterThanOrEqual(e.Threshold) {
		if todayPaid.Add(e.Payout).GreaterThan(ceiling) {
			e.Logger.Debug("rebate daily ceiling reached", "user_id", userID, "paid_today", todayPaid, "ceiling", ceiling)
			break
		}
		ok, err := e.Guard.Eligible(ctx, tx, userID)
		if err != nil {
			return emitted, err
		}
		if !ok {
			break
		}
		entry := &models.RebateEntry{
			ID:           uuid.New(),
			TxID:         models.NewTxID(),
			UserID:       userID,
			SourceUserID: userID,
			Level:        0,
			PointsUsed:   e.Threshold,
			Amount:       e.Payout,
		}
		if err := e.Ledger.InsertRebate(ctx, tx, entry); err != nil {
			return emitted, fmt.Errorf("insert rebate: %w", err)
		}
		if _, err := e.Wallets.Credit(ctx, tx, userID, e.Payout); err != nil {
			return emitted, fmt.Errorf("credit wallet: %w", err)
		}
		m.Credit(models.LedgerRebate, e.Payout)
		emitted++
		available = available.Sub(e.Threshold)
		todayPaid = todayPaid.Add(e.Payout)

		if _, err := e.Guard.Check(ctx, tx, userID, m); err != nil {
			return emitted, err
		}
	}
	return emitted, nil
}
