package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/models"
)

const (
	KindDepositConfirmed    = "deposit_confirmed"
	KindWithdrawalCompleted = "withdrawal_completed"
	KindWithdrawalFailed    = "withdrawal_failed"
)

// Event is a settlement outcome worth telling the user about.
type Event struct {
	Kind      string
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Network   models.Network
	Reference string
}

// NotificationArgs is the River job carrying one Event.
type NotificationArgs struct {
	EventKind string          `json:"kind"`
	UserID    uuid.UUID       `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Network   models.Network  `json:"network"`
	Reference string          `json:"reference"`
}

func (NotificationArgs) Kind() string { return "notification" }

func (NotificationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

func (a NotificationArgs) event() Event {
	return Event{Kind: a.EventKind, UserID: a.UserID, Amount: a.Amount, Network: a.Network, Reference: a.Reference}
}

// JobInserter is satisfied by *river.Client.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverNotifier enqueues events for the notification worker.
type RiverNotifier struct {
	inserter JobInserter
	logger   *slog.Logger
}

func NewRiverNotifier(inserter JobInserter, logger *slog.Logger) *RiverNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiverNotifier{inserter: inserter, logger: logger}
}

func (n *RiverNotifier) Notify(ctx context.Context, e Event) error {
	args := NotificationArgs{EventKind: e.Kind, UserID: e.UserID, Amount: e.Amount, Network: e.Network, Reference: e.Reference}
	res, err := n.inserter.Insert(ctx, args, nil)
	if err != nil {
		return fmt.Errorf("enqueue %s notification: %w", e.Kind, err)
	}
	n.logger.Debug("notification enqueued", "kind", e.Kind, "user_id", e.UserID, "job_id", res.Job.ID)
	return nil
}

// Render builds the subject and plain-text body for e.
func Render(e Event) (subject, body string) {
	amount := e.Amount.StringFixed(2)
	switch e.Kind {
	case KindDepositConfirmed:
		return "Deposit confirmed",
			fmt.Sprintf("Your %s deposit of %s has been confirmed and credited to your wallet.\nReference: %s\n", e.Network, amount, e.Reference)
	case KindWithdrawalCompleted:
		return "Withdrawal completed",
			fmt.Sprintf("Your %s withdrawal of %s has been sent.\nReference: %s\n", e.Network, amount, e.Reference)
	case KindWithdrawalFailed:
		return "Withdrawal failed",
			fmt.Sprintf("Your %s withdrawal of %s could not be completed and the funds were returned to your wallet.\nReason: %s\n", e.Network, amount, e.Reference)
	default:
		return "Account update", fmt.Sprintf("%s: %s\n", e.Kind, amount)
	}
}
