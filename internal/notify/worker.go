package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/stakeladder/backend/internal/models"
	"github.com/stakeladder/backend/internal/repository"
)

// UserLookup resolves the recipient address.
type UserLookup interface {
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
}

type NotificationWorker struct {
	river.WorkerDefaults[NotificationArgs]
	users  UserLookup
	mailer Mailer
	logger *slog.Logger
}

func NewNotificationWorker(users UserLookup, mailer Mailer, logger *slog.Logger) *NotificationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationWorker{users: users, mailer: mailer, logger: logger}
}

func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationArgs]) error {
	args := job.Args

	user, err := w.users.GetByID(ctx, nil, args.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		// Retrying will not make the user appear.
		return river.JobCancel(fmt.Errorf("user %s not found", args.UserID))
	}
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}
	if user.Email == "" {
		w.logger.Warn("notification dropped, user has no email", "user_id", args.UserID, "kind", args.EventKind)
		return nil
	}

	subject, body := Render(args.event())
	if err := w.mailer.Send(ctx, user.Email, subject, body); err != nil {
		return fmt.Errorf("send %s notification: %w", args.EventKind, err)
	}
	return nil
}
