package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/memstore"
	"github.com/stakeladder/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

type fakeInserter struct {
	args []river.JobArgs
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(f.args)), Kind: args.Kind()}}, nil
}

func job(args NotificationArgs) *river.Job[NotificationArgs] {
	return &river.Job[NotificationArgs]{JobRow: &rivertype.JobRow{ID: 1, Kind: args.Kind()}, Args: args}
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

func TestNotificationArgs_JobKindAndPayload(t *testing.T) {
	args := NotificationArgs{EventKind: KindWithdrawalFailed, UserID: uuid.New(), Amount: decimal.NewFromInt(7), Network: models.NetworkBEP20}
	if got := args.Kind(); got != "notification" {
		t.Errorf("job kind: got %q, want %q", got, "notification")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["kind"] != KindWithdrawalFailed {
		t.Errorf("payload kind: got %v, want %q", payload["kind"], KindWithdrawalFailed)
	}
	if e := args.event(); e.Kind != KindWithdrawalFailed || e.UserID != args.UserID {
		t.Errorf("event: got %+v", e)
	}
}

func TestRiverNotifier_EnqueuesEvent(t *testing.T) {
	ins := &fakeInserter{}
	n := NewRiverNotifier(ins, nil)
	userID := uuid.New()

	err := n.Notify(context.Background(), Event{
		Kind: KindDepositConfirmed, UserID: userID, Amount: decimal.NewFromInt(100), Network: models.NetworkTRC20, Reference: "tx-1",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(ins.args) != 1 {
		t.Fatalf("inserted jobs: got %d, want 1", len(ins.args))
	}
	args, ok := ins.args[0].(NotificationArgs)
	if !ok {
		t.Fatalf("job args type: got %T", ins.args[0])
	}
	if args.UserID != userID || args.EventKind != KindDepositConfirmed || args.Reference != "tx-1" {
		t.Errorf("args: got %+v", args)
	}
}

func TestRiverNotifier_PropagatesInsertError(t *testing.T) {
	n := NewRiverNotifier(&fakeInserter{err: errors.New("queue down")}, nil)
	if err := n.Notify(context.Background(), Event{Kind: KindWithdrawalFailed}); err == nil {
		t.Error("expected error when the queue rejects the job")
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func TestNotificationWorker_SendsRenderedMail(t *testing.T) {
	store := memstore.New()
	userID := store.AddUser(nil)
	mailer := &fakeMailer{}
	w := NewNotificationWorker(store.Users(), mailer, nil)

	err := w.Work(context.Background(), job(NotificationArgs{
		Kind: KindWithdrawalCompleted, UserID: userID, Amount: decimal.RequireFromString("49.5"), Network: models.NetworkBEP20, Reference: "prq_9",
	}))
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("mails sent: got %d, want 1", len(mailer.sent))
	}
	m := mailer.sent[0]
	if m.to != store.User(userID).Email {
		t.Errorf("to: got %q, want %q", m.to, store.User(userID).Email)
	}
	if m.subject != "Withdrawal completed" {
		t.Errorf("subject: got %q", m.subject)
	}
	if !strings.Contains(m.body, "49.50") || !strings.Contains(m.body, "prq_9") {
		t.Errorf("body missing amount or reference: %q", m.body)
	}
}

func TestNotificationWorker_UnknownUserIsCancelled(t *testing.T) {
	mailer := &fakeMailer{}
	w := NewNotificationWorker(memstore.New().Users(), mailer, nil)

	err := w.Work(context.Background(), job(NotificationArgs{EventKind: KindDepositConfirmed, UserID: uuid.New()}))
	if err == nil {
		t.Fatal("expected an error for a missing user")
	}
	if len(mailer.sent) != 0 {
		t.Errorf("mails sent: got %d, want 0", len(mailer.sent))
	}
}

func TestNotificationWorker_MailerErrorRetries(t *testing.T) {
	store := memstore.New()
	userID := store.AddUser(nil)
	w := NewNotificationWorker(store.Users(), &fakeMailer{err: errors.New("relay refused")}, nil)

	if err := w.Work(context.Background(), job(NotificationArgs{EventKind: KindDepositConfirmed, UserID: userID})); err == nil {
		t.Error("expected the mailer error to be returned so River retries")
	}
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

func TestRender(t *testing.T) {
	tests := []struct {
		kind    string
		subject string
	}{
		{KindDepositConfirmed, "Deposit confirmed"},
		{KindWithdrawalCompleted, "Withdrawal completed"},
		{KindWithdrawalFailed, "Withdrawal failed"},
		{"other", "Account update"},
	}
	for _, tt := range tests {
		subject, body := Render(Event{Kind: tt.kind, Amount: decimal.NewFromInt(10)})
		if subject != tt.subject {
			t.Errorf("Render(%s) subject: got %q, want %q", tt.kind, subject, tt.subject)
		}
		if body == "" {
			t.Errorf("Render(%s) body is empty", tt.kind)
		}
	}
}

func TestBuildMessage_UsesCRLF(t *testing.T) {
	msg := string(buildMessage("noreply@example.test", "a@example.test", "Hi", "line one\nline two\n"))
	if !strings.Contains(msg, "Subject: Hi\r\n") {
		t.Errorf("missing subject header: %q", msg)
	}
	if !strings.HasSuffix(msg, "line one\r\nline two\r\n") {
		t.Errorf("body not CRLF terminated: %q", msg)
	}
}
