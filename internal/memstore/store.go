// Package memstore is an in-memory Ledger Store for tests. It implements every
// repository interface the services and workers consume, and its transactions
// restore a snapshot on rollback so all-or-nothing behavior can be asserted
// without Postgres.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/models"
	"github.com/stakeladder/backend/internal/repository"
)

type payoutKey struct {
	user    uuid.UUID
	network models.Network
}

type state struct {
	users       map[uuid.UUID]models.User
	wallets     map[uuid.UUID]decimal.Decimal
	payouts     map[payoutKey]string
	activations []models.PackageActivation
	returns     []models.ReturnEntry
	bonuses     []models.BonusEntry
	points      []models.PointsEntry
	rebates     []models.RebateEntry
	awards      []models.AwardEntry
	deposits    []models.Deposit
	withdrawals []models.Withdrawal
	fundings    []models.Funding
}

func newState() *state {
	return &state{
		users:   make(map[uuid.UUID]models.User),
		wallets: make(map[uuid.UUID]decimal.Decimal),
		payouts: make(map[payoutKey]string),
	}
}

// clone copies the state. Entries are stored by value, so copying the slices is enough.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.payouts {
		c.payouts[k] = v
	}
	c.activations = append(c.activations, s.activations...)
	c.returns = append(c.returns, s.returns...)
	c.bonuses = append(c.bonuses, s.bonuses...)
	c.points = append(c.points, s.points...)
	c.rebates = append(c.rebates, s.rebates...)
	c.awards = append(c.awards, s.awards...)
	c.deposits = append(c.deposits, s.deposits...)
	c.withdrawals = append(c.withdrawals, s.withdrawals...)
	c.fundings = append(c.fundings, s.fundings...)
	return c
}

// Store is the in-memory Ledger Store. Use the typed views (Users, Wallets, ...)
// as repositories and the Store itself as the transaction beginner.
type Store struct {
	mu    sync.Mutex
	st    *state
	fails map[string]error

	// Now stamps created_at columns. Tests pin it to control plan days.
	Now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), fails: make(map[string]error), Now: time.Now}
}

// FailOn makes the named operation (e.g. "InsertPoints") return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fails, op)
		return
	}
	s.fails[op] = err
}

// lock acquires the store and returns the injected failure for op, if any.
func (s *Store) lock(op string) error {
	s.mu.Lock()
	return s.fails[op]
}

func (s *Store) now() time.Time { return s.Now() }

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// Begin snapshots the store. Rollback without a prior Commit restores it.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := s.lock("Begin"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return &memTx{store: s, snapshot: s.st.clone()}, nil
}

type memTx struct {
	store    *Store
	snapshot *state
	done     bool
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("memstore: nested transactions are not supported")
}

func (t *memTx) Commit(context.Context) error {
	if err := t.store.lock("Commit"); err != nil {
		t.store.mu.Unlock()
		return err
	}
	defer t.store.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.st = t.snapshot
	return nil
}

func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), fmt.Errorf("memstore: raw SQL is not supported")
}
func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("memstore: raw SQL is not supported")
}
func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, fmt.Errorf("memstore: copy is not supported")
}
func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, fmt.Errorf("memstore: prepare is not supported")
}
func (t *memTx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// Seeding and inspection helpers
// ---------------------------------------------------------------------------

// AddUser registers an active user under sponsor (nil for a root).
func (s *Store) AddUser(sponsor *uuid.UUID) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.st.users[id] = models.User{ID: id, SponsorID: sponsor, Email: id.String() + "@example.test", Status: models.UserStatusActive, CreatedAt: s.now()}
	return id
}

func (s *Store) SetBalance(userID uuid.UUID, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.wallets[userID] = amount
}

func (s *Store) Balance(userID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.wallets[userID]
}

func (s *Store) User(id uuid.UUID) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.users[id]
}

// SeedActivation adds an active activation for userID at the given time.
func (s *Store) SeedActivation(userID uuid.UUID, principal decimal.Decimal, at time.Time) models.PackageActivation {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := models.PackageActivation{
		ID: uuid.New(), UserID: userID, PackageCode: "seed", Principal: principal,
		CycleCap: principal.Mul(models.CycleMultiplier), CycleStatus: models.CycleStatusActive, ActivatedAt: at,
	}
	s.st.activations = append(s.st.activations, a)
	return a
}

func (s *Store) SetPayoutAddress(userID uuid.UUID, network models.Network, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.payouts[payoutKey{userID, network}] = address
}

func (s *Store) ActivationsOf(userID uuid.UUID) []models.PackageActivation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PackageActivation
	for _, a := range s.st.activations {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Bonuses() []models.BonusEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BonusEntry(nil), s.st.bonuses...)
}

func (s *Store) Points() []models.PointsEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PointsEntry(nil), s.st.points...)
}

func (s *Store) Rebates() []models.RebateEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RebateEntry(nil), s.st.rebates...)
}

func (s *Store) Returns() []models.ReturnEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ReturnEntry(nil), s.st.returns...)
}

func (s *Store) Awards() []models.AwardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AwardEntry(nil), s.st.awards...)
}

// SeedPoints inserts a points row directly, for setting up rebate scenarios.
func (s *Store) SeedPoints(userID uuid.UUID, points decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.points = append(s.st.points, models.PointsEntry{
		ID: uuid.New(), TxID: uuid.New(), UserID: userID, SourceUserID: userID, Level: 1, Points: points, CreatedAt: s.now(),
	})
}

// SeedReturn inserts a return row directly at the given time.
func (s *Store) SeedReturn(userID, activationID uuid.UUID, amount decimal.Decimal, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.returns = append(s.st.returns, models.ReturnEntry{
		ID: uuid.New(), TxID: uuid.New(), UserID: userID, ActivationID: activationID, Amount: amount, CreatedAt: at,
	})
}

func (s *Store) Deposit(id uuid.UUID) (models.Deposit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.st.deposits {
		if d.ID == id {
			return d, true
		}
	}
	return models.Deposit{}, false
}

func (s *Store) Withdrawal(id uuid.UUID) (models.Withdrawal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.st.withdrawals {
		if w.ID == id {
			return w, true
		}
	}
	return models.Withdrawal{}, false
}

// SetWithdrawalTimes backdates a withdrawal, for completion-age tests.
func (s *Store) SetWithdrawalTimes(id uuid.UUID, created time.Time, processing *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.withdrawals {
		if s.st.withdrawals[i].ID == id {
			s.st.withdrawals[i].CreatedAt = created
			s.st.withdrawals[i].ProcessingAt = processing
		}
	}
}

func (s *Store) FundingsOf(userID uuid.UUID) []models.Funding {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Funding
	for _, f := range s.st.fundings {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Typed repository views
// ---------------------------------------------------------------------------

type (
	Users       struct{ s *Store }
	Wallets     struct{ s *Store }
	Activations struct{ s *Store }
	Ledger      struct{ s *Store }
	Deposits    struct{ s *Store }
	Withdrawals struct{ s *Store }
	Fundings    struct{ s *Store }
)

func (s *Store) Users() *Users             { return &Users{s} }
func (s *Store) Wallets() *Wallets         { return &Wallets{s} }
func (s *Store) Activations() *Activations { return &Activations{s} }
func (s *Store) Ledger() *Ledger           { return &Ledger{s} }
func (s *Store) Deposits() *Deposits       { return &Deposits{s} }
func (s *Store) Withdrawals() *Withdrawals { return &Withdrawals{s} }
func (s *Store) Fundings() *Fundings       { return &Fundings{s} }

// --- users ---

func (r *Users) GetByID(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.User, error) {
	if err := r.s.lock("GetUser"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *Users) LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *Users) SetStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status string) error {
	if err := r.s.lock("SetStatus"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = status
	r.s.st.users[id] = u
	return nil
}

func (r *Users) ListActiveIDs(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if err := r.s.lock("ListActiveIDs"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for id, u := range r.s.st.users {
		if u.Status == models.UserStatusActive && id.String() > after.String() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *Users) PayoutAddress(_ context.Context, userID uuid.UUID, network models.Network) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	addr, ok := r.s.st.payouts[payoutKey{userID, network}]
	if !ok {
		return "", repository.ErrNotFound
	}
	return addr, nil
}

// --- wallets ---

func (r *Wallets) Get(_ context.Context, _ pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return &models.Wallet{UserID: userID, Balance: r.s.st.wallets[userID]}, nil
}

func (r *Wallets) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	return r.Get(ctx, tx, userID)
}

func (r *Wallets) Credit(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := r.s.lock("Credit"); err != nil {
		r.s.mu.Unlock()
		return decimal.Zero, err
	}
	defer r.s.mu.Unlock()
	b := r.s.st.wallets[userID].Add(amount)
	r.s.st.wallets[userID] = b
	return b, nil
}

func (r *Wallets) Debit(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := r.s.lock("Debit"); err != nil {
		r.s.mu.Unlock()
		return decimal.Zero, err
	}
	defer r.s.mu.Unlock()
	b, ok := r.s.st.wallets[userID]
	if !ok || b.LessThan(amount) {
		return decimal.Zero, repository.ErrInsufficientBalance
	}
	b = b.Sub(amount)
	r.s.st.wallets[userID] = b
	return b, nil
}

// --- activations ---

func (r *Activations) Create(_ context.Context, _ pgx.Tx, a *models.PackageActivation) error {
	if err := r.s.lock("CreateActivation"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()
	a.ActivatedAt = r.s.now()
	r.s.st.activations = append(r.s.st.activations, *a)
	return nil
}

func (r *Activations) Latest(_ context.Context, _ pgx.Tx, userID uuid.UUID) (*models.PackageActivation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *models.PackageActivation
	for i := range r.s.st.activations {
		a := r.s.st.activations[i]
		if a.UserID != userID {
			continue
		}
		if latest == nil || !a.ActivatedAt.Before(latest.ActivatedAt) {
			cp := a
			latest = &cp
		}
	}
	return latest, nil
}

func (r *Activations) CompleteActive(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.st.activations {
		a := &r.s.st.activations[i]
		if a.UserID == userID && a.CycleStatus == models.CycleStatusActive {
			a.CycleStatus = models.CycleStatusComplete
			n++
		}
	}
	return n, nil
}

// --- ledger ---

// uniqueKeys mirrors the primary key and unique tx_id of a ledger table.
func uniqueKeys[E any](rows []E, keys func(E) (uuid.UUID, uuid.UUID), id, txID uuid.UUID) error {
	for _, row := range rows {
		rowID, rowTx := keys(row)
		if rowID == id || rowTx == txID {
			return repository.ErrDuplicate
		}
	}
	return nil
}

func (r *Ledger) InsertReturn(_ context.Context, _ pgx.Tx, e *models.ReturnEntry) error {
	if err := r.s.lock("InsertReturn"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()
	if err := uniqueKeys(r.s.st.returns, func(x models.ReturnEntry) (uuid.UUID, uuid.UUID) { return x.ID, x.TxID }, e.ID, e.TxID); err != nil {
		return err
	}
	e.CreatedAt = r.s.now()
	r.s.st.returns = append(r.s.st.returns, *e)
	return nil
}

func (r *Ledger) InsertBonus(_ context.Context, _ pgx.Tx, e *models.BonusEntry) error {
	if err := r.s.lock("InsertBonus"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()
	if err := uniqueKeys(r.s.st.bonuses, func(x models.BonusEntry) (uuid.UUID, uuid.UUID) { return x.ID, x.TxID }, e.ID, e.TxID); err != nil {
		return err
	}
	e.CreatedAt = r.s.now()
	r.s.st.bonuses = append(r.s.st.bonuses, *e)
	return nil
}

func (r *Ledger) InsertPoints(_ context.Context, _ pgx.Tx, e *models.PointsEntry) error {
	if err := r.s.lock("InsertPoints"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()
	if err := uniqueKeys(r.s.st.points, func(x models.PointsEntry) (uuid.UUID, uuid.UUID) { return x.ID, x.TxID }, e.ID, e.TxID); err != nil {
		return err
	}
	e.CreatedAt = r.s.now()
	r.s.st.points = append(r.s.st.points, *e)
	return nil
}

func (r *Ledger) InsertRebate(_ context.Context, _ pgx.Tx, e *models.RebateEntry) error {
	if err := r.s.lock("InsertRebate"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()
	if err := uniqueKeys(r.s.st.rebates, func(x models.RebateEntry) (uuid.UUID, uuid.UUID) { return x.ID, x.TxID }, e.ID, e.TxID); err != nil {
		return err
	}
	e.CreatedAt = r.s.now()
	r.s.st.rebates = append(r.s.st.rebates, *e)
	return nil
}

func (r *Ledger) InsertAward(_ context.Context, _ pgx.Tx, e *models.AwardEntry) error {
	if err := r.s.lock("InsertAward"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()
	if err := uniqueKeys(r.s.st.awards, func(x models.AwardEntry) (uuid.UUID, uuid.UUID) { return x.ID, x.TxID }, e.ID, e.TxID); err != nil {
		return err
	}
	e.CreatedAt = r.s.now()
	r.s.st.awards = append(r.s.st.awards, *e)
	return nil
}

func (r *Ledger) CapTotal(_ context.Context, _ pgx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.st.sumReturn(userID, time.Time{}).Add(r.s.st.sumBonus(userID)).Add(r.s.st.sumRebate(userID, time.Time{}, time.Time{})), nil
}

func (r *Ledger) SumPoints(_ context.Context, _ pgx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	for _, e := range r.s.st.points {
		if e.UserID == userID {
			total = total.Add(e.Points)
		}
	}
	return total, nil
}

func (r *Ledger) SumPointsUsed(_ context.Context, _ pgx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	for _, e := range r.s.st.rebates {
		if e.UserID == userID {
			total = total.Add(e.PointsUsed)
		}
	}
	return total, nil
}

func (r *Ledger) SumRebateAmount(_ context.Context, _ pgx.Tx, userID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.st.sumRebate(userID, from, to), nil
}

func (r *Ledger) HasReturnSince(_ context.Context, _ pgx.Tx, activationID uuid.UUID, since time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.st.returns {
		if e.ActivationID == activationID && !e.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Ledger) SumReturnSince(_ context.Context, _ pgx.Tx, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.st.sumReturn(userID, since), nil
}

func (r *Ledger) EarnedBySource(_ context.Context, _ pgx.Tx, userID uuid.UUID, source models.WithdrawalSource) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	switch source {
	case models.SourceReturn:
		return r.s.st.sumReturn(userID, time.Time{}), nil
	case models.SourceBonus:
		return r.s.st.sumBonus(userID), nil
	case models.SourceRebate:
		return r.s.st.sumRebate(userID, time.Time{}, time.Time{}), nil
	case models.SourceAward:
		total := decimal.Zero
		for _, e := range r.s.st.awards {
			if e.UserID == userID {
				total = total.Add(e.Amount)
			}
		}
		return total, nil
	}
	return decimal.Zero, fmt.Errorf("unknown withdrawal source %q", source)
}

func (r *Ledger) Summary(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.EarningsSummary, error) {
	var s models.EarningsSummary
	var err error
	if s.Return, err = r.EarnedBySource(ctx, tx, userID, models.SourceReturn); err != nil {
		return nil, err
	}
	if s.Bonus, err = r.EarnedBySource(ctx, tx, userID, models.SourceBonus); err != nil {
		return nil, err
	}
	if s.Rebate, err = r.EarnedBySource(ctx, tx, userID, models.SourceRebate); err != nil {
		return nil, err
	}
	if s.Award, err = r.EarnedBySource(ctx, tx, userID, models.SourceAward); err != nil {
		return nil, err
	}
	if s.Points, err = r.SumPoints(ctx, tx, userID); err != nil {
		return nil, err
	}
	if s.PointsUsed, err = r.SumPointsUsed(ctx, tx, userID); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *state) sumReturn(userID uuid.UUID, since time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.returns {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func (s *state) sumBonus(userID uuid.UUID) decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.bonuses {
		if e.UserID == userID {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// sumRebate totals rebates in [from, to); a zero bound is open.
func (s *state) sumRebate(userID uuid.UUID, from, to time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.rebates {
		if e.UserID != userID || e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total
}

// --- deposits ---

func (r *Deposits) Create(_ context.Context, d *models.Deposit) error {
	if err := r.s.lock("CreateDeposit"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.deposits {
		if existing.TxRef == d.TxRef {
			return repository.ErrDuplicate
		}
	}
	d.CreatedAt = r.s.now()
	r.s.st.deposits = append(r.s.st.deposits, *d)
	return nil
}

func (r *Deposits) ListPending(_ context.Context, limit int) ([]*models.Deposit, error) {
	if err := r.s.lock("ListPending"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []*models.Deposit
	for _, d := range r.s.st.deposits {
		if d.Status == models.DepositPending {
			cp := d
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Deposits) MarkConfirmed(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	if err := r.s.lock("MarkConfirmed"); err != nil {
		r.s.mu.Unlock()
		return false, err
	}
	defer r.s.mu.Unlock()
	for i := range r.s.st.deposits {
		d := &r.s.st.deposits[i]
		if d.ID == id && d.Status == models.DepositPending {
			now := r.s.now()
			d.Status = models.DepositConfirmed
			d.ConfirmedAt = &now
			return true, nil
		}
	}
	return false, nil
}

// --- withdrawals ---

func (r *Withdrawals) Create(_ context.Context, _ pgx.Tx, w *models.Withdrawal) error {
	if err := r.s.lock("CreateWithdrawal"); err != nil {
		r.s.mu.Unlock()
		return err
	}
	defer r.s.mu.Unlock()
	w.CreatedAt = r.s.now()
	r.s.st.withdrawals = append(r.s.st.withdrawals, *w)
	return nil
}

func (r *Withdrawals) ListByStatus(_ context.Context, status models.WithdrawalStatus, limit int) ([]*models.Withdrawal, error) {
	if err := r.s.lock("ListByStatus"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	defer r.s.mu.Unlock()
	var out []*models.Withdrawal
	for _, w := range r.s.st.withdrawals {
		if w.Status == status {
			cp := w
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Withdrawals) MarkProcessing(_ context.Context, _ pgx.Tx, id uuid.UUID, providerRequestID string) (bool, error) {
	return r.transition(id, models.WithdrawalPending, models.WithdrawalProcessing, func(w *models.Withdrawal, now time.Time) {
		w.ProcessingAt = &now
		w.ProviderRequestID = &providerRequestID
	})
}

func (r *Withdrawals) MarkCompleted(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	return r.transition(id, models.WithdrawalProcessing, models.WithdrawalCompleted, func(w *models.Withdrawal, now time.Time) {
		w.FinishedAt = &now
	})
}

func (r *Withdrawals) MarkFailed(_ context.Context, _ pgx.Tx, id uuid.UUID, from models.WithdrawalStatus, reason string) (bool, error) {
	return r.transition(id, from, models.WithdrawalFailed, func(w *models.Withdrawal, now time.Time) {
		w.FinishedAt = &now
		w.FailureReason = &reason
	})
}

func (r *Withdrawals) transition(id uuid.UUID, from, to models.WithdrawalStatus, apply func(*models.Withdrawal, time.Time)) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("withdrawal %s: illegal transition %s -> %s", id, from, to)
	}
	if err := r.s.lock("MarkWithdrawal"); err != nil {
		r.s.mu.Unlock()
		return false, err
	}
	defer r.s.mu.Unlock()
	for i := range r.s.st.withdrawals {
		w := &r.s.st.withdrawals[i]
		if w.ID == id && w.Status == from {
			w.Status = to
			apply(w, r.s.now())
			return true, nil
		}
	}
	return false, nil
}

func (r *Withdrawals) SumBySource(_ context.Context, _ pgx.Tx, userID uuid.UUID, source models.WithdrawalSource) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	for _, w := range r.s.st.withdrawals {
		if w.UserID == userID && w.Source == source && w.Status != models.WithdrawalFailed {
			total = total.Add(w.Amount)
		}
	}
	return total, nil
}

// --- fundings ---

func (r *Fundings) Create(_ context.Context, _ pgx.Tx, f *models.Funding) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f.CreatedAt = r.s.now()
	r.s.st.fundings = append(r.s.st.fundings, *f)
	return nil
}

func (r *Fundings) ListActive(_ context.Context, _ pgx.Tx, userID uuid.UUID) ([]*models.Funding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Funding
	for _, f := range r.s.st.fundings {
		if f.UserID == userID && f.Status == models.FundingStatusActive {
			cp := f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *Fundings) MarkRepaid(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.st.fundings {
		f := &r.s.st.fundings[i]
		if f.ID == id && f.Status == models.FundingStatusActive {
			now := r.s.now()
			f.Status = models.FundingStatusRepaid
			f.RepaidAt = &now
			return true, nil
		}
	}
	return false, nil
}
