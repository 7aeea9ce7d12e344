package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/memstore"
	"github.com/stakeladder/backend/internal/metrics"
	"github.com/stakeladder/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Harness: the real engines wired over the in-memory Ledger Store.
// ---------------------------------------------------------------------------

type harness struct {
	store      *memstore.Store
	guard      *CapGuard
	rebates    *RebateEngine
	commission *CommissionEngine
	svc        *ActivationService
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memstore.New(), now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	h.store.Now = func() time.Time { return h.now }

	users, wallets, acts, led := h.store.Users(), h.store.Wallets(), h.store.Activations(), h.store.Ledger()
	h.guard = NewCapGuard(users, acts, led, nil)
	h.rebates = NewRebateEngine(acts, wallets, led, h.guard, time.UTC, nil)
	h.rebates.Now = func() time.Time { return h.now }
	h.commission = NewCommissionEngine(users, wallets, led, h.guard, h.rebates, nil)
	h.svc = NewActivationService(h.store, users, wallets, acts, h.guard, h.commission, nil)
	return h
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// member adds a user under sponsor with an active seeded activation of the given principal.
func (h *harness) member(sponsor *uuid.UUID, principal float64) uuid.UUID {
	id := h.store.AddUser(sponsor)
	h.store.SeedActivation(id, dec(principal), h.now.Add(-48*time.Hour))
	return id
}

func bonusesFor(all []models.BonusEntry, userID uuid.UUID) []models.BonusEntry {
	var out []models.BonusEntry
	for _, b := range all {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out
}

func pointsFor(all []models.PointsEntry, userID uuid.UUID) []models.PointsEntry {
	var out []models.PointsEntry
	for _, p := range all {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

func sumBonus(entries []models.BonusEntry, typ string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Type == typ {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func assertDec(t *testing.T, what string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s: got %s, want %s", what, got, want)
	}
}

// ---------------------------------------------------------------------------
// 1. End-to-end chain A -> B -> C -> D, D activates $500
// ---------------------------------------------------------------------------

func TestActivate_EndToEndChain(t *testing.T) {
	h := newHarness(t)
	a := h.member(nil, 1000)
	b := h.member(&a, 1000)
	c := h.member(&b, 1000)
	d := h.store.AddUser(&c)
	h.store.SetBalance(d, dec(500))

	act, err := h.svc.Activate(context.Background(), d, "silver")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	assertDec(t, "cycle cap", act.CycleCap, dec(1500))
	if act.CycleStatus != models.CycleStatusActive {
		t.Errorf("cycle status: got %s, want active", act.CycleStatus)
	}
	assertDec(t, "activator balance", h.store.Balance(d), decimal.Zero)

	bonuses, points := h.store.Bonuses(), h.store.Points()

	cb := bonusesFor(bonuses, c)
	assertDec(t, "C indirect", sumBonus(cb, models.BonusTypeIndirect), dec(50))
	assertDec(t, "C direct", sumBonus(cb, models.BonusTypeDirect), decimal.Zero)
	if cp := pointsFor(points, c); len(cp) != 1 || !cp[0].Points.Equal(dec(250)) || cp[0].Level != 1 {
		t.Errorf("C points: got %+v, want one L1 row of 250", cp)
	}

	bb := bonusesFor(bonuses, b)
	assertDec(t, "B indirect", sumBonus(bb, models.BonusTypeIndirect), dec(5))
	assertDec(t, "B direct", sumBonus(bb, models.BonusTypeDirect), dec(50))
	if bp := pointsFor(points, b); len(bp) != 1 || !bp[0].Points.Equal(dec(125)) || bp[0].Level != 2 {
		t.Errorf("B points: got %+v, want one L2 row of 125", bp)
	}

	ab := bonusesFor(bonuses, a)
	assertDec(t, "A indirect", sumBonus(ab, models.BonusTypeIndirect), dec(5))
	assertDec(t, "A direct", sumBonus(ab, models.BonusTypeDirect), dec(50))
	if ap := pointsFor(points, a); len(ap) != 1 || !ap[0].Points.Equal(dec(62.5)) || ap[0].Level != 3 {
		t.Errorf("A points: got %+v, want one L3 row of 62.5", ap)
	}

	assertDec(t, "C balance", h.store.Balance(c), dec(50))
	assertDec(t, "B balance", h.store.Balance(b), dec(55))
	assertDec(t, "A balance", h.store.Balance(a), dec(55))

	if n := len(h.store.Rebates()); n != 0 {
		t.Errorf("rebates: got %d, want 0 (no sponsor has 500 points)", n)
	}
	for _, e := range bonuses {
		if e.UserID == d || e.SourceUserID != d || e.ActivationID != act.ID {
			t.Errorf("bonus row %+v: want owner != activator, source = activator", e)
		}
	}
	for _, e := range points {
		if e.UserID == d {
			t.Errorf("activator credited with own points: %+v", e)
		}
	}
}

// ---------------------------------------------------------------------------
// 2. Level bounds over a 12-deep chain
// ---------------------------------------------------------------------------

func TestActivate_LevelBounds(t *testing.T) {
	h := newHarness(t)
	var chain []uuid.UUID
	var sponsor *uuid.UUID
	for i := 0; i < 12; i++ {
		id := h.member(sponsor, 10000)
		chain = append(chain, id)
		sponsor = &chain[len(chain)-1]
	}
	activator := h.store.AddUser(sponsor)
	h.store.SetBalance(activator, dec(100))

	if _, err := h.svc.Activate(context.Background(), activator, "starter"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	indirect, direct := map[int]int{}, map[int]int{}
	for _, b := range h.store.Bonuses() {
		switch b.Type {
		case models.BonusTypeIndirect:
			indirect[b.Level]++
		case models.BonusTypeDirect:
			direct[b.Level]++
		}
	}
	for l := 1; l <= 10; l++ {
		if indirect[l] != 1 {
			t.Errorf("indirect level %d: got %d rows, want 1", l, indirect[l])
		}
	}
	for l := range indirect {
		if l < 1 || l > 10 {
			t.Errorf("indirect bonus at level %d", l)
		}
	}
	for l := 2; l <= 6; l++ {
		if direct[l] != 1 {
			t.Errorf("direct level %d: got %d rows, want 1", l, direct[l])
		}
	}
	if len(direct) != 5 {
		t.Errorf("direct levels: got %v, want exactly 2..6", direct)
	}
	pts := h.store.Points()
	if len(pts) != 10 {
		t.Fatalf("points rows: got %d, want 10", len(pts))
	}
	for _, p := range pts {
		if p.Level < 1 || p.Level > 10 {
			t.Errorf("points at level %d", p.Level)
		}
		assertDec(t, "points value", p.Points, PointsFor(dec(100), p.Level))
	}
	// The two users above level 10 receive nothing.
	for _, top := range chain[:2] {
		if n := len(bonusesFor(h.store.Bonuses(), top)); n != 0 {
			t.Errorf("user beyond level 10 got %d bonus rows", n)
		}
	}
	assertDec(t, "level 10 points", PointsFor(dec(100), 10), dec(0.09765625))
}

// ---------------------------------------------------------------------------
// 3. Validation errors and rollback
// ---------------------------------------------------------------------------

func TestActivate_InvalidPackage(t *testing.T) {
	h := newHarness(t)
	u := h.store.AddUser(nil)
	h.store.SetBalance(u, dec(1000))
	if _, err := h.svc.Activate(context.Background(), u, "mythic"); !errors.Is(err, ErrInvalidPackage) {
		t.Errorf("expected ErrInvalidPackage, got: %v", err)
	}
	assertDec(t, "balance", h.store.Balance(u), dec(1000))
}

func TestActivate_InsufficientFunds(t *testing.T) {
	h := newHarness(t)
	u := h.store.AddUser(nil)
	h.store.SetBalance(u, dec(99.99))
	if _, err := h.svc.Activate(context.Background(), u, "starter"); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got: %v", err)
	}
	assertDec(t, "balance", h.store.Balance(u), dec(99.99))
	if n := len(h.store.ActivationsOf(u)); n != 0 {
		t.Errorf("activations: got %d, want 0", n)
	}
}

func TestActivate_RollsBackOnStoreError(t *testing.T) {
	h := newHarness(t)
	a := h.member(nil, 1000)
	b := h.member(&a, 1000)
	d := h.store.AddUser(&b)
	h.store.SetBalance(d, dec(500))

	boom := errors.New("disk full")
	h.store.FailOn("InsertPoints", boom)

	if _, err := h.svc.Activate(context.Background(), d, "silver"); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got: %v", err)
	}
	assertDec(t, "activator balance", h.store.Balance(d), dec(500))
	assertDec(t, "sponsor balance", h.store.Balance(b), decimal.Zero)
	if n := len(h.store.ActivationsOf(d)); n != 0 {
		t.Errorf("activations after rollback: got %d, want 0", n)
	}
	if n := len(h.store.Bonuses()); n != 0 {
		t.Errorf("bonus rows after rollback: got %d, want 0", n)
	}

	h.store.FailOn("InsertPoints", nil)
	if _, err := h.svc.Activate(context.Background(), d, "silver"); err != nil {
		t.Fatalf("Activate after clearing failure: %v", err)
	}
	assertDec(t, "sponsor balance", h.store.Balance(b), dec(50))
}

func bonusCreditsCounted(t *testing.T) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "stakeladder_ledger_credits_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "kind" && lp.GetValue() == models.LedgerBonus {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestActivate_RollbackLeavesCreditCountersAlone(t *testing.T) {
	h := newHarness(t)
	a := h.member(nil, 1000)
	b := h.member(&a, 1000)
	d := h.store.AddUser(&b)
	h.store.SetBalance(d, dec(500))

	before := bonusCreditsCounted(t)
	h.store.FailOn("InsertPoints", errors.New("disk full"))
	if _, err := h.svc.Activate(context.Background(), d, "silver"); err == nil {
		t.Fatal("expected store error")
	}
	if got := bonusCreditsCounted(t); got != before {
		t.Errorf("bonus credits counted after rollback: got %v, want %v", got, before)
	}

	h.store.FailOn("InsertPoints", nil)
	if _, err := h.svc.Activate(context.Background(), d, "silver"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got := bonusCreditsCounted(t); got <= before {
		t.Errorf("bonus credits counted after commit: got %v, want more than %v", got, before)
	}
}

// ---------------------------------------------------------------------------
// 4. Cap: credit first, check second; nothing after completion
// ---------------------------------------------------------------------------

func TestActivate_CapOvershootThenBlocked(t *testing.T) {
	h := newHarness(t)
	s := h.member(nil, 100) // cap 300
	d1 := h.store.AddUser(&s)
	d2 := h.store.AddUser(&s)
	h.store.SetBalance(d1, dec(10000))
	h.store.SetBalance(d2, dec(100))

	if _, err := h.svc.Activate(context.Background(), d1, "elite"); err != nil {
		t.Fatalf("Activate d1: %v", err)
	}
	// The single L1 credit of 1000 lands in full, then the guard completes the cycle.
	assertDec(t, "sponsor balance", h.store.Balance(s), dec(1000))
	if st := h.store.User(s).Status; st != models.UserStatusCycleComplete {
		t.Errorf("sponsor status: got %s, want cycle_complete", st)
	}
	for _, a := range h.store.ActivationsOf(s) {
		if a.CycleStatus != models.CycleStatusComplete {
			t.Errorf("sponsor activation %s: got %s, want complete", a.ID, a.CycleStatus)
		}
	}

	if _, err := h.svc.Activate(context.Background(), d2, "starter"); err != nil {
		t.Fatalf("Activate d2: %v", err)
	}
	if n := len(bonusesFor(h.store.Bonuses(), s)); n != 1 {
		t.Errorf("sponsor bonus rows: got %d, want 1", n)
	}
	// Points are not capped.
	if n := len(pointsFor(h.store.Points(), s)); n != 2 {
		t.Errorf("sponsor points rows: got %d, want 2", n)
	}
	// 5000 + 50 points would allow rebates, but a completed sponsor earns none.
	if n := len(h.store.Rebates()); n != 0 {
		t.Errorf("rebates for completed sponsor: got %d, want 0", n)
	}
	assertDec(t, "sponsor balance", h.store.Balance(s), dec(1000))
}

func TestActivate_NoCreditWithoutSponsorActivation(t *testing.T) {
	h := newHarness(t)
	s := h.store.AddUser(nil)
	d := h.store.AddUser(&s)
	h.store.SetBalance(d, dec(100))

	if _, err := h.svc.Activate(context.Background(), d, "starter"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if n := len(h.store.Bonuses()); n != 0 {
		t.Errorf("bonus rows: got %d, want 0", n)
	}
	if n := len(h.store.Points()); n != 1 {
		t.Errorf("points rows: got %d, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// 5. Cycle re-entry
// ---------------------------------------------------------------------------

func TestActivate_ReentryReopensCycle(t *testing.T) {
	h := newHarness(t)
	u := h.member(nil, 100)
	act := h.store.ActivationsOf(u)[0]
	h.store.SeedReturn(u, act.ID, dec(300), h.now.Add(-time.Hour))
	if done, err := h.guard.Check(context.Background(), nil, u, nil); err != nil || !done {
		t.Fatalf("Check: done=%v err=%v, want done", done, err)
	}

	h.store.SetBalance(u, dec(1000))
	a, err := h.svc.Activate(context.Background(), u, "gold")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if st := h.store.User(u).Status; st != models.UserStatusActive {
		t.Errorf("status after re-entry: got %s, want active", st)
	}
	if a.CycleStatus != models.CycleStatusActive {
		t.Errorf("new activation: got %s, want active", a.CycleStatus)
	}
}

func TestActivate_ReentryBelowEarnedStaysComplete(t *testing.T) {
	h := newHarness(t)
	u := h.member(nil, 1000)
	act := h.store.ActivationsOf(u)[0]
	h.store.SeedReturn(u, act.ID, dec(3000), h.now.Add(-time.Hour))
	if _, err := h.guard.Check(context.Background(), nil, u, nil); err != nil {
		t.Fatalf("Check: %v", err)
	}

	h.store.SetBalance(u, dec(100))
	a, err := h.svc.Activate(context.Background(), u, "starter")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if st := h.store.User(u).Status; st != models.UserStatusCycleComplete {
		t.Errorf("status: got %s, want cycle_complete", st)
	}
	if a.CycleStatus != models.CycleStatusComplete {
		t.Errorf("new activation: got %s, want complete", a.CycleStatus)
	}
}
