package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/api/v1/wallet":               "/api/v1/wallet",
		"/api/v1/admin/accrual/run":    "/api/v1/admin/accrual",
		"/api/v1/withdrawals/abc/more": "/api/v1/withdrawals",
		"/healthz":                     "/healthz",
		"/":                            "/",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestExposition(t *testing.T) {
	RecordCredit("award", decimal.NewFromInt(25))
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `stakeladder_http_requests_total{method="GET",path="/api/v1/wallet",status="418"}`) {
		t.Error("expected the instrumented request in the exposition output")
	}
	if !strings.Contains(rec.Body.String(), `stakeladder_ledger_credits_total{kind="award"}`) {
		t.Error("expected award credits in the exposition output")
	}
}

func counterValue(t *testing.T, name, kind string) float64 {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := kind == ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "kind" && lp.GetValue() == kind {
					match = true
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestBatch_RecordsOnlyOnCommit(t *testing.T) {
	before := counterValue(t, "stakeladder_ledger_credits_total", "rebate")
	completedBefore := counterValue(t, "stakeladder_plan_cycle_completions_total", "")

	b := NewBatch()
	b.Credit("rebate", decimal.NewFromInt(40))
	b.Credit("rebate", decimal.NewFromInt(40))
	b.CycleCompleted()
	if got := counterValue(t, "stakeladder_ledger_credits_total", "rebate"); got != before {
		t.Fatalf("credits before commit: got %v, want %v", got, before)
	}

	b.Commit()
	if got := counterValue(t, "stakeladder_ledger_credits_total", "rebate"); got != before+2 {
		t.Errorf("credits after commit: got %v, want %v", got, before+2)
	}
	if got := counterValue(t, "stakeladder_plan_cycle_completions_total", ""); got != completedBefore+1 {
		t.Errorf("completions after commit: got %v, want %v", got, completedBefore+1)
	}

	b.Commit()
	if got := counterValue(t, "stakeladder_ledger_credits_total", "rebate"); got != before+2 {
		t.Errorf("second commit re-recorded: got %v, want %v", got, before+2)
	}

	var discard *Batch
	discard.Credit("rebate", decimal.NewFromInt(1))
	discard.Commit()
}
