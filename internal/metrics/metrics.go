package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	// Registry holds the application collectors served at /metrics.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeladder",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stakeladder",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	activations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeladder",
			Subsystem: "plan",
			Name:      "activations_total",
			Help:      "Package activations by package code.",
		},
		[]string{"package"},
	)

	ledgerCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeladder",
			Subsystem: "ledger",
			Name:      "credits_total",
			Help:      "Ledger rows written, by ledger kind.",
		},
		[]string{"kind"},
	)

	ledgerAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeladder",
			Subsystem: "ledger",
			Name:      "credited_amount_total",
			Help:      "Sum of amounts (points for the points ledger) written, by ledger kind.",
		},
		[]string{"kind"},
	)

	cycleCompletions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stakeladder",
			Subsystem: "plan",
			Name:      "cycle_completions_total",
			Help:      "Users flipped to cycle_complete by the cap guard.",
		},
	)

	workerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeladder",
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Background worker runs by worker and outcome.",
		},
		[]string{"worker", "outcome"},
	)

	workerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stakeladder",
			Subsystem: "worker",
			Name:      "run_duration_seconds",
			Help:      "Duration of background worker runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"worker"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stakeladder",
			Subsystem: "settlement",
			Name:      "transitions_total",
			Help:      "Deposit and withdrawal status transitions.",
		},
		[]string{"kind", "status"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		activations,
		ledgerCredits,
		ledgerAmount,
		cycleCompletions,
		workerRuns,
		workerDuration,
		settlements,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP request metrics.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func RecordActivation(packageCode string) {
	activations.WithLabelValues(packageCode).Inc()
}

// RecordCredit counts one ledger row of the given kind.
func RecordCredit(kind string, amount decimal.Decimal) {
	ledgerCredits.WithLabelValues(kind).Inc()
	ledgerAmount.WithLabelValues(kind).Add(amount.InexactFloat64())
}

func RecordCycleCompletion() {
	cycleCompletions.Inc()
}

// Batch holds ledger counter updates made inside a database transaction.
// Commit publishes them once the transaction has committed. A nil Batch
// discards everything.
type Batch struct {
	credits     []pendingCredit
	completions int
}

type pendingCredit struct {
	kind   string
	amount decimal.Decimal
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) Credit(kind string, amount decimal.Decimal) {
	if b == nil {
		return
	}
	b.credits = append(b.credits, pendingCredit{kind, amount})
}

func (b *Batch) CycleCompleted() {
	if b == nil {
		return
	}
	b.completions++
}

// Commit records the held updates and empties the batch.
func (b *Batch) Commit() {
	if b == nil {
		return
	}
	for _, c := range b.credits {
		RecordCredit(c.kind, c.amount)
	}
	for i := 0; i < b.completions; i++ {
		RecordCycleCompletion()
	}
	b.credits, b.completions = nil, 0
}

// RecordWorkerRun records one worker run. outcome is "ok", "error" or "skipped".
func RecordWorkerRun(worker, outcome string, duration time.Duration) {
	workerRuns.WithLabelValues(worker, outcome).Inc()
	if outcome != "skipped" {
		workerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	}
}

// RecordSettlement counts a deposit or withdrawal reaching status.
func RecordSettlement(kind, status string) {
	settlements.WithLabelValues(kind, status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath keeps label cardinality bounded by collapsing anything after /api/v1/<resource>.
func canonicalPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "v1" {
		if parts[2] == "admin" && len(parts) >= 4 {
			return "/api/v1/admin/" + parts[3]
		}
		return "/api/v1/" + parts[2]
	}
	if len(parts) > 0 && parts[0] != "" {
		return "/" + parts[0]
	}
	return "/"
}
