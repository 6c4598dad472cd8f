package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ledger_recon_"

	resultSuccess = "success"
	resultError   = "error"
	resultDryRun  = "dry_run"
)

var (
	registerOnce sync.Once

	ingestRuns    *prometheus.CounterVec
	ingestRows    *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec

	statementImports *prometheus.CounterVec

	reconListings       *prometheus.CounterVec
	reconListingLatency *prometheus.HistogramVec
	reconConfirms       *prometheus.CounterVec
	reconSettled        prometheus.Counter
	reconSettleFailures prometheus.Counter

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers service metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_runs_total",
				Help: "Total ledger ingestion runs by result",
			},
			[]string{"result"},
		)
		ingestRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rows_total",
				Help: "Ledger rows by ingestion outcome",
			},
			[]string{"outcome"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ledger ingestion latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		statementImports = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_imports_total",
				Help: "Total payout report and bank statement imports by kind and result",
			},
			[]string{"kind", "result"},
		)

		reconListings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "listings_total",
				Help: "Total reconciliation listings by kind and result",
			},
			[]string{"kind", "result"},
		)
		reconListingLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "listing_latency_seconds",
				Help:    "Reconciliation listing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		)
		reconConfirms = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "confirms_total",
				Help: "Total confirm requests by outcome",
			},
			[]string{"outcome"},
		)
		reconSettled = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "bookings_settled_total",
				Help: "Bookings flipped to paid by auto-settle",
			},
		)
		reconSettleFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "settle_failures_total",
				Help: "Auto-settle batches rolled back",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total listing exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Listing export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		)

		prometheus.MustRegister(
			ingestRuns,
			ingestRows,
			ingestLatency,
			statementImports,
			reconListings,
			reconListingLatency,
			reconConfirms,
			reconSettled,
			reconSettleFailures,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IngestRows holds per-outcome row counts of one run.
type IngestRows struct {
	Inserted      int
	Duplicates    int
	Superseded    int
	NoDate        int
	UnparsedDates int
}

// ObserveIngest records one ingestion run.
func ObserveIngest(result string, rows IngestRows, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRuns != nil {
		ingestRuns.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if ingestRows == nil || result == resultDryRun {
		return
	}
	ingestRows.WithLabelValues("inserted").Add(float64(rows.Inserted))
	ingestRows.WithLabelValues("duplicate").Add(float64(rows.Duplicates))
	ingestRows.WithLabelValues("superseded").Add(float64(rows.Superseded))
	ingestRows.WithLabelValues("no_date").Add(float64(rows.NoDate))
	ingestRows.WithLabelValues("unparsed_date").Add(float64(rows.UnparsedDates))
}

// IncStatementImport increments the statement import counter. kind is
// "payouts" or "bank".
func IncStatementImport(kind, result string) {
	if result == "" {
		result = resultSuccess
	}
	if statementImports != nil {
		statementImports.WithLabelValues(kind, result).Inc()
	}
}

// ObserveListing records a reconciliation listing.
func ObserveListing(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reconListings != nil {
		reconListings.WithLabelValues(kind, result).Inc()
	}
	if reconListingLatency != nil {
		reconListingLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// IncConfirm increments the confirm counter.
func IncConfirm(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if reconConfirms != nil {
		reconConfirms.WithLabelValues(outcome).Inc()
	}
}

// AddSettled adds bookings flipped to paid.
func AddSettled(count int) {
	if count <= 0 {
		return
	}
	if reconSettled != nil {
		reconSettled.Add(float64(count))
	}
}

// IncSettleFailure counts a rolled back settle batch.
func IncSettleFailure() {
	if reconSettleFailures != nil {
		reconSettleFailures.Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultDryRun  = resultDryRun
)
