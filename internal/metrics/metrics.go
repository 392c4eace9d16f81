package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the checkout engine.
type Metrics struct {
	// Reservation metrics
	ReservationsTotal   *prometheus.CounterVec
	ReservationsExpired prometheus.Counter
	ReservationDuration *prometheus.HistogramVec
	ActiveReservations  prometheus.Gauge

	// Payment / deposit metrics
	PaymentsTotal          *prometheus.CounterVec
	PaymentAmountEURTotal  prometheus.Counter
	DepositClassifications *prometheus.CounterVec
	SettlementDuration     *prometheus.HistogramVec

	// Wallet sweep metrics
	SweepsTotal      *prometheus.CounterVec
	SweepAmountTotal prometheus.Counter
	CorruptKeysTotal prometheus.Counter

	// RPC call metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Ledger metrics
	LedgerMutationsTotal *prometheus.CounterVec
	CompensationsTotal   *prometheus.CounterVec

	// Oracle cache metrics
	OracleCacheHitsTotal  *prometheus.CounterVec
	OracleRefreshTotal    *prometheus.CounterVec
	OracleCurrentPriceEUR prometheus.Gauge

	// Scheduler job metrics
	SchedulerJobRunsTotal *prometheus.CounterVec
	SchedulerJobFailures  *prometheus.CounterVec
	SchedulerJobDuration  *prometheus.HistogramVec

	// Messenger delivery metrics
	MessagesTotal       *prometheus.CounterVec
	MessageRetriesTotal *prometheus.CounterVec
	MessageDuration     *prometheus.HistogramVec

	// Webhook ingress metrics
	WebhookRequestsTotal *prometheus.CounterVec
	RateLimitHitsTotal   *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Reservation metrics
		ReservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_reservations_total",
				Help: "Total number of basket reservations created",
			},
			[]string{"status"},
		),
		ReservationsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkout_reservations_expired_total",
				Help: "Total number of reservations expired by the scheduler",
			},
		),
		ReservationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_reservation_duration_seconds",
				Help:    "Time from reservation creation to finalize or expiry",
				Buckets: []float64{5, 15, 30, 60, 300, 600, 1200, 1800},
			},
			[]string{"outcome"},
		),
		ActiveReservations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "checkout_active_reservations",
				Help: "Current number of unexpired basket reservations",
			},
		),

		// Payment / deposit metrics
		PaymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_payments_total",
				Help: "Total number of finalized payments",
			},
			[]string{"status"},
		),
		PaymentAmountEURTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkout_payment_amount_eur_cents_total",
				Help: "Total settled payment amount in EUR cents",
			},
		),
		DepositClassifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_deposit_classifications_total",
				Help: "Total number of scanned deposits by classification",
			},
			[]string{"classification"},
		),
		SettlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_settlement_duration_seconds",
				Help:    "Time from deposit detection to ledger settlement",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"network"},
		),

		// Wallet sweep metrics
		SweepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_sweeps_total",
				Help: "Total number of ephemeral wallet sweep attempts",
			},
			[]string{"status"},
		),
		SweepAmountTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkout_sweep_amount_lamports_total",
				Help: "Total lamports swept to the treasury wallet",
			},
		),
		CorruptKeysTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkout_corrupt_keys_total",
				Help: "Total number of ephemeral wallets flagged with corrupt key material",
			},
		),

		// RPC call metrics
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_rpc_calls_total",
				Help: "Total number of RPC calls to the Solana cluster",
			},
			[]string{"method", "network"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_rpc_call_duration_seconds",
				Help:    "Duration of RPC calls to the Solana cluster (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "network"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_rpc_errors_total",
				Help: "Total number of RPC errors",
			},
			[]string{"method", "network", "error_type"},
		),

		// Ledger metrics
		LedgerMutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_ledger_mutations_total",
				Help: "Total number of ledger credit/debit entries",
			},
			[]string{"direction"},
		),
		CompensationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_compensations_total",
				Help: "Total number of debit-then-finalize compensation events",
			},
			[]string{"status"},
		),

		// Oracle cache metrics
		OracleCacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_oracle_cache_hits_total",
				Help: "Total number of price lookups served by cache layer",
			},
			[]string{"layer"},
		),
		OracleRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_oracle_refresh_total",
				Help: "Total number of background price refresh attempts",
			},
			[]string{"status"},
		),
		OracleCurrentPriceEUR: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "checkout_oracle_current_price_eur_per_sol",
				Help: "Most recently accepted EUR per SOL price",
			},
		),

		// Scheduler job metrics
		SchedulerJobRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_scheduler_job_runs_total",
				Help: "Total number of scheduled job executions",
			},
			[]string{"job"},
		),
		SchedulerJobFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_scheduler_job_failures_total",
				Help: "Total number of scheduled job executions that returned an error",
			},
			[]string{"job"},
		),
		SchedulerJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_scheduler_job_duration_seconds",
				Help:    "Duration of scheduled job executions",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"job"},
		),

		// Messenger delivery metrics
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_messages_total",
				Help: "Total number of outbound messenger deliveries",
			},
			[]string{"kind", "status"},
		),
		MessageRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_message_retries_total",
				Help: "Total number of outbound messenger retry attempts",
			},
			[]string{"kind"},
		),
		MessageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_message_duration_seconds",
				Help:    "Time taken to deliver a message",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		),

		// Webhook ingress metrics
		WebhookRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_webhook_requests_total",
				Help: "Total number of inbound webhook requests",
			},
			[]string{"status"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "checkout_db_connections_active",
				Help: "Number of active database connections",
			},
		),
	}
}

// ObserveReservation records a basket reservation creation outcome.
func (m *Metrics) ObserveReservation(status string) {
	m.ReservationsTotal.WithLabelValues(status).Inc()
}

// ObserveReservationOutcome records how long a reservation lived before
// finalizing or expiring.
func (m *Metrics) ObserveReservationOutcome(outcome string, duration time.Duration) {
	m.ReservationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "expired" {
		m.ReservationsExpired.Inc()
	}
}

// ObservePayment records a finalized payment and its settled amount.
func (m *Metrics) ObservePayment(status string, amountEURCents int64) {
	m.PaymentsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.PaymentAmountEURTotal.Add(float64(amountEURCents))
	}
}

// ObserveDepositClassification records a scanned deposit's classification
// (exact, overpaid, underpaid, expired).
func (m *Metrics) ObserveDepositClassification(classification string) {
	m.DepositClassifications.WithLabelValues(classification).Inc()
}

// ObserveSettlement records deposit-to-ledger settlement time.
func (m *Metrics) ObserveSettlement(network string, duration time.Duration) {
	m.SettlementDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveSweep records an ephemeral wallet sweep attempt.
func (m *Metrics) ObserveSweep(status string, lamports int64, corruptKey bool) {
	m.SweepsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.SweepAmountTotal.Add(float64(lamports))
	}
	if corruptKey {
		m.CorruptKeysTotal.Inc()
	}
}

// ObserveRPCCall records an RPC call to the Solana cluster.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(method, network).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())

	if err != nil {
		errorType := "unknown"
		if errStr := err.Error(); errStr != "" {
			switch {
			case contains(errStr, "timeout"):
				errorType = "timeout"
			case contains(errStr, "rate limit"):
				errorType = "rate_limit"
			case contains(errStr, "connection"):
				errorType = "connection"
			case contains(errStr, "not found"):
				errorType = "not_found"
			default:
				errorType = "other"
			}
		}
		m.RPCErrorsTotal.WithLabelValues(method, network, errorType).Inc()
	}
}

// ObserveLedgerMutation records a ledger credit or debit.
func (m *Metrics) ObserveLedgerMutation(direction string) {
	m.LedgerMutationsTotal.WithLabelValues(direction).Inc()
}

// ObserveCompensation records a debit-then-finalize compensation event.
func (m *Metrics) ObserveCompensation(status string) {
	m.CompensationsTotal.WithLabelValues(status).Inc()
}

// ObserveOracleCacheHit records which cache layer served a price lookup
// (memory, persistent, upstream, stale).
func (m *Metrics) ObserveOracleCacheHit(layer string) {
	m.OracleCacheHitsTotal.WithLabelValues(layer).Inc()
}

// ObserveOracleRefresh records a background price refresh attempt and, on
// success, the accepted price.
func (m *Metrics) ObserveOracleRefresh(status string, priceEURPerSOL float64) {
	m.OracleRefreshTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.OracleCurrentPriceEUR.Set(priceEURPerSOL)
	}
}

// ObserveSchedulerJob records a scheduled job execution.
func (m *Metrics) ObserveSchedulerJob(job string, duration time.Duration, err error) {
	m.SchedulerJobRunsTotal.WithLabelValues(job).Inc()
	m.SchedulerJobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.SchedulerJobFailures.WithLabelValues(job).Inc()
	}
}

// ObserveMessage records an outbound messenger delivery.
func (m *Metrics) ObserveMessage(kind, status string, duration time.Duration, attempt int) {
	m.MessagesTotal.WithLabelValues(kind, status).Inc()
	m.MessageDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if attempt > 1 {
		m.MessageRetriesTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveWebhookRequest records an inbound webhook request outcome.
func (m *Metrics) ObserveWebhookRequest(status string) {
	m.WebhookRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// Helper functions
func contains(s, substr string) bool {
	return len(s) >= len(substr) && s[:len(substr)] == substr ||
		len(s) > len(substr) && contains(s[1:], substr)
}
