package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payout service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Attempt metrics
	PayoutAttemptsTotal   *prometheus.CounterVec
	PayoutAttemptDuration *prometheus.HistogramVec
	PayoutAmountMinor     *prometheus.CounterVec

	// Run metrics
	RunsTotal        *prometheus.CounterVec
	RunItemsTotal    *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RunLastSuccessTS prometheus.Gauge

	// Gateway metrics
	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec

	// Recipient metrics
	RecipientResolutionsTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "payout_service"
	}

	factory := promauto.With(reg)

	return &Metrics{
		PayoutAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payout_attempts_total",
				Help:      "Total number of payout processing attempts by outcome",
			},
			[]string{"outcome", "reason"},
		),

		PayoutAttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payout_attempt_duration_seconds",
				Help:      "Duration of payout processing attempts in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"outcome"},
		),

		PayoutAmountMinor: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payout_disbursed_minor_total",
				Help:      "Total net amount disbursed in minor currency units",
			},
			[]string{"currency"},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of due-payout runs",
			},
			[]string{"trigger", "status"},
		),

		RunItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_items_total",
				Help:      "Total number of payouts handled by runs",
			},
			[]string{"outcome"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of due-payout runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),

		RunLastSuccessTS: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_last_success_timestamp_seconds",
				Help:      "Unix time of the last run that completed without a store error",
			},
		),

		GatewayRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of disbursement calls to the gateway",
			},
			[]string{"gateway", "status"},
		),

		GatewayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Duration of disbursement calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"gateway"},
		),

		RecipientResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipient_resolutions_total",
				Help:      "Total number of recipient resolutions",
			},
			[]string{"status"},
		),
	}
}

// RecordAttempt records the outcome of one payout attempt
func (m *Metrics) RecordAttempt(outcome, reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.PayoutAttemptsTotal.WithLabelValues(outcome, reason).Inc()
	m.PayoutAttemptDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordDisbursed adds a completed payout's net amount
func (m *Metrics) RecordDisbursed(currency string, amountMinor int64) {
	if m == nil {
		return
	}
	m.PayoutAmountMinor.WithLabelValues(currency).Add(float64(amountMinor))
}

// RecordRun records a finished run and its per-outcome counts
func (m *Metrics) RecordRun(trigger string, err error, completed, failed, skipped int, durationSeconds float64, finishedAtUnix float64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(trigger, status).Inc()
	m.RunDuration.Observe(durationSeconds)
	if err != nil {
		return
	}
	m.RunItemsTotal.WithLabelValues("success").Add(float64(completed))
	m.RunItemsTotal.WithLabelValues("failed").Add(float64(failed))
	m.RunItemsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.RunLastSuccessTS.Set(finishedAtUnix)
}

// RecordGatewayRequest records a disbursement call
func (m *Metrics) RecordGatewayRequest(gateway, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.GatewayRequestsTotal.WithLabelValues(gateway, status).Inc()
	m.GatewayRequestDuration.WithLabelValues(gateway).Observe(durationSeconds)
}

// RecordRecipientResolution records a recipient resolution result
func (m *Metrics) RecordRecipientResolution(status string) {
	if m == nil {
		return
	}
	m.RecipientResolutionsTotal.WithLabelValues(status).Inc()
}
