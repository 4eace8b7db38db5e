package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordAttempt(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordAttempt("success", "", 0.2)
	m.RecordAttempt("failed", "gateway", 0.1)
	m.RecordAttempt("failed", "gateway", 0.1)

	if got := testutil.ToFloat64(m.PayoutAttemptsTotal.WithLabelValues("failed", "gateway")); got != 2 {
		t.Errorf("expected 2 failed attempts, got: %v", got)
	}
	if got := testutil.ToFloat64(m.PayoutAttemptsTotal.WithLabelValues("success", "")); got != 1 {
		t.Errorf("expected 1 successful attempt, got: %v", got)
	}
}

func TestMetrics_RecordRun(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordRun("cron", nil, 3, 1, 2, 1.5, 1700000000)
	m.RecordRun("cron", errors.New("store down"), 0, 0, 0, 0.1, 1700000100)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("cron", "ok")); got != 1 {
		t.Errorf("expected 1 ok run, got: %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("cron", "error")); got != 1 {
		t.Errorf("expected 1 failed run, got: %v", got)
	}
	if got := testutil.ToFloat64(m.RunItemsTotal.WithLabelValues("success")); got != 3 {
		t.Errorf("expected 3 completed items, got: %v", got)
	}
	if got := testutil.ToFloat64(m.RunLastSuccessTS); got != 1700000000 {
		t.Errorf("expected last success timestamp to ignore failed run, got: %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	m.RecordAttempt("success", "", 1)
	m.RecordDisbursed("INR", 100)
	m.RecordRun("cron", nil, 0, 0, 0, 0, 0)
	m.RecordGatewayRequest("http", "ok", 1)
	m.RecordRecipientResolution("ok")
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	NewMetrics("", prometheus.NewRegistry())
	NewMetrics("", prometheus.NewRegistry())
}
