package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

func TestCollectorRecordsCounters(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	c.IncCounter(ctx, ports.MetricAuditExecutions, map[string]string{LabelStatus: "succeeded"})
	c.IncCounter(ctx, ports.MetricAuditExecutions, map[string]string{LabelStatus: "succeeded"})
	c.IncCounter(ctx, ports.MetricAuditExecutions, map[string]string{LabelStatus: "failed"})
	c.IncCounter(ctx, "unknown_metric", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.counters[ports.MetricAuditExecutions].WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.counters[ports.MetricAuditExecutions].WithLabelValues("failed")))
}

func TestCollectorGaugeAndHistogram(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	c.AddGauge(ctx, ports.MetricActiveExecutions, 1, nil)
	c.AddGauge(ctx, ports.MetricActiveExecutions, 1, nil)
	c.AddGauge(ctx, ports.MetricActiveExecutions, -1, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gauges[ports.MetricActiveExecutions].WithLabelValues()))

	c.ObserveHistogram(ctx, ports.MetricPhaseDuration, 0.2, map[string]string{LabelStrategy: "dummy", LabelPhase: "do_execute"})
	assert.Equal(t, 1, testutil.CollectAndCount(c.histograms[ports.MetricPhaseDuration]))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.IncCounter(context.Background(), ports.MetricActionsPlanned, map[string]string{LabelActionType: "migrate"})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tuner_actions_planned_total{action_type="migrate"} 1`)
	assert.Contains(t, c.Names(), ports.MetricPhaseFailures)
}
