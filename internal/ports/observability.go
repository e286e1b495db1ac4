package ports

import "context"

// MetricsCollector records quantitative observability signals. Standard
// metric names include:
//   - Counters:
//     tuner_audit_executions_total{status="succeeded|failed|cancelled|rejected"}
//     tuner_strategy_phase_failures_total{strategy="...", phase="..."}
//     tuner_actions_planned_total{action_type="..."}
//   - Gauges:
//     tuner_audit_active_executions
//   - Histograms:
//     tuner_audit_execution_duration_seconds
//     tuner_strategy_phase_duration_seconds{strategy="...", phase="..."}
type MetricsCollector interface {
	IncCounter(ctx context.Context, name string, labels map[string]string)
	AddGauge(ctx context.Context, name string, delta float64, labels map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string)
}

// Metric names shared by the engine and its adapters.
const (
	MetricAuditExecutions   = "tuner_audit_executions_total"
	MetricPhaseFailures     = "tuner_strategy_phase_failures_total"
	MetricActionsPlanned    = "tuner_actions_planned_total"
	MetricActiveExecutions  = "tuner_audit_active_executions"
	MetricExecutionDuration = "tuner_audit_execution_duration_seconds"
	MetricPhaseDuration     = "tuner_strategy_phase_duration_seconds"
)
