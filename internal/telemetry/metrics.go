// Package telemetry provides OpenTelemetry instrumentation for the job sync
// server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hirepath/jobsync-server/internal/model"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/hirepath/jobsync-server/internal/sync"

// SyncMetrics holds the OpenTelemetry instruments for sync run metrics
type SyncMetrics struct {
	runDuration metric.Float64Histogram
	runsTotal   metric.Int64Counter
	activeJobs  metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"jobsync_run_duration_seconds",
		metric.WithDescription("Duration of sync runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	runsTotal, err := meter.Int64Counter(
		"jobsync_runs_total",
		metric.WithDescription("Completed sync runs by status and trigger"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	activeJobs, err := meter.Int64Gauge(
		"jobsync_active_jobs",
		metric.WithDescription("Number of active job records after the last run"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		runDuration: runDuration,
		runsTotal:   runsTotal,
		activeJobs:  activeJobs,
	}, nil
}

// RecordRun records the outcome of a completed sync run.
func (m *SyncMetrics) RecordRun(
	ctx context.Context, run *model.ImportRun, duration time.Duration,
) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("status", string(run.Status)),
		attribute.String("trigger", string(run.Trigger)),
		attribute.String("mode", string(run.Mode)),
	}

	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.runsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordActiveJobs records the active job count observed after a run.
func (m *SyncMetrics) RecordActiveJobs(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.activeJobs.Record(ctx, count)
}
