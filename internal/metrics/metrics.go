// Package metrics 定义回调、打款与巡检的业务指标。
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics 业务指标集合，nil 接收者上的调用均为空操作
type Metrics struct {
	webhookEventsTotal     metric.Int64Counter
	payoutAttemptsTotal    metric.Int64Counter
	payoutTransferDuration metric.Float64Histogram
	sweepRunsTotal         metric.Int64Counter
	sweepDuration          metric.Float64Histogram
}

// NewMetrics 在给定 Meter 上注册指标
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.webhookEventsTotal, err = meter.Int64Counter(
		"webhook_events_total",
		metric.WithDescription("Webhook events received by provider, kind and result"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook_events_total counter: %w", err)
	}

	m.payoutAttemptsTotal, err = meter.Int64Counter(
		"payout_attempts_total",
		metric.WithDescription("Commission payout attempts by provider and result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payout_attempts_total counter: %w", err)
	}

	m.payoutTransferDuration, err = meter.Float64Histogram(
		"payout_transfer_duration_seconds",
		metric.WithDescription("Duration of gateway transfer calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payout_transfer_duration histogram: %w", err)
	}

	m.sweepRunsTotal, err = meter.Int64Counter(
		"reconcile_sweeps_total",
		metric.WithDescription("Reconciliation sweeps by trigger and result"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconcile_sweeps_total counter: %w", err)
	}

	m.sweepDuration, err = meter.Float64Histogram(
		"reconcile_sweep_duration_seconds",
		metric.WithDescription("Duration of reconciliation sweeps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconcile_sweep_duration histogram: %w", err)
	}
	return m, nil
}

// NewNoop 返回不上报的指标集合
func NewNoop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	if err != nil {
		return nil
	}
	return m
}

// RecordWebhookEvent 记录一次回调处理
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, kind, result string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

// RecordPayoutAttempt 记录一次打款尝试
func (m *Metrics) RecordPayoutAttempt(ctx context.Context, provider, result string) {
	if m == nil {
		return
	}
	m.payoutAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", result),
	))
}

// RecordTransferDuration 记录网关转账耗时
func (m *Metrics) RecordTransferDuration(ctx context.Context, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.payoutTransferDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordSweep 记录一次对账巡检
func (m *Metrics) RecordSweep(ctx context.Context, trigger string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "error"
	}
	m.sweepRunsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("result", result),
	))
	m.sweepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("trigger", trigger),
	))
}
