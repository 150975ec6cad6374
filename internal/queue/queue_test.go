package queue

import (
	"testing"
	"time"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
)

func TestTaskPayloadRoundTrip(t *testing.T) {
	task, err := NewCommissionPayoutTask(CommissionPayoutPayload{CommissionID: 7, Trigger: constants.PayoutTriggerTask})
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	if task.Type() != TaskCommissionPayout {
		t.Fatalf("unexpected task type: %s", task.Type())
	}
	var payload CommissionPayoutPayload
	if err := DecodePayload(task, &payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.CommissionID != 7 || payload.Trigger != constants.PayoutTriggerTask {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDisabledClientIsNoop(t *testing.T) {
	client, err := NewClient(&config.QueueConfig{Enabled: false})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if client.Enabled() {
		t.Fatalf("client should be disabled")
	}
	if err := client.EnqueueOrderPaidNotify(OrderPaidNotifyPayload{OrderID: 1}); err != nil {
		t.Fatalf("disabled enqueue should be noop: %v", err)
	}
	if err := client.EnqueueCommissionPayout(CommissionPayoutPayload{CommissionID: 1}); err != nil {
		t.Fatalf("disabled enqueue should be noop: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close should be noop: %v", err)
	}
}

func TestBuildServerConfigDefaults(t *testing.T) {
	opt, cfg := BuildServerConfig(&config.QueueConfig{Host: "redis", Port: 6380})
	if opt.Addr != "redis:6380" {
		t.Fatalf("unexpected addr: %s", opt.Addr)
	}
	if cfg.Queues[CriticalQueue] <= cfg.Queues[DefaultQueue] {
		t.Fatalf("critical queue should have higher priority: %v", cfg.Queues)
	}
	if cfg.Concurrency != 10 {
		t.Fatalf("unexpected concurrency: %d", cfg.Concurrency)
	}
}

func TestSchedulerDisabledWithoutQueue(t *testing.T) {
	scheduler, err := NewScheduler(&config.QueueConfig{Enabled: false}, config.ReconcileConfig{Cron: "@every 15m"})
	if err != nil || scheduler != nil {
		t.Fatalf("expected nil scheduler, got %v %v", scheduler, err)
	}
}

func TestSweepUniqueWindow(t *testing.T) {
	if got := sweepUniqueWindow("@every 15m"); got != 15*time.Minute-time.Second {
		t.Fatalf("unexpected window: %s", got)
	}
	if got := sweepUniqueWindow("*/5 * * * *"); got != time.Minute {
		t.Fatalf("unexpected window for cron: %s", got)
	}
}

func TestEveryInterval(t *testing.T) {
	cases := []struct {
		spec string
		want time.Duration
		ok   bool
	}{
		{spec: "@every 30s", want: 30 * time.Second, ok: true},
		{spec: " @every 1h ", want: time.Hour, ok: true},
		{spec: "@every soon"},
		{spec: "@every -5m"},
		{spec: "0 * * * *"},
	}
	for _, tc := range cases {
		got, ok := EveryInterval(tc.spec)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("EveryInterval(%q) = %s %v, want %s %v", tc.spec, got, ok, tc.want, tc.ok)
		}
	}
}
