package monitor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cloakgov/cloakgov/internal/config"
	"github.com/cloakgov/cloakgov/internal/model"
	"github.com/cloakgov/cloakgov/internal/queue"
	"github.com/cloakgov/cloakgov/internal/registry"
	"github.com/cloakgov/cloakgov/internal/telemetry"
)

func testMonitor(t *testing.T) (*Monitor, *queue.AdjustmentQueue) {
	t.Helper()
	cfg := &config.Config{
		MonitoringParameters: config.MonitoringParameters{
			MonitorIntervalSeconds:      1,
			AzureMonitorIntervalSeconds: 60,
		},
	}
	reg := registry.New(nil, nil, nil, nil, nil, "")
	q := queue.New(32)
	m := New(cfg, reg, nil, nil, q, telemetry.NewNoopClient(zap.NewNop()), zap.NewNop())
	return m, q
}

func TestAllocateCoresByPriorityGrantsDescendingOrder(t *testing.T) {
	m, q := testMonitor(t)
	procs := []*model.ManagedProcess{
		{PID: 1, Name: "a", Priority: 100},
		{PID: 2, Name: "b", Priority: 2},
	}

	m.allocateCoresByPriority(procs)

	task1, ok := q.Pop(context.Background())
	if !ok {
		t.Fatal("expected a task for the first process")
	}
	if task1.Process.PID != 1 {
		t.Errorf("first popped task pid = %d, want 1 (highest priority processed first)", task1.Process.PID)
	}
}

func TestAllocateCoresByPrioritySkipsNonPositivePriority(t *testing.T) {
	m, q := testMonitor(t)
	procs := []*model.ManagedProcess{{PID: 1, Priority: 0}}

	m.allocateCoresByPriority(procs)

	if q.Len() != 0 {
		t.Errorf("queue depth = %d, want 0 for a zero-priority process", q.Len())
	}
}

func TestEnqueueMonitoringTaskDedupesStrategies(t *testing.T) {
	m, q := testMonitor(t)
	p := &model.ManagedProcess{PID: 7}
	anomalies := []model.Anomaly{
		{Category: "cpu", Metric: "cpu_temp_c"},
		{Category: "cpu", Metric: "cpu_power_w"},
	}

	m.enqueueMonitoringTask(p, anomalies)

	task, ok := q.Pop(context.Background())
	if !ok {
		t.Fatal("expected a monitoring task to be enqueued")
	}
	if len(task.Strategies) != 1 || task.Strategies[0] != "cpu_load_throttle" {
		t.Errorf("strategies = %v, want [cpu_load_throttle]", task.Strategies)
	}
}

func TestEnqueueMonitoringTaskSkipsUnknownCategory(t *testing.T) {
	m, q := testMonitor(t)
	anomalies := []model.Anomaly{{Category: "disk"}}

	m.enqueueMonitoringTask(&model.ManagedProcess{PID: 1}, anomalies)

	if q.Len() != 0 {
		t.Errorf("queue depth = %d, want 0 for an unmapped anomaly category", q.Len())
	}
}

func TestIntervalElapsed(t *testing.T) {
	now := time.Now()
	if !intervalElapsed(time.Time{}, time.Minute, now) {
		t.Error("zero last timestamp must always elapse")
	}
	if intervalElapsed(now, time.Minute, now.Add(30*time.Second)) {
		t.Error("interval must not have elapsed after only half the duration")
	}
	if !intervalElapsed(now, time.Minute, now.Add(90*time.Second)) {
		t.Error("interval must have elapsed after 1.5x the duration")
	}
}
