// Package monitor runs the periodic sampling-and-threshold loop: one of
// the four parallel workers the teacher's orchestrator pattern
// generalizes into (monitor, optimizer, cloak-intake, executor all run
// as independent goroutines rather than a single diagnostic pass).
package monitor

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/cloakgov/cloakgov/internal/adapter"
	"github.com/cloakgov/cloakgov/internal/config"
	"github.com/cloakgov/cloakgov/internal/model"
	"github.com/cloakgov/cloakgov/internal/queue"
	"github.com/cloakgov/cloakgov/internal/registry"
	"github.com/cloakgov/cloakgov/internal/telemetry"
)

// Monitor samples every supervised process on a fixed tick, allocates
// CPU cores by descending priority, checks node-wide thermal/power
// thresholds, and gates an external telemetry pull behind its own
// slower interval.
type Monitor struct {
	cfg       *config.Config
	reg       *registry.Registry
	sensors   *adapter.Sensors
	gpu       *adapter.GPU
	q         *queue.AdjustmentQueue
	telemetry telemetry.Client
	log       *zap.Logger

	lastTelemetryPull time.Time
	thresholds        []model.Threshold
}

// New constructs a Monitor. gpu may be nil on a CPU-only host, in which
// case GPU temperature/power readings are skipped.
func New(cfg *config.Config, reg *registry.Registry, sensors *adapter.Sensors, gpu *adapter.GPU, q *queue.AdjustmentQueue, tel telemetry.Client, log *zap.Logger) *Monitor {
	return &Monitor{cfg: cfg, reg: reg, sensors: sensors, gpu: gpu, q: q, telemetry: tel, log: log, thresholds: model.DefaultThresholds()}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.MonitoringParameters.MonitorIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if err := m.reg.Discover(ctx); err != nil {
		m.log.Error("process discovery failed", zap.Error(err))
	}
	m.reg.UpdateAll(ctx)

	procs := m.reg.Snapshot()
	m.allocateCoresByPriority(procs)

	env := m.sampleEnvelope()
	anomalies := model.DetectAnomalies(env, m.thresholds)
	if len(anomalies) > 0 {
		m.log.Warn("threshold breach detected", zap.Int("anomaly_count", len(anomalies)))
		for _, p := range procs {
			m.enqueueMonitoringTask(p, anomalies)
		}
	}

	now := time.Now()
	if intervalElapsed(m.lastTelemetryPull, time.Duration(m.cfg.MonitoringParameters.AzureMonitorIntervalSeconds)*time.Second, now) {
		if err := m.telemetry.PullMetrics(ctx); err != nil {
			m.log.Error("telemetry pull failed", zap.Error(err))
		}
		m.lastTelemetryPull = now
	}
}

// allocateCoresByPriority grants each process min(its declared
// Priority, the cores still unclaimed), processing the descending
// -priority-sorted snapshot in order so higher-priority processes claim
// first (S5). Once cores run out, every remaining process is logged
// and skipped rather than granted zero silently.
func (m *Monitor) allocateCoresByPriority(procs []*model.ManagedProcess) {
	remaining := runtime.NumCPU()
	for _, p := range procs {
		if p.Priority <= 0 {
			continue
		}
		if remaining <= 0 {
			m.log.Warn("no more cores to allocate", zap.Int("pid", p.PID), zap.String("name", p.Name))
			continue
		}
		grant := p.Priority
		if grant > remaining {
			grant = remaining
		}
		remaining -= grant
		m.enqueueCPUThreads(p, grant)
	}
}

func (m *Monitor) enqueueCPUThreads(p *model.ManagedProcess, threads int) {
	m.q.Push(&model.AdjustmentTask{
		Kind:     model.TaskFunctionCall,
		Priority: model.PriorityMonitoring,
		Process:  p,
		Function: model.KnobCPUThreads,
		Args:     []any{threads},
	})
}

func (m *Monitor) sampleEnvelope() model.NodeEnvelope {
	env := model.NodeEnvelope{SampledAt: time.Now()}
	if m.sensors != nil {
		if v, err := m.sensors.CPUTempC(); err == nil {
			env.CPUTempC = v
		}
		if v, err := m.sensors.CPUPowerW(); err == nil {
			env.CPUPowerW = v
		}
	}
	if m.gpu != nil {
		if v, err := m.gpu.TempC(); err == nil {
			env.GPUTempC = v
		}
		if v, err := m.gpu.PowerW(); err == nil {
			env.GPUPowerW = v
		}
	}
	return env
}

// enqueueMonitoringTask cloaks p using the strategy matching each
// breached category (cpu temp/power -> cpu_load_throttle, gpu -> gpu),
// deduplicated, at monitoring priority.
func (m *Monitor) enqueueMonitoringTask(p *model.ManagedProcess, anomalies []model.Anomaly) {
	seen := make(map[string]bool)
	var strategies []string
	for _, a := range anomalies {
		name := strategyForCategory(a.Category)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		strategies = append(strategies, name)
	}
	if len(strategies) == 0 {
		return
	}
	m.q.Push(&model.AdjustmentTask{
		Kind:       model.TaskMonitoring,
		Priority:   model.PriorityMonitoring,
		Process:    p,
		Strategies: strategies,
	})
}

func strategyForCategory(category string) string {
	switch category {
	case "cpu":
		return "cpu_load_throttle"
	case "gpu":
		return "gpu"
	default:
		return ""
	}
}

// intervalElapsed reports whether interval has passed since last,
// mirroring the original's should_collect_azure_monitor_data timestamp
// gate. A zero last always elapses, so the first tick always pulls.
func intervalElapsed(last time.Time, interval time.Duration, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= interval
}
