// Package executor runs the single goroutine that is the only writer
// of OS-level resource state and of OriginalLimits, draining tasks from
// the priority queue in strict (Priority, Seq) order. It replaces the
// teacher's BCC-tool executor entirely: the domain here is adjusting
// Linux resource knobs, not launching bcc/bpftrace subprocesses, but the
// single-consumer loop shape and the knob-dispatch table built once at
// construction both come from the teacher's internal/executor package.
package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloakgov/cloakgov/internal/adapter"
	"github.com/cloakgov/cloakgov/internal/cloakerr"
	"github.com/cloakgov/cloakgov/internal/model"
	"github.com/cloakgov/cloakgov/internal/queue"
	"github.com/cloakgov/cloakgov/internal/strategy"
)

// Adapters bundles every OS adapter the executor's dispatch table calls
// into. Any field may be nil on a host lacking that capability (no GPU,
// no cgroup v2); the affected knobs then fail with ErrAdapterPermanent
// and are logged, never retried internally.
type Adapters struct {
	CPU     *adapter.CPU
	IONice  *adapter.IONice
	GPU     *adapter.GPU
	Network *adapter.Network
	Cgroup  *adapter.Cgroup
	DiskIO  *adapter.DiskIO
	Cache   *adapter.Cache
}

// knobFunc applies one knob's value to a pid, returning the prior value
// (for OriginalLimits) and any error.
type knobFunc func(e *Executor, ctx context.Context, pid int, value any) (prior any, err error)

// Executor is the sole consumer of the adjustment queue and the sole
// mutator of OS resource state and OriginalLimits.
type Executor struct {
	q        *queue.AdjustmentQueue
	adapters Adapters
	factory  *strategy.Factory
	limits   *model.OriginalLimits
	log      *zap.Logger

	dispatch map[string]knobFunc
}

func New(q *queue.AdjustmentQueue, adapters Adapters, factory *strategy.Factory, limits *model.OriginalLimits, log *zap.Logger) *Executor {
	e := &Executor{q: q, adapters: adapters, factory: factory, limits: limits, log: log}
	e.dispatch = map[string]knobFunc{
		model.KnobCPUThreads:     (*Executor).applyCPUThreads,
		model.KnobCPUFreq:        (*Executor).applyCPUFreq,
		model.KnobNice:           (*Executor).applyNice,
		model.KnobIOPriorityCls:  (*Executor).applyIONiceClass,
		model.KnobGPUPowerLimitW: (*Executor).applyGPUPowerLimit,
		model.KnobGPUUtilTarget:  (*Executor).applyGPUUtilTarget,
		model.KnobRAMAllocMB:     (*Executor).applyRAMAllocation,
		model.KnobNetBandwidthMb: (*Executor).applyNetworkBandwidth,
		model.KnobDiskIOLimitMb:  (*Executor).applyDiskIOLimit,
		model.KnobDropCaches:     (*Executor).applyDropCaches,
	}
	return e
}

// Run drains the queue until ctx is cancelled or the queue is closed.
func (e *Executor) Run(ctx context.Context) {
	for {
		task, ok := e.q.Pop(ctx)
		if !ok {
			return
		}
		e.handle(ctx, task)
	}
}

func (e *Executor) handle(ctx context.Context, task *model.AdjustmentTask) {
	switch task.Kind {
	case model.TaskFunctionCall:
		e.applyKnob(ctx, task.Process.PID, task.Function, task.Args)
	case model.TaskCloaking, model.TaskMonitoring:
		for _, name := range task.Strategies {
			e.applyCloakStrategy(ctx, name, task.Process)
		}
	case model.TaskRestore:
		e.restoreResources(ctx, task.Process)
	case model.TaskOptimization:
		e.applyRecommendedAction(ctx, task.Process, task.Action)
	}
}

// applyKnob dispatches a single (knob, value) pair for pid, recording
// the pre-adjustment value into OriginalLimits on first touch (§8
// invariant 1) before writing. Unknown knobs are dropped and logged.
func (e *Executor) applyKnob(ctx context.Context, pid int, knob string, args []any) {
	fn, ok := e.dispatch[knob]
	if !ok {
		e.log.Warn("dropping unknown knob", zap.String("knob", knob), zap.Int("pid", pid))
		return
	}
	var value any
	if len(args) > 0 {
		value = args[len(args)-1]
	}
	prior, err := fn(e, ctx, pid, value)
	if err != nil {
		e.log.Error("adjustment failed", zap.String("knob", knob), zap.Int("pid", pid), zap.Error(err))
		return
	}
	if prior == nil {
		prior = model.UnknownLimit
	}
	e.limits.RecordIfAbsent(pid, knob, prior)
	e.log.Info("applied adjustment", zap.String("knob", knob), zap.Int("pid", pid), zap.Any("value", value))
}

// applyCloakStrategy derives a strategy's adjustments and applies every
// key through the dispatch table, recording pre-adjustment state first
// even when the write itself fails (§4.5 edge case: unknown sentinel).
func (e *Executor) applyCloakStrategy(ctx context.Context, name string, p *model.ManagedProcess) {
	s, err := e.factory.Create(name)
	if err != nil {
		e.log.Error("cannot create strategy", zap.String("strategy", name), zap.Int("pid", p.PID), zap.Error(err))
		return
	}

	adjustments := s.Derive(p)
	if len(adjustments) == 0 {
		e.log.Warn("strategy produced no adjustments", zap.String("strategy", name), zap.Int("pid", p.PID))
		return
	}
	e.log.Info("applying cloak strategy", zap.String("strategy", name), zap.Int("pid", p.PID), zap.Any("adjustments", adjustments))

	for knob, value := range adjustments {
		fn, ok := e.dispatch[knob]
		if !ok {
			e.log.Warn("dropping unknown knob from strategy", zap.String("knob", knob), zap.String("strategy", name))
			continue
		}
		prior, err := fn(e, ctx, p.PID, value)
		if prior == nil {
			prior = model.UnknownLimit
		}
		e.limits.RecordIfAbsent(p.PID, knob, prior)
		if err != nil {
			e.log.Error("strategy adjustment failed", zap.String("strategy", name), zap.String("knob", knob), zap.Int("pid", p.PID), zap.Error(err))
		}
	}
}

// Restore is restoreResources exposed for the supervisor's shutdown
// path, which calls it directly rather than through the queue since the
// queue itself may already be draining or closed at that point.
func (e *Executor) Restore(ctx context.Context, p *model.ManagedProcess) {
	e.restoreResources(ctx, p)
}

// restoreResources writes every recorded original value back for pid,
// skipping the "unknown" sentinel (§4.5 edge case), then forgets the
// pid's OriginalLimits entry only if every present knob restored
// cleanly (§8 invariant 2).
func (e *Executor) restoreResources(ctx context.Context, p *model.ManagedProcess) {
	knobs := e.limits.Knobs(p.PID)
	if len(knobs) == 0 {
		e.log.Warn("no original limits recorded", zap.Int("pid", p.PID))
		return
	}

	allOK := true
	for knob, value := range knobs {
		if value == model.UnknownLimit {
			continue
		}
		fn, ok := e.dispatch[knob]
		if !ok {
			continue
		}
		if _, err := fn(e, ctx, p.PID, value); err != nil {
			e.log.Error("restore failed", zap.String("knob", knob), zap.Int("pid", p.PID), zap.Error(err))
			allOK = false
			continue
		}
		e.log.Info("restored knob", zap.String("knob", knob), zap.Int("pid", p.PID), zap.Any("value", value))
	}

	if allOK {
		e.limits.Forget(p.PID)
		e.log.Info("restored all resources", zap.Int("pid", p.PID))
	}
}

// applyRecommendedAction writes the seven-component action as knob
// writes at optimization priority, then a cache-drop cloak (§4.6, S2).
// A component identical to the process's currently recorded original
// value for that knob is skipped (§8 invariant 8 idempotence). The GPU
// utilization-target knob is dropped outright for a process that never
// matched a GPU-workload substring; every other knob still applies.
func (e *Executor) applyRecommendedAction(ctx context.Context, p *model.ManagedProcess, action model.ActionVector) {
	writes := []struct {
		knob  string
		value any
	}{
		{model.KnobCPUThreads, action.CPUThreads},
		{model.KnobRAMAllocMB, action.RAMMB},
		{model.KnobGPUUtilTarget, action.GPUUsage},
		{model.KnobDiskIOLimitMb, action.DiskIOMBps},
		{model.KnobNetBandwidthMb, action.NetMbps},
	}
	for _, w := range writes {
		// Boundary case: a process that never matched a GPU-workload
		// substring has no GPU to target -- drop only this knob, apply
		// the rest of the vector.
		if w.knob == model.KnobGPUUtilTarget && !p.GPUEligible {
			continue
		}
		if v, ok := e.limits.Get(p.PID, w.knob); ok && v == w.value {
			continue
		}
		fn, ok := e.dispatch[w.knob]
		if !ok {
			continue
		}
		prior, err := fn(e, ctx, p.PID, w.value)
		if err != nil {
			e.log.Error("recommended action failed", zap.String("knob", w.knob), zap.Int("pid", p.PID), zap.Error(err))
			continue
		}
		if prior == nil {
			prior = model.UnknownLimit
		}
		e.limits.RecordIfAbsent(p.PID, w.knob, prior)
	}
	e.applyCloakStrategy(ctx, "cache", p)
	e.log.Info("applied recommended action", zap.Int("pid", p.PID))
}

func (e *Executor) applyCPUThreads(_ context.Context, pid int, value any) (any, error) {
	threads, ok := value.(int)
	if !ok {
		return nil, fmt.Errorf("%w: cpu_threads value is not int", cloakerr.ErrConfigInvalid)
	}
	return e.adapters.CPU.SetAffinity(pid, threads)
}

// applyCPUFreq takes the cpu_freq knob in MHz (the unit strategies and
// config use) and converts to and from the kHz that scaling_setspeed holds.
func (e *Executor) applyCPUFreq(_ context.Context, pid int, value any) (any, error) {
	mhz, ok := value.(int)
	if !ok {
		return nil, fmt.Errorf("%w: cpu_freq value is not int", cloakerr.ErrConfigInvalid)
	}
	priorKHz, err := e.adapters.CPU.SetFrequency(mhz * 1000)
	return priorKHz / 1000, err
}

func (e *Executor) applyNice(_ context.Context, pid int, value any) (any, error) {
	nice, ok := value.(int)
	if !ok {
		return nil, fmt.Errorf("%w: nice value is not int", cloakerr.ErrConfigInvalid)
	}
	return e.adapters.CPU.SetNice(pid, nice)
}

func (e *Executor) applyIONiceClass(_ context.Context, pid int, value any) (any, error) {
	class, ok := value.(int)
	if !ok {
		return nil, fmt.Errorf("%w: ionice_class value is not int", cloakerr.ErrConfigInvalid)
	}
	if e.adapters.IONice == nil {
		return nil, fmt.Errorf("%w: ionice adapter unavailable", cloakerr.ErrAdapterPermanent)
	}
	return e.adapters.IONice.SetClass(pid, class)
}

func (e *Executor) applyGPUPowerLimit(ctx context.Context, pid int, value any) (any, error) {
	watts, ok := value.(float64)
	if !ok {
		return nil, fmt.Errorf("%w: gpu_power_limit_w value is not float64", cloakerr.ErrConfigInvalid)
	}
	if e.adapters.GPU == nil {
		return nil, fmt.Errorf("%w: gpu adapter unavailable", cloakerr.ErrAdapterPermanent)
	}
	return e.adapters.GPU.SetPowerLimitW(ctx, watts)
}

func (e *Executor) applyGPUUtilTarget(ctx context.Context, _ int, value any) (any, error) {
	pcts, ok := value.([3]float64)
	if !ok {
		return nil, fmt.Errorf("%w: gpu_utilization_target value is not [3]float64", cloakerr.ErrConfigInvalid)
	}
	if e.adapters.GPU == nil {
		return nil, fmt.Errorf("%w: gpu adapter unavailable", cloakerr.ErrAdapterPermanent)
	}
	return e.adapters.GPU.SetUtilizationTarget(ctx, pcts)
}

func (e *Executor) applyRAMAllocation(_ context.Context, pid int, value any) (any, error) {
	mb, ok := value.(float64)
	if !ok {
		return nil, fmt.Errorf("%w: ram_allocation_mb value is not float64", cloakerr.ErrConfigInvalid)
	}
	if e.adapters.Cgroup == nil {
		return nil, fmt.Errorf("%w: cgroup adapter unavailable", cloakerr.ErrAdapterPermanent)
	}
	return e.adapters.Cgroup.SetMemoryLimitMB(pid, mb)
}

func (e *Executor) applyNetworkBandwidth(_ context.Context, _ int, value any) (any, error) {
	mbps, ok := value.(float64)
	if !ok {
		return nil, fmt.Errorf("%w: network_bandwidth_limit_mbps value is not float64", cloakerr.ErrConfigInvalid)
	}
	if e.adapters.Network == nil {
		return nil, fmt.Errorf("%w: network adapter unavailable", cloakerr.ErrAdapterPermanent)
	}
	// A value of 0 means "no cap": it is what a first touch records as
	// the prior, and restoring it removes cloakgov's qdisc.
	if mbps <= 0 {
		return nil, e.adapters.Network.RemoveTokenBucket()
	}
	if err := e.adapters.Network.AddTokenBucket(mbps); err != nil {
		return nil, err
	}
	return 0.0, nil
}

func (e *Executor) applyDiskIOLimit(_ context.Context, pid int, value any) (any, error) {
	mbps, ok := value.(float64)
	if !ok {
		return nil, fmt.Errorf("%w: disk_io_limit_mbps value is not float64", cloakerr.ErrConfigInvalid)
	}
	if e.adapters.DiskIO == nil {
		return nil, fmt.Errorf("%w: disk io adapter unavailable", cloakerr.ErrAdapterPermanent)
	}
	return e.adapters.DiskIO.SetLimitMBps(pid, mbps)
}

func (e *Executor) applyDropCaches(_ context.Context, _ int, value any) (any, error) {
	drop, _ := value.(bool)
	if !drop {
		return nil, nil
	}
	if e.adapters.Cache == nil {
		return nil, fmt.Errorf("%w: cache adapter unavailable", cloakerr.ErrAdapterPermanent)
	}
	if err := e.adapters.Cache.DropCaches(); err != nil {
		return nil, err
	}
	return nil, nil
}
