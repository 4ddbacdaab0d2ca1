// Package strategy derives AdjustmentsMaps for cloaking a process,
// replacing the original's cloak_strategies module. Unlike the
// original, a Strategy never calls back into the executor or touches
// OriginalLimits -- Derive is a pure function of a process snapshot and
// the strategy's own config, and the executor alone decides what to
// record and restore.
package strategy

import (
	"fmt"

	"github.com/cloakgov/cloakgov/internal/adapter"
	"github.com/cloakgov/cloakgov/internal/cloakerr"
	"github.com/cloakgov/cloakgov/internal/config"
	"github.com/cloakgov/cloakgov/internal/model"
)

// Strategy derives the knob adjustments a named cloaking strategy wants
// applied to a process. Implementations are stateless value types.
type Strategy interface {
	Name() string
	Derive(p *model.ManagedProcess) model.AdjustmentsMap
}

// Factory constructs Strategy values by name, the Go analogue of
// CloakStrategyFactory.create_strategy.
type Factory struct {
	cfg      *config.Config
	gpuReady bool
}

func NewFactory(cfg *config.Config, gpuReady bool) *Factory {
	return &Factory{cfg: cfg, gpuReady: gpuReady}
}

// Create returns the named strategy, or ErrStrategyUnknown if name
// isn't recognized. A "gpu" request on a host without GPU support
// returns ErrStrategyUnknown too, rather than a strategy that would
// silently do nothing.
func (f *Factory) Create(name string) (Strategy, error) {
	switch name {
	case "cpu":
		return cpuStrategy{alloc: f.cfg.ResourceAllocation, step: f.cfg.OptimizationParameters.CPUFreqStepMHz}, nil
	case "cpu_load_throttle":
		return cpuLoadThrottleStrategy{}, nil
	case "gpu":
		if !f.gpuReady {
			return nil, fmt.Errorf("%w: gpu strategy requested but no GPU context is ready", cloakerr.ErrStrategyUnknown)
		}
		return gpuStrategy{alloc: f.cfg.ResourceAllocation, step: f.cfg.OptimizationParameters.GPUPowerStepW}, nil
	case "network":
		return networkStrategy{alloc: f.cfg.ResourceAllocation, step: f.cfg.OptimizationParameters.NetworkBandwidthStepMbps}, nil
	case "disk_io":
		return diskIOStrategy{alloc: f.cfg.ResourceAllocation, step: f.cfg.OptimizationParameters.DiskIOStepMbps}, nil
	case "cache":
		return cacheStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", cloakerr.ErrStrategyUnknown, name)
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// cpuStrategy nudges CPU frequency down by step MHz, bounded to the
// configured [min,max] range, mirroring adjust_cpu_frequency's caller.
type cpuStrategy struct {
	alloc config.ResourceAllocation
	step  int
}

func (cpuStrategy) Name() string { return "cpu" }

func (s cpuStrategy) Derive(p *model.ManagedProcess) model.AdjustmentsMap {
	target := s.alloc.CPUFreqMaxMHz - s.step
	target = int(clamp(float64(target), float64(s.alloc.CPUFreqMinMHz), float64(s.alloc.CPUFreqMaxMHz)))
	return model.AdjustmentsMap{model.KnobCPUFreq: target}
}

// cpuLoadThrottleStrategy picks a frequency tier from the process's
// current CPU%, the supplemented throttle_cpu_based_on_load behavior.
type cpuLoadThrottleStrategy struct{}

func (cpuLoadThrottleStrategy) Name() string { return "cpu_load_throttle" }

func (cpuLoadThrottleStrategy) Derive(p *model.ManagedProcess) model.AdjustmentsMap {
	var freq int
	switch {
	case p.CPUPercent > 80:
		freq = 2000
	case p.CPUPercent > 50:
		freq = 2500
	default:
		freq = 3000
	}
	return model.AdjustmentsMap{model.KnobCPUFreq: freq}
}

// gpuStrategy trims the GPU power limit by step watts, bounded to the
// configured range, mirroring adjust_gpu_power_limit's caller.
type gpuStrategy struct {
	alloc config.ResourceAllocation
	step  float64
}

func (gpuStrategy) Name() string { return "gpu" }

func (s gpuStrategy) Derive(p *model.ManagedProcess) model.AdjustmentsMap {
	target := clamp(s.alloc.GPUPowerMaxW-s.step, s.alloc.GPUPowerMinW, s.alloc.GPUPowerMaxW)
	return model.AdjustmentsMap{model.KnobGPUPowerLimitW: target}
}

// networkStrategy caps egress bandwidth, bounded to the configured
// range, mirroring adjust_network_bandwidth's caller.
type networkStrategy struct {
	alloc config.ResourceAllocation
	step  float64
}

func (networkStrategy) Name() string { return "network" }

func (s networkStrategy) Derive(p *model.ManagedProcess) model.AdjustmentsMap {
	target := clamp(s.alloc.NetworkBandwidth.MaxLimit-s.step, s.alloc.NetworkBandwidth.MinLimit, s.alloc.NetworkBandwidth.MaxLimit)
	return model.AdjustmentsMap{model.KnobNetBandwidthMb: target}
}

// diskIOStrategy caps disk throughput, bounded to the configured
// range, mirroring adjust_disk_io_limit's caller.
type diskIOStrategy struct {
	alloc config.ResourceAllocation
	step  float64
}

func (diskIOStrategy) Name() string { return "disk_io" }

func (s diskIOStrategy) Derive(p *model.ManagedProcess) model.AdjustmentsMap {
	target := clamp(s.alloc.DiskIO.MaxLimit-s.step, s.alloc.DiskIO.MinLimit, s.alloc.DiskIO.MaxLimit)
	return model.AdjustmentsMap{
		model.KnobDiskIOLimitMb:  target,
		model.KnobIOPriorityCls: adapter.IOPrioClassIdle,
	}
}

// cacheStrategy drops the page cache, mirroring drop_caches. It takes
// no per-process parameters -- every cache cloak is identical.
type cacheStrategy struct{}

func (cacheStrategy) Name() string { return "cache" }

func (cacheStrategy) Derive(*model.ManagedProcess) model.AdjustmentsMap {
	return model.AdjustmentsMap{model.KnobDropCaches: true}
}
