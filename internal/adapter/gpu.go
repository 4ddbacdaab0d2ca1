package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// GPUContext owns the process-wide NVML lifecycle, mirroring the
// original's GPUManager singleton: one init at startup, one shutdown at
// supervisor teardown, no lingering per-call handle kept around.
type GPUContext struct {
	ready bool
}

// NewGPUContext initializes NVML. Ready() reports whether it succeeded;
// a failed init degrades the strategy factory to skip GPU strategies
// rather than aborting the whole supervisor, since cloakgov also runs on
// CPU-only nodes.
func NewGPUContext() *GPUContext {
	ret := nvml.Init()
	return &GPUContext{ready: ret == nvml.SUCCESS}
}

func (g *GPUContext) Ready() bool { return g.ready }

// Shutdown releases NVML. Safe to call even if Ready() is false.
func (g *GPUContext) Shutdown() error {
	if !g.ready {
		return nil
	}
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("%w: nvml shutdown: %v", cloakerr.ErrAdapterTransient, nvml.ErrorString(ret))
	}
	return nil
}

// GPU adapts power caps and reports memory-share utilization for device
// index 0, matching the original's single-GPU assumption. Each call does
// its own init->handle->action->shutdown sequence is avoided here --
// NVML is initialized once by GPUContext and reused, which is safe and
// cheaper than the original's per-call pynvml init/shutdown.
type GPU struct {
	ctx *GPUContext
}

func NewGPU(ctx *GPUContext) *GPU { return &GPU{ctx: ctx} }

// SetPowerLimitW sets device 0's power limit in watts, returning the
// prior limit in watts for restore. NVML wants milliwatts.
func (g *GPU) SetPowerLimitW(ctx context.Context, watts float64) (priorW float64, err error) {
	if !g.ctx.Ready() {
		return 0, fmt.Errorf("%w: nvml not initialized", cloakerr.ErrAdapterPermanent)
	}

	var dev nvml.Device
	err = cloakerr.Retry(ctx, 3, 50*time.Millisecond, 2.0, func() error {
		handle, ret := nvml.DeviceGetHandleByIndex(0)
		if ret != nvml.SUCCESS {
			return fmt.Errorf("device handle: %v", nvml.ErrorString(ret))
		}
		dev = handle
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", cloakerr.ErrAdapterTransient, err)
	}

	priorMw, ret := dev.GetPowerManagementLimit()
	if ret == nvml.SUCCESS {
		priorW = float64(priorMw) / 1000.0
	}

	if ret := dev.SetPowerManagementLimit(uint32(watts * 1000)); ret != nvml.SUCCESS {
		return priorW, fmt.Errorf("%w: set power limit: %v", cloakerr.ErrAdapterTransient, nvml.ErrorString(ret))
	}
	return priorW, nil
}

// SetUtilizationTarget caps device 0's achievable utilization by locking
// its SM clock range, the commodity-NVML stand-in for a true per-process
// utilization cap -- nvmlDeviceSetGpuLockedClocks is the same mechanism
// `nvidia-smi -lgc` uses, and is available without DCGM/MPS, unlike a
// genuine per-process utilization limiter. pcts holds the model's three
// per-slot utilization targets (§9 Open Question 2's 3-slot action
// vector); since this device has one physical clock ceiling, their
// average becomes the single target. Returns the prior target percent in
// all three slots for restore.
func (g *GPU) SetUtilizationTarget(ctx context.Context, pcts [3]float64) (prior [3]float64, err error) {
	if !g.ctx.Ready() {
		return prior, fmt.Errorf("%w: nvml not initialized", cloakerr.ErrAdapterPermanent)
	}

	var dev nvml.Device
	err = cloakerr.Retry(ctx, 3, 50*time.Millisecond, 2.0, func() error {
		handle, ret := nvml.DeviceGetHandleByIndex(0)
		if ret != nvml.SUCCESS {
			return fmt.Errorf("device handle: %v", nvml.ErrorString(ret))
		}
		dev = handle
		return nil
	})
	if err != nil {
		return prior, fmt.Errorf("%w: %v", cloakerr.ErrAdapterTransient, err)
	}

	maxClock, ret := dev.GetMaxClockInfo(nvml.CLOCK_SM)
	if ret != nvml.SUCCESS || maxClock == 0 {
		return prior, fmt.Errorf("%w: max sm clock: %v", cloakerr.ErrAdapterTransient, nvml.ErrorString(ret))
	}
	if curClock, ret := dev.GetClockInfo(nvml.CLOCK_SM); ret == nvml.SUCCESS {
		priorPct := float64(curClock) / float64(maxClock) * 100.0
		prior = [3]float64{priorPct, priorPct, priorPct}
	}

	targetClock := uint32(float64(maxClock) * averagePct(pcts) / 100.0)
	if targetClock == 0 {
		targetClock = 1
	}

	if ret := dev.SetGpuLockedClocks(targetClock, maxClock); ret != nvml.SUCCESS {
		return prior, fmt.Errorf("%w: lock gpu clocks: %v", cloakerr.ErrAdapterTransient, nvml.ErrorString(ret))
	}
	return prior, nil
}

func averagePct(pcts [3]float64) float64 {
	sum := 0.0
	for _, p := range pcts {
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		sum += p
	}
	avg := sum / float64(len(pcts))
	if avg <= 0 {
		avg = 1 // 0 would request an invalid clock range
	}
	return avg
}

// MemoryShare returns device 0's memory-used fraction (0-100), used as
// the GPU utilization proxy in ManagedProcess.GPUPercent -- commodity
// NVML exposes no per-PID GPU utilization without DCGM, so the whole
// device's share stands in for any process matched as a GPU workload.
func (g *GPU) MemoryShare(ctx context.Context) (float64, error) {
	if !g.ctx.Ready() {
		return 0, fmt.Errorf("%w: nvml not initialized", cloakerr.ErrSensorUnavailable)
	}
	handle, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("%w: device handle: %v", cloakerr.ErrSensorUnavailable, nvml.ErrorString(ret))
	}
	mem, ret := handle.GetMemoryInfo()
	if ret != nvml.SUCCESS || mem.Total == 0 {
		return 0, fmt.Errorf("%w: memory info: %v", cloakerr.ErrSensorUnavailable, nvml.ErrorString(ret))
	}
	return float64(mem.Used) / float64(mem.Total) * 100.0, nil
}

// TempC returns device 0's temperature, used by the monitor's GPU
// thermal threshold check.
func (g *GPU) TempC() (float64, error) {
	if !g.ctx.Ready() {
		return 0, fmt.Errorf("%w: nvml not initialized", cloakerr.ErrSensorUnavailable)
	}
	handle, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("%w: device handle: %v", cloakerr.ErrSensorUnavailable, nvml.ErrorString(ret))
	}
	temp, ret := handle.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("%w: temperature: %v", cloakerr.ErrSensorUnavailable, nvml.ErrorString(ret))
	}
	return float64(temp), nil
}

// PowerW returns device 0's current power draw in watts.
func (g *GPU) PowerW() (float64, error) {
	if !g.ctx.Ready() {
		return 0, fmt.Errorf("%w: nvml not initialized", cloakerr.ErrSensorUnavailable)
	}
	handle, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("%w: device handle: %v", cloakerr.ErrSensorUnavailable, nvml.ErrorString(ret))
	}
	mw, ret := handle.GetPowerUsage()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("%w: power usage: %v", cloakerr.ErrSensorUnavailable, nvml.ErrorString(ret))
	}
	return float64(mw) / 1000.0, nil
}
