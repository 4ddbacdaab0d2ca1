package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/cloakgov/cloakgov/internal/adapter"
	"github.com/cloakgov/cloakgov/internal/cloakerr"
	"github.com/cloakgov/cloakgov/internal/config"
	"github.com/cloakgov/cloakgov/internal/model"
	"github.com/cloakgov/cloakgov/internal/queue"
	"github.com/cloakgov/cloakgov/internal/strategy"
)

func testConfig() *config.Config {
	return &config.Config{
		OptimizationParameters: config.OptimizationParameters{
			CPUFreqStepMHz:           500,
			GPUPowerStepW:            10,
			DiskIOStepMbps:           1,
			NetworkBandwidthStepMbps: 5,
		},
		ResourceAllocation: config.ResourceAllocation{
			CPUFreqMinMHz:    1800,
			CPUFreqMaxMHz:    3500,
			GPUPowerMinW:     50,
			GPUPowerMaxW:     300,
			DiskIO:           config.ResourceRange{MinLimit: 5, MaxLimit: 500},
			NetworkBandwidth: config.ResourceRange{MinLimit: 1, MaxLimit: 1000},
		},
	}
}

func newTestExecutor(t *testing.T, adapters Adapters) *Executor {
	t.Helper()
	q := queue.New(10)
	f := strategy.NewFactory(testConfig(), adapters.GPU != nil)
	limits := model.NewOriginalLimits()
	return New(q, adapters, f, limits, zap.NewNop())
}

// fakeCPUFreqRoot builds a fake /sys/devices/system/cpu tree with one
// cpu0/cpufreq/scaling_setspeed node, the same fixture shape the
// teacher's collector tests use for sysfs-backed adapters.
func fakeCPUFreqRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "devices", "system", "cpu", "cpu0", "cpufreq")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scaling_setspeed"), []byte("3000000"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestApplyKnobDropsUnknownKnob(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	e.applyKnob(context.Background(), 1, "not_a_knob", []any{1})
	if e.limits.Count() != 0 {
		t.Errorf("OriginalLimits recorded something for an unknown knob")
	}
}

func TestApplyKnobCPUFreqRecordsPriorOnFirstTouch(t *testing.T) {
	root := fakeCPUFreqRoot(t)
	e := newTestExecutor(t, Adapters{CPU: adapter.NewCPU(root)})

	e.applyKnob(context.Background(), 1, model.KnobCPUFreq, []any{2500})

	v, ok := e.limits.Get(1, model.KnobCPUFreq)
	if !ok {
		t.Fatal("expected original cpu_freq to be recorded")
	}
	if v != 3000 {
		t.Errorf("recorded prior = %v, want 3000", v)
	}

	got, err := os.ReadFile(filepath.Join(root, "devices", "system", "cpu", "cpu0", "cpufreq", "scaling_setspeed"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "2500000" {
		t.Errorf("scaling_setspeed = %q, want 2500000 (2500 MHz in kHz)", got)
	}
}

func TestApplyGPUPowerLimitWithoutAdapterIsPermanentError(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	_, err := e.applyGPUPowerLimit(context.Background(), 1, 100.0)
	if !errors.Is(err, cloakerr.ErrAdapterPermanent) {
		t.Errorf("err = %v, want ErrAdapterPermanent", err)
	}
}

func TestApplyRAMAllocationWithoutAdapterIsPermanentError(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	_, err := e.applyRAMAllocation(context.Background(), 1, 512.0)
	if !errors.Is(err, cloakerr.ErrAdapterPermanent) {
		t.Errorf("err = %v, want ErrAdapterPermanent", err)
	}
}

func TestApplyGPUUtilTargetWithoutAdapterIsPermanentError(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	_, err := e.applyGPUUtilTarget(context.Background(), 1, [3]float64{50, 50, 50})
	if !errors.Is(err, cloakerr.ErrAdapterPermanent) {
		t.Errorf("err = %v, want ErrAdapterPermanent", err)
	}
}

func TestApplyGPUUtilTargetRejectsWrongType(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	_, err := e.applyGPUUtilTarget(context.Background(), 1, 50.0)
	if !errors.Is(err, cloakerr.ErrConfigInvalid) {
		t.Errorf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestApplyDiskIOLimitWithoutAdapterIsPermanentError(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	_, err := e.applyDiskIOLimit(context.Background(), 1, 50.0)
	if !errors.Is(err, cloakerr.ErrAdapterPermanent) {
		t.Errorf("err = %v, want ErrAdapterPermanent", err)
	}
}

func TestApplyDiskIOLimitRejectsWrongType(t *testing.T) {
	e := newTestExecutor(t, Adapters{DiskIO: adapter.NewDiskIO(t.TempDir())})
	_, err := e.applyDiskIOLimit(context.Background(), 1, "fifty")
	if !errors.Is(err, cloakerr.ErrConfigInvalid) {
		t.Errorf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestRestoreResourcesSkipsUnknownSentinel(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	e.limits.RecordIfAbsent(1, model.KnobGPUPowerLimitW, model.UnknownLimit)

	e.restoreResources(context.Background(), &model.ManagedProcess{PID: 1})

	if e.limits.Count() != 0 {
		t.Error("restore should forget the pid once every present knob is handled (unknown skipped)")
	}
}

func TestRestoreResourcesKeepsEntryOnPartialFailure(t *testing.T) {
	root := fakeCPUFreqRoot(t)
	e := newTestExecutor(t, Adapters{CPU: adapter.NewCPU(root)})
	e.limits.RecordIfAbsent(1, model.KnobCPUFreq, 3000)
	// ram_allocation_mb has no Cgroup adapter wired, so restore fails partway.
	e.limits.RecordIfAbsent(1, model.KnobRAMAllocMB, 1024.0)

	e.restoreResources(context.Background(), &model.ManagedProcess{PID: 1})

	if _, ok := e.limits.Get(1, model.KnobRAMAllocMB); !ok {
		t.Error("partial restore failure must keep the pid's OriginalLimits entry")
	}
}

func TestApplyRecommendedActionSkipsIdenticalComponent(t *testing.T) {
	root := fakeCPUFreqRoot(t)
	e := newTestExecutor(t, Adapters{CPU: adapter.NewCPU(root)})
	p := &model.ManagedProcess{PID: 1}
	ramCalled := false
	e.dispatch[model.KnobRAMAllocMB] = func(_ *Executor, _ context.Context, _ int, _ any) (any, error) {
		ramCalled = true
		return nil, nil
	}

	// Pre-seed the recorded original for ram_allocation_mb equal to the
	// action's value -- idempotence (invariant 8) must skip this write.
	e.limits.RecordIfAbsent(1, model.KnobRAMAllocMB, 512.0)

	action := model.ActionVector{CPUThreads: 4, RAMMB: 512.0, GPUUsage: [3]float64{60, 70, 40}, DiskIOMBps: 50, NetMbps: 10}
	e.applyRecommendedAction(context.Background(), p, action)

	if ramCalled {
		t.Error("ram_allocation_mb write was dispatched although it equals the recorded value")
	}
	// The recorded original must also remain the pre-seeded 512.
	v, _ := e.limits.Get(1, model.KnobRAMAllocMB)
	if v != 512.0 {
		t.Errorf("ram_allocation_mb original = %v, want unchanged 512.0", v)
	}
}

func TestApplyRecommendedActionDropsGPUKnobForIneligibleProcess(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	called := false
	e.dispatch[model.KnobGPUUtilTarget] = func(_ *Executor, _ context.Context, _ int, _ any) (any, error) {
		called = true
		return nil, nil
	}

	p := &model.ManagedProcess{PID: 1, GPUEligible: false}
	e.applyRecommendedAction(context.Background(), p, model.ActionVector{GPUUsage: [3]float64{50, 50, 50}})

	if called {
		t.Error("gpu_utilization_target must be dropped for a process that never matched a GPU-workload name")
	}
}

func TestApplyRecommendedActionAppliesGPUKnobForEligibleProcess(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	called := false
	e.dispatch[model.KnobGPUUtilTarget] = func(_ *Executor, _ context.Context, _ int, _ any) (any, error) {
		called = true
		return nil, nil
	}

	p := &model.ManagedProcess{PID: 1, GPUEligible: true}
	e.applyRecommendedAction(context.Background(), p, model.ActionVector{GPUUsage: [3]float64{50, 50, 50}})

	if !called {
		t.Error("gpu_utilization_target must still be applied for a GPU-eligible process")
	}
}

func TestApplyCloakStrategyUnknownStrategyLogsAndReturns(t *testing.T) {
	e := newTestExecutor(t, Adapters{})
	e.applyCloakStrategy(context.Background(), "bogus", &model.ManagedProcess{PID: 1})
	if e.limits.Count() != 0 {
		t.Error("unknown strategy must not record any original limits")
	}
}
