package strategy

import (
	"errors"
	"testing"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
	"github.com/cloakgov/cloakgov/internal/config"
	"github.com/cloakgov/cloakgov/internal/model"
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
			CPUFreqMinMHz: 1800,
			CPUFreqMaxMHz: 3500,
			GPUPowerMinW:  50,
			GPUPowerMaxW:  300,
			DiskIO:        config.ResourceRange{MinLimit: 5, MaxLimit: 500},
			NetworkBandwidth: config.ResourceRange{MinLimit: 1, MaxLimit: 1000},
		},
	}
}

func TestFactoryCreateKnownNames(t *testing.T) {
	f := NewFactory(testConfig(), true)
	names := []string{"cpu", "cpu_load_throttle", "gpu", "network", "disk_io", "cache"}
	for _, name := range names {
		s, err := f.Create(name)
		if err != nil {
			t.Errorf("Create(%q) returned error: %v", name, err)
			continue
		}
		if s.Name() != name {
			t.Errorf("Create(%q).Name() = %q", name, s.Name())
		}
	}
}

func TestFactoryCreateUnknownName(t *testing.T) {
	f := NewFactory(testConfig(), true)
	_, err := f.Create("bogus")
	if !errors.Is(err, cloakerr.ErrStrategyUnknown) {
		t.Errorf("Create(bogus) error = %v, want ErrStrategyUnknown", err)
	}
}

func TestFactoryCreateGPUWithoutContext(t *testing.T) {
	f := NewFactory(testConfig(), false)
	_, err := f.Create("gpu")
	if !errors.Is(err, cloakerr.ErrStrategyUnknown) {
		t.Errorf("Create(gpu) without gpuReady error = %v, want ErrStrategyUnknown", err)
	}
}

func TestCPUStrategyDeriveWithinBounds(t *testing.T) {
	s := cpuStrategy{alloc: testConfig().ResourceAllocation, step: 500}
	adj := s.Derive(&model.ManagedProcess{})
	freq, ok := adj[model.KnobCPUFreq].(int)
	if !ok {
		t.Fatalf("missing %s in adjustments", model.KnobCPUFreq)
	}
	if freq < 1800 || freq > 3500 {
		t.Errorf("cpu freq = %d, want within [1800,3500]", freq)
	}
}

func TestCPULoadThrottleStrategyTiers(t *testing.T) {
	cases := []struct {
		load float64
		want int
	}{
		{90, 2000},
		{60, 2500},
		{20, 3000},
	}
	s := cpuLoadThrottleStrategy{}
	for _, tc := range cases {
		adj := s.Derive(&model.ManagedProcess{CPUPercent: tc.load})
		if got := adj[model.KnobCPUFreq]; got != tc.want {
			t.Errorf("load %.0f%%: freq = %v, want %d", tc.load, got, tc.want)
		}
	}
}

func TestGPUStrategyDeriveClamped(t *testing.T) {
	cfg := testConfig().ResourceAllocation
	cfg.GPUPowerMaxW = 55
	cfg.GPUPowerMinW = 50
	s := gpuStrategy{alloc: cfg, step: 10}
	adj := s.Derive(&model.ManagedProcess{})
	limit, ok := adj[model.KnobGPUPowerLimitW].(float64)
	if !ok {
		t.Fatalf("missing %s in adjustments", model.KnobGPUPowerLimitW)
	}
	if limit != 50 {
		t.Errorf("gpu power limit = %v, want clamped to min 50", limit)
	}
}

func TestDiskIOStrategyDeriveIncludesIONice(t *testing.T) {
	s := diskIOStrategy{alloc: testConfig().ResourceAllocation, step: 1}
	adj := s.Derive(&model.ManagedProcess{})
	if _, ok := adj[model.KnobDiskIOLimitMb]; !ok {
		t.Errorf("missing %s in adjustments", model.KnobDiskIOLimitMb)
	}
	if _, ok := adj[model.KnobIOPriorityCls]; !ok {
		t.Errorf("missing %s in adjustments", model.KnobIOPriorityCls)
	}
}

func TestCacheStrategyDerive(t *testing.T) {
	s := cacheStrategy{}
	adj := s.Derive(&model.ManagedProcess{})
	if v, ok := adj[model.KnobDropCaches].(bool); !ok || !v {
		t.Errorf("cache strategy adjustments = %v, want %s=true", adj, model.KnobDropCaches)
	}
}
