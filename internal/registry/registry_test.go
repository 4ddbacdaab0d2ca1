package registry

import "testing"

func testRegistry() *Registry {
	return New(nil, nil,
		[]string{"xmrig"}, []string{"gpu_miner"},
		map[string]int{"xmrig": 5, "gpu_miner": 9},
		"eth0",
	)
}

func TestRegisterLockedAssignsPriorityAndGPUEligibilityFromName(t *testing.T) {
	r := testRegistry()
	r.registerLocked(101, "xmrig")
	r.registerLocked(202, "gpu_miner")

	cpu, ok := r.Get(101)
	if !ok {
		t.Fatalf("pid 101 not registered")
	}
	if cpu.Name != "xmrig" {
		t.Errorf("Name = %q, want %q", cpu.Name, "xmrig")
	}
	if cpu.Priority != 5 {
		t.Errorf("Priority = %d, want 5 (the real name must match process_priority_map)", cpu.Priority)
	}
	if cpu.GPUEligible {
		t.Errorf("GPUEligible = true, want false for a non-GPU name")
	}

	gpu, ok := r.Get(202)
	if !ok {
		t.Fatalf("pid 202 not registered")
	}
	if gpu.Priority != 9 {
		t.Errorf("Priority = %d, want 9", gpu.Priority)
	}
	if !gpu.GPUEligible {
		t.Errorf("GPUEligible = false, want true for a matched GPU-workload name")
	}
}

func TestRegisterLockedEmptyNameGetsZeroPriority(t *testing.T) {
	r := testRegistry()
	r.registerLocked(303, "")

	p, ok := r.Get(303)
	if !ok {
		t.Fatalf("pid 303 not registered")
	}
	if p.Priority != 0 {
		t.Errorf("Priority = %d, want 0 for an unmatched/empty name", p.Priority)
	}
	if p.GPUEligible {
		t.Errorf("GPUEligible = true, want false for an empty name")
	}
}

func TestRegisterLockedSkipsAlreadyTracked(t *testing.T) {
	r := testRegistry()
	r.registerLocked(101, "xmrig")
	r.registerLocked(101, "gpu_miner") // must not overwrite

	p, _ := r.Get(101)
	if p.Name != "xmrig" || p.Priority != 5 || p.GPUEligible {
		t.Errorf("re-registering an existing pid mutated it: %+v", p)
	}
}
