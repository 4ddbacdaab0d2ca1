// Package registry maintains the set of processes cloakgov supervises,
// mirroring the role of the teacher's process collector but keyed for
// repeated sampling across the monitor/optimizer loops rather than a
// one-shot top-N snapshot.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloakgov/cloakgov/internal/adapter"
	"github.com/cloakgov/cloakgov/internal/model"
)

// Registry is the single source of truth for supervised processes.
// Discover adds processes and UpdateAll evicts the ones that are gone;
// UpdateAll is the sole writer of metric fields. Both hold the write lock
// only for the duration of the map mutation itself.
type Registry struct {
	mu        sync.RWMutex
	processes    map[int]*model.ManagedProcess
	diskBaseline map[int]uint64 // pid -> last-seen cumulative disk I/O bytes
	netBaseline  map[int]uint64 // pid -> last-seen cumulative non-block I/O bytes

	counters    *adapter.ProcessCounters
	gpu         *adapter.GPU
	cpuNames    []string
	gpuNames    []string
	priorityMap map[string]int
	iface       string
}

// New constructs an empty Registry. gpu may be nil on CPU-only hosts;
// GPU% then stays 0 for every process.
func New(counters *adapter.ProcessCounters, gpu *adapter.GPU, cpuNames, gpuNames []string, priorityMap map[string]int, iface string) *Registry {
	return &Registry{
		processes:    make(map[int]*model.ManagedProcess),
		diskBaseline: make(map[int]uint64),
		netBaseline:  make(map[int]uint64),
		counters:     counters,
		gpu:         gpu,
		cpuNames:    cpuNames,
		gpuNames:    gpuNames,
		priorityMap: priorityMap,
		iface:       iface,
	}
}

// Discover scans running processes for cpuNames/gpuNames matches and
// registers any not already tracked. Already-registered processes are
// left untouched (their sampled metrics survive rediscovery).
func (r *Registry) Discover(ctx context.Context) error {
	cpuPids, err := adapter.DiscoverByName(ctx, r.cpuNames)
	if err != nil {
		return fmt.Errorf("discover cpu workloads: %w", err)
	}
	gpuPids, err := adapter.DiscoverByName(ctx, r.gpuNames)
	if err != nil {
		return fmt.Errorf("discover gpu workloads: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range cpuPids {
		r.registerLocked(d.PID, d.Name)
	}
	for _, d := range gpuPids {
		r.registerLocked(d.PID, d.Name)
	}
	return nil
}

func (r *Registry) registerLocked(pid int, name string) {
	if _, exists := r.processes[pid]; exists {
		return
	}
	r.processes[pid] = &model.ManagedProcess{
		PID:          pid,
		Name:         name,
		Priority:     r.priorityFor(name),
		GPUEligible:  r.isGPUWorkload(name),
		NetworkMark:  uint16(pid % 65535),
		NetworkIface: r.iface,
	}
}

func (r *Registry) priorityFor(name string) int {
	for pattern, pri := range r.priorityMap {
		if strings.Contains(strings.ToLower(name), strings.ToLower(pattern)) {
			return pri
		}
	}
	return 0
}

// UpdateAll refreshes every tracked process's sampled metrics, evicting
// any pid whose counters can no longer be read (ErrProcessGone).
func (r *Registry) UpdateAll(ctx context.Context) {
	r.mu.RLock()
	pids := make([]int, 0, len(r.processes))
	for pid := range r.processes {
		pids = append(pids, pid)
	}
	r.mu.RUnlock()

	for _, pid := range pids {
		sample, err := r.counters.Read(ctx, pid)
		if err != nil {
			r.mu.Lock()
			delete(r.processes, pid)
			delete(r.diskBaseline, pid)
			delete(r.netBaseline, pid)
			r.mu.Unlock()
			continue
		}

		r.mu.Lock()
		p, ok := r.processes[pid]
		if !ok {
			r.mu.Unlock()
			continue
		}
		p.CPUPercent = sample.CPUPercent
		p.MemPercent = float64(sample.MemPercent)

		if prev, ok := r.diskBaseline[pid]; ok && sample.DiskIOBytes >= prev {
			p.DiskIOMB = float64(sample.DiskIOBytes-prev) / (1024 * 1024)
		} else {
			p.DiskIOMB = 0
		}
		r.diskBaseline[pid] = sample.DiskIOBytes

		if prev, ok := r.netBaseline[pid]; ok && sample.NonBlockIOBytes >= prev {
			p.NetworkIOMB = float64(sample.NonBlockIOBytes-prev) / (1024 * 1024)
		} else {
			p.NetworkIOMB = 0
		}
		r.netBaseline[pid] = sample.NonBlockIOBytes

		if p.GPUEligible && r.gpu != nil {
			if share, err := r.gpu.MemoryShare(ctx); err == nil {
				p.GPUPercent = share
			}
		} else {
			p.GPUPercent = 0
		}
		r.mu.Unlock()
	}
}

func (r *Registry) isGPUWorkload(name string) bool {
	for _, pattern := range r.gpuNames {
		if strings.Contains(strings.ToLower(name), strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// Get returns the tracked process, if any, for reading by callers that
// already hold no lock of their own (monitor/optimizer iteration).
func (r *Registry) Get(pid int) (*model.ManagedProcess, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processes[pid]
	return p, ok
}

// Snapshot returns a shallow copy of every tracked process, ordered by
// descending Priority, for the monitor's core-allocation pass (S5) and
// the optimizer's per-process prediction pass.
func (r *Registry) Snapshot() []*model.ManagedProcess {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.ManagedProcess, 0, len(r.processes))
	for _, p := range r.processes {
		cp := *p
		out = append(out, &cp)
	}
	sortByPriorityDesc(out)
	return out
}

// Len reports the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processes)
}

// CloakedCount reports how many tracked processes are currently cloaked.
func (r *Registry) CloakedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.processes {
		if p.Cloaked {
			n++
		}
	}
	return n
}

// MarkCloaked sets a process's Cloaked flag. The executor does not call
// it after applying a cloak strategy, so Cloaked stays false unless a
// caller sets it here.
func (r *Registry) MarkCloaked(pid int, cloaked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.processes[pid]; ok {
		p.Cloaked = cloaked
	}
}

func sortByPriorityDesc(procs []*model.ManagedProcess) {
	for i := 1; i < len(procs); i++ {
		for j := i; j > 0 && procs[j].Priority > procs[j-1].Priority; j-- {
			procs[j], procs[j-1] = procs[j-1], procs[j]
		}
	}
}
