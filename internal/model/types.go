// Package model defines the data types shared across cloakgov's
// monitor, optimizer, and executor components.
package model

import "time"

// TaskKind classifies an AdjustmentTask so the executor can dispatch it
// without a type switch over concrete payload structs.
type TaskKind int

const (
	TaskFunctionCall TaskKind = iota
	TaskMonitoring
	TaskOptimization
	TaskCloaking
	TaskRestore
)

func (k TaskKind) String() string {
	switch k {
	case TaskFunctionCall:
		return "function_call"
	case TaskMonitoring:
		return "monitoring"
	case TaskOptimization:
		return "optimization"
	case TaskCloaking:
		return "cloaking"
	case TaskRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// Priority levels, lowest value served first. Restore always wins so a
// shutdown can always make forward progress ahead of queued work.
const (
	PriorityRestore      = 1
	PriorityMonitoring   = 2
	PriorityOptimization = 3
)

// ManagedProcess is a single process under cloakgov's supervision.
// Identity fields are set once at registration by the registry; metric
// fields are mutated only by the registry's sampler goroutine.
type ManagedProcess struct {
	PID          int     `json:"pid"`
	Name         string  `json:"name"`
	Priority     int     `json:"priority"` // declared priority; higher means more important
	CPUPercent   float64 `json:"cpu_percent"`
	MemPercent   float64 `json:"mem_percent"`
	DiskIOMB     float64 `json:"disk_io_mb"`    // delta MB since the previous sample
	NetworkIOMB  float64 `json:"network_io_mb"` // delta MB since the previous sample; 0 on first sample
	GPUPercent   float64 `json:"gpu_percent"`
	GPUEligible  bool    `json:"gpu_eligible"` // name matched a configured GPU-workload substring
	NetworkMark  uint16  `json:"network_mark"` // PID mod 65535; the network adapter does not use it to match packets
	NetworkIface string  `json:"network_iface"`
	Cloaked      bool    `json:"cloaked"`
}

// UnknownLimit sentinels an OriginalLimits entry whose pre-adjustment
// value could not be read. Restore skips these rather than writing back
// a fabricated value.
const UnknownLimit = "unknown"

// OriginalLimits snapshots the pre-adjustment value of every (pid, knob)
// pair the executor has touched, so restore can put a process back the
// way it found it. Knob names are the AdjustmentsMap keys.
type OriginalLimits struct {
	values map[int]map[string]any
}

func NewOriginalLimits() *OriginalLimits {
	return &OriginalLimits{values: make(map[int]map[string]any)}
}

// RecordIfAbsent stores value as the pid's original value for knob,
// unless one is already recorded -- the first touch always wins.
func (o *OriginalLimits) RecordIfAbsent(pid int, knob string, value any) {
	knobs, ok := o.values[pid]
	if !ok {
		knobs = make(map[string]any)
		o.values[pid] = knobs
	}
	if _, exists := knobs[knob]; !exists {
		knobs[knob] = value
	}
}

// Get returns the recorded original value for (pid, knob), if any.
func (o *OriginalLimits) Get(pid int, knob string) (any, bool) {
	knobs, ok := o.values[pid]
	if !ok {
		return nil, false
	}
	v, ok := knobs[knob]
	return v, ok
}

// Knobs returns the knob map recorded for pid.
func (o *OriginalLimits) Knobs(pid int) map[string]any {
	return o.values[pid]
}

// Forget removes all recorded knobs for pid, called after a full restore.
func (o *OriginalLimits) Forget(pid int) {
	delete(o.values, pid)
}

// Pids returns every pid with at least one recorded original value.
func (o *OriginalLimits) Pids() []int {
	pids := make([]int, 0, len(o.values))
	for pid := range o.values {
		pids = append(pids, pid)
	}
	return pids
}

// Count reports how many pids still have outstanding original values.
func (o *OriginalLimits) Count() int { return len(o.values) }

// AdjustmentsMap is the closed set of knobs a Strategy can set. Unknown
// keys are dropped by the executor and logged rather than applied.
type AdjustmentsMap map[string]any

// Valid knob names understood by the executor's dispatch table.
const (
	KnobCPUThreads     = "cpu_threads"
	KnobCPUFreq        = "cpu_freq"
	KnobNice           = "nice"
	KnobRAMAllocMB     = "ram_allocation_mb"
	KnobGPUPowerLimitW = "gpu_power_limit_w"
	KnobGPUUtilTarget  = "gpu_utilization_target"
	KnobIOPriorityCls  = "ionice_class"
	KnobNetBandwidthMb = "network_bandwidth_limit_mbps"
	KnobDropCaches     = "drop_caches"
	KnobDiskIOLimitMb  = "disk_io_limit_mbps"
)

// ActionVector is the 7-component output of the optimizer's model:
// cpu thread count, RAM allocation in MB, three GPU utilization-target
// slots, disk I/O cap in MB/s, and network cap in Mbps.
type ActionVector struct {
	CPUThreads int
	RAMMB      float64
	GPUUsage   [3]float64
	DiskIOMBps float64
	NetMbps    float64
}

// Features is the optimizer's six-value model input, in
// cpu_usage_percent, memory_usage_percent, gpu_usage_percent,
// disk_io_mbps, network_bandwidth_mbps, cache_limit_percent order.
type Features [6]float64

// Predictor maps a process's Features to a recommended ActionVector.
// The shipped implementation is a linear model (internal/optimizer);
// the interface exists so a richer model can replace it without
// touching the optimizer loop.
type Predictor interface {
	Predict(f Features) (ActionVector, error)
}

// CloakFlags selects which strategies a cloaking request should run.
type CloakFlags struct {
	CPU     bool
	GPU     bool
	Network bool
	Cache   bool
	DiskIO  bool
}

// CloakRequest is an incoming instruction to cloak a specific pid using
// a named set of strategies, submitted through Supervisor.RequestCloak
// and carried by the cloak-intake worker onto the adjustment queue.
type CloakRequest struct {
	PID        int
	Strategies []string
}

// AdjustmentTask is the unit of work carried on the priority queue.
// Exactly one of the payload fields is meaningful, selected by Kind.
type AdjustmentTask struct {
	Kind     TaskKind
	Priority int
	Seq      uint64 // insertion order, used as the FIFO tie-break

	Process *ManagedProcess

	// TaskFunctionCall
	Function string
	Args     []any

	// TaskMonitoring / TaskCloaking
	CloakFlags CloakFlags
	Strategies []string

	// TaskOptimization
	Action ActionVector
}

// NodeEnvelope holds the latest node-wide thermal/power readings.
// Sampled by the monitor loop each tick and checked there against the
// anomaly thresholds.
type NodeEnvelope struct {
	CPUTempC  float64
	GPUTempC  float64
	CPUPowerW float64
	GPUPowerW float64
	SampledAt time.Time
}
