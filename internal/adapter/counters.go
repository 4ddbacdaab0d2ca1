package adapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	psprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// ProcessCounters samples per-process CPU%, memory%, and cumulative
// disk I/O bytes via gopsutil, replacing the teacher's hand-rolled
// two-point /proc/[pid]/stat parse. Each Read builds a fresh gopsutil
// process handle, so CPUPercent is gopsutil's average over the process's
// lifetime, not over the interval since the previous Read.
type ProcessCounters struct{}

func NewProcessCounters() *ProcessCounters { return &ProcessCounters{} }

// Sample is one process's instantaneous counters.
type Sample struct {
	CPUPercent  float64
	MemPercent  float32
	DiskIOBytes uint64
	// NonBlockIOBytes approximates network + pipe + other non-block-device
	// I/O as (rchar+wchar) - (read_bytes+write_bytes) from /proc/[pid]/io,
	// a widely used procfs trick since Linux has no per-pid network byte
	// counter outside netlink INET_DIAG socket accounting.
	NonBlockIOBytes uint64
}

// Read samples pid's counters. ErrProcessGone is returned if the pid no
// longer exists, so callers can evict it from the registry.
func (p *ProcessCounters) Read(ctx context.Context, pid int) (Sample, error) {
	proc, err := psprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Sample{}, fmt.Errorf("%w: pid=%d: %v", cloakerr.ErrProcessGone, pid, err)
	}

	cpuPct, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: cpu_percent pid=%d: %v", cloakerr.ErrProcessGone, pid, err)
	}
	memPct, err := proc.MemoryPercentWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: mem_percent pid=%d: %v", cloakerr.ErrProcessGone, pid, err)
	}

	var sample = Sample{CPUPercent: cpuPct, MemPercent: memPct}

	if io, err := proc.IOCountersWithContext(ctx); err == nil && io != nil {
		sample.DiskIOBytes = io.ReadBytes + io.WriteBytes
		if rchar, wchar, ok := readProcIOChars(pid); ok {
			total := rchar + wchar
			if total > sample.DiskIOBytes {
				sample.NonBlockIOBytes = total - sample.DiskIOBytes
			}
		}
	}

	return sample, nil
}

// readProcIOChars reads the rchar/wchar fields from /proc/[pid]/io,
// which gopsutil's IOCounters does not expose (it only surfaces the
// block-device read_bytes/write_bytes fields).
func readProcIOChars(pid int) (rchar, wchar uint64, ok bool) {
	f, err := os.Open(filepath.Join("/proc", strconv.Itoa(pid), "io"))
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	found := 0
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "rchar":
			rchar, _ = strconv.ParseUint(fields[1], 10, 64)
			found++
		case "wchar":
			wchar, _ = strconv.ParseUint(fields[1], 10, 64)
			found++
		}
	}
	return rchar, wchar, found == 2
}

// Discovered is a process matched by DiscoverByName: its pid and the
// name that matched, so callers can classify it (priority lookup, GPU
// eligibility) without re-reading /proc.
type Discovered struct {
	PID  int
	Name string
}

// DiscoverByName returns every running pid (with its matched name)
// whose process name contains one of the given case-insensitive
// substrings (the cmdline is not searched), mirroring the original's keyword-based
// MiningProcess classification.
func DiscoverByName(ctx context.Context, substrings []string) ([]Discovered, error) {
	procs, err := psprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list processes: %v", cloakerr.ErrSensorUnavailable, err)
	}

	var matched []Discovered
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		for _, s := range substrings {
			if strings.Contains(strings.ToLower(name), strings.ToLower(s)) {
				matched = append(matched, Discovered{PID: int(proc.Pid), Name: name})
				break
			}
		}
	}
	return matched, nil
}
