// Package adapter wraps the Linux kernel interfaces cloakgov's executor
// uses to actually throttle a process: CPU affinity/frequency/niceness,
// ionice class, GPU power caps, network shaping, cgroup memory caps,
// page-cache dropping, and thermal/power sensors, one file per knob
// family, mirroring the teacher's collector package. Each adapter call is
// a single attempt, except that the GPU adapter retries its NVML device
// handle lookup (cloakerr.Retry); the executor logs a failed call and
// does not retry it.
package adapter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// CPU adapts CPU affinity, frequency, and scheduling niceness for a pid.
type CPU struct {
	sysRoot string
}

func NewCPU(sysRoot string) *CPU {
	return &CPU{sysRoot: sysRoot}
}

// SetAffinity pins pid to the first n CPUs (0..n-1). It returns the
// previously-affined CPU count so callers can snapshot it for restore.
func (c *CPU) SetAffinity(pid, threads int) (prior int, err error) {
	prior, _ = c.GetAffinityCount(pid)

	if threads <= 0 {
		return prior, fmt.Errorf("%w: cpu threads must be positive", cloakerr.ErrAdapterPermanent)
	}

	var set unix.CPUSet
	for i := 0; i < threads && i < maxAffinityCPUs; i++ {
		set.Set(i)
	}
	if err := unix.SchedSetaffinity(pid, &set); err != nil {
		return prior, fmt.Errorf("%w: sched_setaffinity pid=%d: %v", cloakerr.ErrAdapterTransient, pid, err)
	}
	return prior, nil
}

// GetAffinityCount reports how many CPUs are currently in pid's
// affinity mask.
func (c *CPU) GetAffinityCount(pid int) (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(pid, &set); err != nil {
		return 0, fmt.Errorf("%w: sched_getaffinity pid=%d: %v", cloakerr.ErrAdapterTransient, pid, err)
	}
	n := 0
	for i := 0; i < maxAffinityCPUs; i++ {
		if set.IsSet(i) {
			n++
		}
	}
	return n, nil
}

// maxAffinityCPUs bounds the CPUs we scan in a unix.CPUSet; Linux hosts
// rarely exceed this, and SchedSetaffinity/SchedGetaffinity themselves
// only ever populate bits in range for the host's actual CPU count.
const maxAffinityCPUs = 1024

// SetFrequency writes a target frequency (kHz) to every CPU's
// scaling_setspeed file, the userspace-governor equivalent of the
// original's cpupower-based throttling. Missing governor support is
// logged by the caller, not retried here.
func (c *CPU) SetFrequency(khz int) (prior int, err error) {
	base := filepath.Join(c.sysRoot, "devices", "system", "cpu")
	entries, rerr := os.ReadDir(base)
	if rerr != nil {
		return 0, fmt.Errorf("%w: read %s: %v", cloakerr.ErrAdapterPermanent, base, rerr)
	}

	wrote := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "cpu") || !isDigitSuffix(e.Name()) {
			continue
		}
		path := filepath.Join(base, e.Name(), "cpufreq", "scaling_setspeed")
		if prior == 0 {
			if cur, err := os.ReadFile(path); err == nil {
				if v, err := strconv.Atoi(strings.TrimSpace(string(cur))); err == nil {
					prior = v
				}
			}
		}
		if err := os.WriteFile(path, []byte(strconv.Itoa(khz)), 0o644); err == nil {
			wrote++
		}
	}
	if wrote == 0 {
		return prior, fmt.Errorf("%w: no cpufreq scaling_setspeed nodes writable", cloakerr.ErrAdapterPermanent)
	}
	return prior, nil
}

// SetNice adjusts pid's scheduling niceness, returning the prior value.
func (c *CPU) SetNice(pid, nice int) (prior int, err error) {
	prior, gerr := syscall.Getpriority(syscall.PRIO_PROCESS, pid)
	if gerr == nil {
		prior = 20 - prior // Getpriority returns 20-nice
	}
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, pid, nice); err != nil {
		return prior, fmt.Errorf("%w: setpriority pid=%d: %v", cloakerr.ErrAdapterTransient, pid, err)
	}
	return prior, nil
}

func isDigitSuffix(name string) bool {
	suffix := strings.TrimPrefix(name, "cpu")
	if suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// LoadPercent reads /proc/loadavg's 1-minute average as a rough 0-100+
// system load figure. The cpu_load_throttle strategy does not use it; it
// tiers on the process's own CPUPercent.
func LoadPercent(procRoot string) (float64, error) {
	f, err := os.Open(filepath.Join(procRoot, "loadavg"))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", cloakerr.ErrSensorUnavailable, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("%w: empty loadavg", cloakerr.ErrSensorUnavailable)
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 1 {
		return 0, fmt.Errorf("%w: malformed loadavg", cloakerr.ErrSensorUnavailable)
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse loadavg: %v", cloakerr.ErrSensorUnavailable, err)
	}
	return load1 * 100 / float64(runtime.NumCPU()), nil
}
