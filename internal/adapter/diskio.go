package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	cgroup2 "github.com/containerd/cgroups/v3/cgroup2"
	"golang.org/x/sys/unix"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// DiskIO caps a process's disk throughput via cgroup v2 io.max. io.max
// needs an explicit major:minor device pair rather than the typed
// memory.max field cgroup2.Resources exposes, so this writes the
// control file directly -- the same sysfs-direct-write style as
// internal/adapter/cpu.go's scaling_setspeed writer -- instead of going
// through the cgroup2 resources API.
type DiskIO struct {
	root      string
	available bool
}

func NewDiskIO(root string) *DiskIO {
	_, err := os.Stat(filepath.Join(root, "cgroup.controllers"))
	return &DiskIO{root: root, available: err == nil}
}

func (d *DiskIO) Available() bool { return d.available }

// rootDevice resolves the major:minor of the block device backing "/".
// cloakgov does not track per-process mount namespaces, so every io.max
// line this adapter writes targets the root filesystem's device.
func rootDevice() (major, minor uint32, err error) {
	var st unix.Stat_t
	if err := unix.Stat("/", &st); err != nil {
		return 0, 0, err
	}
	dev := uint64(st.Dev)
	return unix.Major(dev), unix.Minor(dev), nil
}

// SetLimitMBps caps pid's cgroup read+write throughput to limitMBps on
// the root block device, returning the prior cap in MB/s (0 meaning
// "max"/unlimited).
func (d *DiskIO) SetLimitMBps(pid int, limitMBps float64) (priorMBps float64, err error) {
	if !d.available {
		return 0, fmt.Errorf("%w: cgroup v2 not mounted at %s", cloakerr.ErrAdapterPermanent, d.root)
	}

	path, err := cgroup2.PidGroupPath(pid)
	if err != nil {
		return 0, fmt.Errorf("%w: resolve cgroup for pid=%d: %v", cloakerr.ErrProcessGone, pid, err)
	}
	ioMaxPath := filepath.Join(d.root, path, "io.max")

	major, minor, err := rootDevice()
	if err != nil {
		return 0, fmt.Errorf("%w: resolve root device: %v", cloakerr.ErrAdapterTransient, err)
	}

	priorMBps = d.readCurrentLimitMBps(ioMaxPath, major, minor)

	limitBytes := int64(limitMBps * 1024 * 1024)
	line := fmt.Sprintf("%d:%d rbps=%d wbps=%d\n", major, minor, limitBytes, limitBytes)
	if err := os.WriteFile(ioMaxPath, []byte(line), 0); err != nil {
		return priorMBps, fmt.Errorf("%w: write %s: %v", cloakerr.ErrAdapterTransient, ioMaxPath, err)
	}
	return priorMBps, nil
}

// readCurrentLimitMBps parses the existing rbps value for major:minor
// out of io.max, defaulting to 0 ("max") if absent or unparsable.
func (d *DiskIO) readCurrentLimitMBps(ioMaxPath string, major, minor uint32) float64 {
	data, err := os.ReadFile(ioMaxPath)
	if err != nil {
		return 0
	}
	prefix := fmt.Sprintf("%d:%d ", major, minor)
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		for _, field := range strings.Fields(line)[1:] {
			v, ok := strings.CutPrefix(field, "rbps=")
			if !ok {
				continue
			}
			if v == "max" {
				return 0
			}
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return float64(n) / (1024 * 1024)
			}
		}
	}
	return 0
}
