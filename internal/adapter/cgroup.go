package adapter

import (
	"fmt"
	"os"
	"path/filepath"

	cgroup2 "github.com/containerd/cgroups/v3/cgroup2"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// Cgroup caps a process's RAM usage via its cgroup v2 memory.max,
// resolving the "should RAM be cgroup-backed" open question in favor of
// yes: a per-pid rlimit has no enforcement teeth for RSS, while
// memory.max on the process's own (or a cloakgov-owned) cgroup is the
// actual kernel mechanism Linux provides for a hard memory ceiling.
type Cgroup struct {
	root      string
	available bool
}

// NewCgroup detects cgroup v2 by checking for cgroup.controllers at
// root, the same check the teacher's container collector uses.
func NewCgroup(root string) *Cgroup {
	_, err := os.Stat(filepath.Join(root, "cgroup.controllers"))
	return &Cgroup{root: root, available: err == nil}
}

func (c *Cgroup) Available() bool { return c.available }

// SetMemoryLimitMB caps pid's cgroup to limitMB megabytes, returning the
// prior limit in MB (0 meaning "unlimited"/"max"). If cgroup v2 is not
// mounted, this is a no-op reported as ErrAdapterPermanent, which the
// executor logs on each attempt before moving on.
func (c *Cgroup) SetMemoryLimitMB(pid int, limitMB float64) (priorMB float64, err error) {
	if !c.available {
		return 0, fmt.Errorf("%w: cgroup v2 not mounted at %s", cloakerr.ErrAdapterPermanent, c.root)
	}

	path, err := cgroup2.PidGroupPath(pid)
	if err != nil {
		return 0, fmt.Errorf("%w: resolve cgroup for pid=%d: %v", cloakerr.ErrProcessGone, pid, err)
	}

	manager, err := cgroup2.Load(path)
	if err != nil {
		return 0, fmt.Errorf("%w: load cgroup %s: %v", cloakerr.ErrAdapterTransient, path, err)
	}

	if stat, err := manager.Stat(); err == nil && stat.Memory != nil && stat.Memory.UsageLimit > 0 {
		priorMB = float64(stat.Memory.UsageLimit) / (1024 * 1024)
	}

	limitBytes := int64(limitMB * 1024 * 1024)
	res := cgroup2.Resources{Memory: &cgroup2.Memory{Max: &limitBytes}}
	if err := manager.Update(&res); err != nil {
		return priorMB, fmt.Errorf("%w: update cgroup %s: %v", cloakerr.ErrAdapterTransient, path, err)
	}
	return priorMB, nil
}
