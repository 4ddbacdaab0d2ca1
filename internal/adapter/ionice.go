package adapter

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// ionice class constants, matching Linux's linux/ioprio.h.
const (
	IOPrioClassNone = 0
	IOPrioClassRT   = 1
	IOPrioClassBE   = 2
	IOPrioClassIdle = 3
)

const (
	ioprioWhoProcess = 1
	ioprioClassShift = 13
)

// IONice sets and reads a process's I/O scheduling class via the
// ioprio_set/ioprio_get syscalls (no external `ionice` binary needed).
type IONice struct{}

func NewIONice() *IONice { return &IONice{} }

// SetClass sets pid's I/O priority class (best-effort priority 4 within
// the class), returning the prior class for restore.
func (n *IONice) SetClass(pid, class int) (prior int, err error) {
	prior, _ = n.GetClass(pid)

	ioprio := (class << ioprioClassShift) | 4
	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, uintptr(ioprioWhoProcess), uintptr(pid), uintptr(ioprio))
	if errno != 0 {
		return prior, fmt.Errorf("%w: ioprio_set pid=%d: %v", cloakerr.ErrAdapterTransient, pid, errno)
	}
	return prior, nil
}

// GetClass reads pid's current I/O priority class.
func (n *IONice) GetClass(pid int) (int, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOPRIO_GET, uintptr(ioprioWhoProcess), uintptr(pid), 0)
	if errno != 0 {
		return IOPrioClassBE, fmt.Errorf("%w: ioprio_get pid=%d: %v", cloakerr.ErrAdapterTransient, pid, errno)
	}
	return int(ret) >> ioprioClassShift, nil
}
