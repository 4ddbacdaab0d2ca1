package adapter

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// Network shapes egress bandwidth with a tbf (token bucket filter) root
// qdisc on the configured interface, replacing the original's tc-binary
// shell-out with direct rtnetlink calls. The qdisc applies to all traffic
// on the interface; packets are not matched by a process's NetworkMark.
type Network struct {
	iface string
}

func NewNetwork(iface string) *Network { return &Network{iface: iface} }

// tbfHandle is a fixed major/minor pair cloakgov owns on the interface;
// a real tc deployment would allocate per-mark handles, but a single
// root qdisc is sufficient for the one-interface-per-host model here.
var tbfHandle = netlink.MakeHandle(1, 0)

// AddTokenBucket installs (or replaces) a tbf qdisc capping egress to
// rateMbps on the configured interface.
func (n *Network) AddTokenBucket(rateMbps float64) error {
	link, err := netlink.LinkByName(n.iface)
	if err != nil {
		return fmt.Errorf("%w: link %s: %v", cloakerr.ErrAdapterPermanent, n.iface, err)
	}

	rateBps := uint64(rateMbps * 1_000_000 / 8)
	qdisc := &netlink.Tbf{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: link.Attrs().Index,
			Handle:    tbfHandle,
			Parent:    netlink.HANDLE_ROOT,
		},
		Rate:   rateBps,
		Limit:  uint32(rateBps), // ~1s buffer
		Buffer: uint32(rateBps / 10),
	}
	if err := netlink.QdiscReplace(qdisc); err != nil {
		return fmt.Errorf("%w: qdisc replace on %s: %v", cloakerr.ErrAdapterTransient, n.iface, err)
	}
	return nil
}

// RemoveTokenBucket deletes cloakgov's tbf qdisc, restoring the
// interface's default (pfifo_fast) discipline.
func (n *Network) RemoveTokenBucket() error {
	link, err := netlink.LinkByName(n.iface)
	if err != nil {
		return fmt.Errorf("%w: link %s: %v", cloakerr.ErrAdapterPermanent, n.iface, err)
	}
	qdisc := &netlink.Tbf{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: link.Attrs().Index,
			Handle:    tbfHandle,
			Parent:    netlink.HANDLE_ROOT,
		},
	}
	if err := netlink.QdiscDel(qdisc); err != nil {
		return fmt.Errorf("%w: qdisc del on %s: %v", cloakerr.ErrAdapterTransient, n.iface, err)
	}
	return nil
}
