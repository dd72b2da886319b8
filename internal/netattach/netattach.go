// Package netattach wires a container's network namespace to the host
// bridge: netns pinning, veth pair creation, bridge attach, addressing, and
// routing, per spec.md §4.F.
//
// The source shells out to the `ip` binary for every step here. Per the
// redesign note in spec.md §9 ("an implementer may choose to replace these
// with library calls provided the observable filesystem/network state is
// identical"), this implementation drives the kernel directly through
// github.com/vishvananda/netlink, grounded on
// onkernel-hypeman/lib/network/bridge.go's veth/bridge/route wiring — see
// DESIGN.md component F.
package netattach

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/shadmanZero/mini_containier/internal/cerrors"
	"github.com/shadmanZero/mini_containier/internal/clog"
	"github.com/shadmanZero/mini_containier/internal/config"
	"github.com/shadmanZero/mini_containier/internal/layout"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

var log = clog.For("netattach")

const netnsDir = "/var/run/netns"

// Phase names the netns state machine from spec.md §4.F:
// absent -> pinned -> wired -> addressed -> up.
type Phase int

const (
	PhaseAbsent Phase = iota
	PhasePinned
	PhaseWired
	PhaseAddressed
	PhaseUp
)

// State records how far Attach got, so Detach only undoes what actually
// happened.
type State struct {
	Phase      Phase
	NetnsPath  string
	VethHost   string
	VethGuest  string
	BridgeName string
}

// Attach drives the full state machine for rec against childPID's network
// namespace.
func Attach(ctx context.Context, cfg config.Defaults, rec *layout.Record, childPID int) (*State, error) {
	st := &State{
		NetnsPath:  fmt.Sprintf("%s/%s", netnsDir, rec.NetnsName),
		VethHost:   rec.VethHost,
		VethGuest:  rec.VethContainer,
		BridgeName: cfg.BridgeName,
	}

	if err := pinNetns(st.NetnsPath, childPID); err != nil {
		return st, err
	}
	st.Phase = PhasePinned

	if err := createVeth(st.VethHost, st.VethGuest); err != nil {
		return st, err
	}

	guestLink, err := netlink.LinkByName(st.VethGuest)
	if err != nil {
		return st, &cerrors.NamespaceFailure{Op: "lookup veth guest", Err: err}
	}
	nsHandle, err := netns.GetFromPath(st.NetnsPath)
	if err != nil {
		return st, &cerrors.NamespaceFailure{Op: "open netns", Err: err}
	}
	defer nsHandle.Close()

	if err := netlink.LinkSetNsFd(guestLink, int(nsHandle)); err != nil {
		return st, &cerrors.NamespaceFailure{Op: "move veth into netns", Err: err}
	}
	st.Phase = PhaseWired

	if err := attachToBridge(st.VethHost, st.BridgeName, cfg.BridgeGateway); err != nil {
		return st, err
	}

	if err := addressGuestSide(st.NetnsPath, st.VethGuest, cfg.ContainerCIDR, cfg.BridgeGateway); err != nil {
		return st, err
	}
	st.Phase = PhaseAddressed

	hostLink, err := netlink.LinkByName(st.VethHost)
	if err != nil {
		return st, &cerrors.NamespaceFailure{Op: "lookup veth host", Err: err}
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		return st, &cerrors.NamespaceFailure{Op: "set veth host up", Err: err}
	}
	st.Phase = PhaseUp

	log.Info().Str("id", rec.ID).Str("cidr", cfg.ContainerCIDR).Msg("network attached")
	return st, nil
}

// pinNetns materializes a persistent netns handle by bind-mounting the
// child's /proc/<pid>/ns/net onto /var/run/netns/ns<id>, following the
// touch+chmod-0+bind-mount recipe from spec.md §4.F step 1.
func pinNetns(netnsPath string, childPID int) error {
	if err := os.MkdirAll(netnsDir, 0o755); err != nil {
		return &cerrors.FilesystemFailure{Op: "mkdir", Path: netnsDir, Err: err}
	}

	f, err := os.OpenFile(netnsPath, os.O_CREATE|os.O_EXCL, 0o000)
	if err != nil {
		return &cerrors.FilesystemFailure{Op: "touch", Path: netnsPath, Err: err}
	}
	f.Close()

	if err := os.Chmod(netnsPath, 0o000); err != nil {
		return &cerrors.FilesystemFailure{Op: "chmod", Path: netnsPath, Err: err}
	}

	childNetnsFD := fmt.Sprintf("/proc/%d/ns/net", childPID)
	if err := unix.Mount(childNetnsFD, netnsPath, "", unix.MS_BIND, ""); err != nil {
		return &cerrors.FilesystemFailure{Op: "bind mount netns", Path: netnsPath, Err: err}
	}
	return nil
}

// createVeth creates a veth pair host<->guest on the host's default
// namespace.
func createVeth(hostName, guestName string) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: hostName},
		PeerName:  guestName,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return &cerrors.NamespaceFailure{Op: "create veth pair", Err: err}
	}
	return nil
}

// attachToBridge creates the bridge if it doesn't exist (supplemented
// feature, see SPEC_FULL.md §4.F) and slaves the host veth end to it.
func attachToBridge(hostVeth, bridgeName, gateway string) error {
	br, err := netlink.LinkByName(bridgeName)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); !ok {
			return &cerrors.NamespaceFailure{Op: "lookup bridge", Err: err}
		}
		newBr := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: bridgeName}}
		if err := netlink.LinkAdd(newBr); err != nil {
			return &cerrors.NamespaceFailure{Op: "create bridge", Err: err}
		}
		if err := netlink.LinkSetUp(newBr); err != nil {
			return &cerrors.NamespaceFailure{Op: "set bridge up", Err: err}
		}
		if addr, err := netlink.ParseAddr(gateway + "/16"); err == nil {
			_ = netlink.AddrAdd(newBr, addr)
		}
		br = newBr
	}

	hostLink, err := netlink.LinkByName(hostVeth)
	if err != nil {
		return &cerrors.NamespaceFailure{Op: "lookup veth host", Err: err}
	}
	if err := netlink.LinkSetMaster(hostLink, br); err != nil {
		return &cerrors.NamespaceFailure{Op: "attach veth to bridge", Err: err}
	}
	return nil
}

// addressGuestSide enters the target netns, assigns the container IP to the
// guest veth end, brings it and lo up, and installs the default route.
// vishvananda/netns requires the calling goroutine's OS thread to be locked
// for the duration of the namespace switch.
func addressGuestSide(netnsPath, guestName, cidr, gateway string) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return &cerrors.NamespaceFailure{Op: "get origin netns", Err: err}
	}
	defer origin.Close()

	target, err := netns.GetFromPath(netnsPath)
	if err != nil {
		return &cerrors.NamespaceFailure{Op: "open target netns", Err: err}
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return &cerrors.NamespaceFailure{Op: "enter target netns", Err: err}
	}
	defer netns.Set(origin)

	guestLink, err := netlink.LinkByName(guestName)
	if err != nil {
		return &cerrors.NamespaceFailure{Op: "lookup veth guest", Err: err}
	}

	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("parse container cidr %q: %w", cidr, err)
	}
	if err := netlink.AddrAdd(guestLink, addr); err != nil {
		return &cerrors.NamespaceFailure{Op: "address veth guest", Err: err}
	}

	if err := netlink.LinkSetUp(guestLink); err != nil {
		return &cerrors.NamespaceFailure{Op: "set veth guest up", Err: err}
	}

	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return &cerrors.NamespaceFailure{Op: "lookup lo", Err: err}
	}
	if err := netlink.LinkSetUp(lo); err != nil {
		return &cerrors.NamespaceFailure{Op: "set lo up", Err: err}
	}

	gw := net.ParseIP(gateway)
	if gw == nil {
		return fmt.Errorf("parse gateway %q", gateway)
	}
	route := &netlink.Route{
		LinkIndex: guestLink.Attrs().Index,
		Gw:        gw,
	}
	if err := netlink.RouteAdd(route); err != nil {
		return &cerrors.NamespaceFailure{Op: "add default route", Err: err}
	}

	return nil
}

// Detach best-effort-reverses Attach: delete the veth pair (which also
// removes its peer inside the netns) and delete the pinned netns file, per
// spec.md §4.F teardown. The bridge itself is never removed; it is shared,
// host-lifetime state.
func Detach(ctx context.Context, st *State) {
	if st == nil || st.Phase == PhaseAbsent {
		return
	}

	if link, err := netlink.LinkByName(st.VethHost); err == nil {
		if err := netlink.LinkDel(link); err != nil {
			log.Warn().Err(err).Str("veth", st.VethHost).Msg("best-effort veth delete failed")
		}
	}

	if err := unix.Unmount(st.NetnsPath, 0); err != nil && err != unix.EINVAL && err != unix.ENOENT {
		log.Warn().Err(err).Str("netns", st.NetnsPath).Msg("best-effort netns unmount failed")
	}
	if err := os.Remove(st.NetnsPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("netns", st.NetnsPath).Msg("best-effort netns file removal failed")
	}
}
