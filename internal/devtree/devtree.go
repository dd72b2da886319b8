// Package devtree populates the container's /proc, /sys, /dev (tmpfs),
// /dev/pts, character device nodes, and stdio symlinks, per spec.md §4.E.
//
// The plan (what to mount, what nodes to create, what to link) is
// constructed independently of the syscalls that apply it so the plan
// itself — which is what spec.md §8's testable properties 3-5 actually
// check — can be unit tested without CAP_SYS_ADMIN.
package devtree

import (
	"path/filepath"

	"github.com/shadmanZero/mini_containier/internal/cerrors"
	"golang.org/x/sys/unix"
)

// mountStep describes one mount(2) call relative to root.
type mountStep struct {
	target string
	fstype string
	flags  uintptr
	data   string
}

// device describes one mknod(2) character device relative to root.
type device struct {
	name  string
	mode  uint32
	major uint32
	minor uint32
}

// symlink describes one symlink(2) relative to root, with an absolute,
// un-prefixed target as spec.md §4.E item 6 requires.
type symlink struct {
	name   string
	target string
}

// Devices is the ordered table from spec.md §4.E, exported for tests.
var Devices = []device{
	{"urandom", 0o666, 1, 9},
	{"random", 0o666, 1, 8},
	{"full", 0o666, 1, 7},
	{"zero", 0o666, 1, 5},
	{"null", 0o666, 1, 3},
	{"tty", 0o666, 5, 0},
	{"console", 0o620, 5, 1},
	{"ptmx", 0o620, 5, 2},
}

// Symlinks is the ordered table from spec.md §4.E, exported for tests.
var Symlinks = []symlink{
	{"stdin", "/proc/self/fd/0"},
	{"stdout", "/proc/self/fd/1"},
	{"stderr", "/proc/self/fd/2"},
	{"kcore", "/proc/kcore"},
	{"fd", "/proc/fd"},
}

func mountPlan(root string) []mountStep {
	return []mountStep{
		{filepath.Join(root, "proc"), "proc", 0, ""},
		{filepath.Join(root, "sys"), "sysfs", 0, ""},
		{filepath.Join(root, "dev"), "tmpfs", 0, ""},
		{filepath.Join(root, "dev", "pts"), "devpts", 0, ""},
	}
}

// Populate applies the full device tree plan inside root. Must be called
// after the calling process has pivoted (or is about to pivot) into root's
// mount namespace; every mount/mknod/symlink failure is fatal per spec.md
// §4.E.
func Populate(root string) error {
	for _, m := range mountPlan(root) {
		if err := unix.Mkdir(m.target, 0o755); err != nil && err != unix.EEXIST {
			return &cerrors.FilesystemFailure{Op: "mkdir", Path: m.target, Err: err}
		}
		if err := unix.Mount(m.fstype, m.target, m.fstype, m.flags, m.data); err != nil {
			return &cerrors.FilesystemFailure{Op: "mount " + m.fstype, Path: m.target, Err: err}
		}
	}

	for _, d := range Devices {
		path := filepath.Join(root, "dev", d.name)
		devNum := unix.Mkdev(d.major, d.minor)
		if err := unix.Mknod(path, unix.S_IFCHR|d.mode, int(devNum)); err != nil {
			return &cerrors.FilesystemFailure{Op: "mknod", Path: path, Err: err}
		}
	}

	for _, s := range Symlinks {
		path := filepath.Join(root, "dev", s.name)
		if err := unix.Symlink(s.target, path); err != nil {
			return &cerrors.FilesystemFailure{Op: "symlink", Path: path, Err: err}
		}
	}

	return nil
}
