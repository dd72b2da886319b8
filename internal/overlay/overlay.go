// Package overlay creates the work/diff/root directory triad and mounts the
// overlay filesystem used as the container's new root, per spec.md §4.D.
package overlay

import (
	"context"
	"fmt"
	"os"

	"github.com/shadmanZero/mini_containier/internal/cerrors"
	"github.com/shadmanZero/mini_containier/internal/clog"
	"github.com/shadmanZero/mini_containier/internal/layout"
	"golang.org/x/sys/unix"
)

var log = clog.For("overlay")

// Mount creates rec.WorkDir, rec.DiffDir, rec.Root (mode 0755, fatal if any
// already exists) and mounts an overlay filesystem onto rec.Root with
// lowerdir=rec.ImagePath, upperdir=rec.DiffDir, workdir=rec.WorkDir.
func Mount(rec *layout.Record) error {
	for _, dir := range []string{rec.WorkDir, rec.DiffDir, rec.Root} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return &cerrors.FilesystemFailure{Op: "mkdir", Path: dir, Err: err}
		}
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", rec.ImagePath, rec.DiffDir, rec.WorkDir)
	if err := unix.Mount("overlay", rec.Root, "overlay", 0, opts); err != nil {
		return &cerrors.FilesystemFailure{Op: "mount overlay", Path: rec.Root, Err: err}
	}
	return nil
}

// Unmount best-effort-unmounts rec.Root. Called explicitly during teardown
// (strengthening the source, which relied purely on mount-namespace collapse
// when the child process exits — see SPEC_FULL.md §9 Open Question 2
// resolution in DESIGN.md).
func Unmount(ctx context.Context, rec *layout.Record) {
	if err := unix.Unmount(rec.Root, unix.MNT_DETACH); err != nil && err != unix.EINVAL {
		log.Warn().Err(err).Str("root", rec.Root).Msg("best-effort overlay unmount failed")
	}
}
