// Package lifecycle is the container lifecycle engine's orchestrator
// (spec.md §4.H). It builds a Container Record (internal/cid,
// internal/layout), launches the container init in fresh namespaces
// (internal/launcher), attaches the parent-side networking
// (internal/netattach), waits for the child to exit, and tears everything
// down in reverse order.
//
// Setup is staged with gvisor.dev/gvisor/pkg/cleanup so a failure partway
// through only undoes the steps that actually completed — the same pattern
// onkernel-hypeman/lib/instances/create.go uses for VM instance creation,
// adapted here to container construction (DESIGN.md component H).
//
// This package intentionally implements no cgroup, seccomp, or capability
// confinement: the container is isolated by namespaces alone, matching
// spec.md §1's acknowledged non-goals.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shadmanZero/mini_containier/internal/cerrors"
	"github.com/shadmanZero/mini_containier/internal/cid"
	"github.com/shadmanZero/mini_containier/internal/clog"
	"github.com/shadmanZero/mini_containier/internal/config"
	"github.com/shadmanZero/mini_containier/internal/launcher"
	"github.com/shadmanZero/mini_containier/internal/layout"
	"github.com/shadmanZero/mini_containier/internal/netattach"
	"github.com/shadmanZero/mini_containier/internal/overlay"
	"github.com/shadmanZero/mini_containier/internal/procexec"
	"gvisor.dev/gvisor/pkg/cleanup"
)

var log = clog.For("lifecycle")

// Result is what a completed Run produced. ExitCode is recorded even though
// the CLI's own process exit code doesn't propagate it (spec.md §9 Open
// Question, resolved in DESIGN.md): library callers and tests can still see
// what the user's command actually returned.
type Result struct {
	ID       string
	ExitCode int
	Record   *layout.Record
}

// Run builds, launches, and tears down one container executing command
// inside imageName, following spec.md §3 invariant 2's required ordering:
// image-cache present -> container_dir created -> overlay mounted -> in-
// child mounts present -> network attached -> user command execed.
func Run(ctx context.Context, cfg config.Defaults, imageName string, command []string) (*Result, error) {
	if imageName == "" {
		return nil, &cerrors.ArgumentFailure{Msg: "image name must not be empty", Null: true}
	}
	if len(command) == 0 {
		return nil, &cerrors.ArgumentFailure{Msg: "command must not be empty", Null: true}
	}

	id, containerDir, err := cid.Allocate(cfg.ContainersPath, cfg.IDLength)
	if err != nil {
		return nil, err
	}
	log.Info().Str("id", id).Str("image", imageName).Msg("creating container")

	rec, err := layout.ForID(id, containerDir, cfg.ImagesPath, cfg.ContainersPath, imageName)
	if err != nil {
		return nil, err
	}

	// Record the image name alongside the container directory so
	// imagecache.Prune can tell a live container's image is still in use
	// (SPEC_FULL.md §4.C).
	_ = os.WriteFile(filepath.Join(containerDir, "image"), []byte(imageName), 0o644)

	cu := cleanup.Make(func() {
		log.Warn().Str("id", id).Msg("tearing down after setup failure")
		removeContainerDir(ctx, containerDir)
	})
	defer cu.Clean()

	handle, err := launcher.Launch(ctx, cfg, rec, command)
	if err != nil {
		return nil, err
	}
	cu.Add(func() {
		// If launch succeeded but a later step (network attach) failed
		// before the child reached its network-ready gate, it must never be
		// released past that gate: signaling it here would let it pivot and
		// exec fully isolated but with no network and no controller left to
		// wait on it, defeating the whole point of the handshake (spec.md
		// §9). Kill it instead, per spec.md §7's fail-fast/abort semantics.
		handle.Kill()
	})

	netState, err := netattach.Attach(ctx, cfg, rec, handle.PID())
	if err != nil {
		// Undo whatever part of the attach completed (netState.Phase says how far).
		netattach.Detach(ctx, netState)
		return nil, err
	}
	cu.Add(func() {
		netattach.Detach(ctx, netState)
	})

	if err := handle.SignalNetworkReady(); err != nil {
		return nil, fmt.Errorf("signal network ready: %w", err)
	}

	exitCode, waitErr := handle.Wait()
	if waitErr != nil {
		log.Warn().Err(waitErr).Str("id", id).Msg("container init reported failure")
	}

	// Graceful teardown path: unmount the overlay explicitly (strengthening
	// the source's reliance on implicit mount-namespace collapse, see
	// SPEC_FULL.md §9 Open Question 2) before removing the container
	// directory.
	overlay.Unmount(ctx, rec)
	netattach.Detach(ctx, netState)
	removeContainerDir(ctx, containerDir)

	cu.Release() // graceful path already performed everything cu's steps would

	log.Info().Str("id", id).Int("exit_code", exitCode).Msg("container finished")
	return &Result{ID: id, ExitCode: exitCode, Record: rec}, waitErr
}

// removeContainerDir is the in-process equivalent of spec.md §4.H teardown
// step 2's "rm -rf container_dir" — this also removes work/, diff/, and the
// (by now unmounted) root/ tree. SPEC_FULL.md §6 narrows the external-binary
// requirement to none, so this goes through os.RemoveAll rather than a real
// rm subprocess.
func removeContainerDir(ctx context.Context, containerDir string) {
	procexec.RemoveAllBestEffort(log, containerDir)
}
