// Package procexec provides the best-effort teardown helper the container
// lifecycle engine's Lifecycle Controller uses to reclaim a container
// directory, per spec.md §4.B/§7 ("a separate exec_command_best_effort
// variant logs but does not abort; used only in teardown").
//
// spec.md §4.B describes this component as wrapping a host helper binary
// (tar/ip/rm); SPEC_FULL.md §4.C/§4.F/§6 narrow every one
// of those call sites to an in-process equivalent (archive/tar+compress/gzip
// for extraction, netlink for networking, os.RemoveAll for teardown), so
// there is no remaining helper-binary invocation left for a fatal "Run" to
// wrap — only the best-effort removal path survives.
package procexec

import (
	"os"

	"github.com/shadmanZero/mini_containier/internal/clog"
)

// RemoveAllBestEffort recursively removes path and logs a failure instead of
// returning one. This is the in-process equivalent of the best-effort
// "rm -rf container_dir" teardown step spec.md §4.H describes; SPEC_FULL.md
// §6 narrows the host-binary requirement to none, so teardown uses
// os.RemoveAll here rather than shelling out to rm.
func RemoveAllBestEffort(log clog.Logger, path string) {
	if err := os.RemoveAll(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("best-effort remove failed")
	}
}
