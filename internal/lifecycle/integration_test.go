//go:build linux && integration

// These scenarios exercise the full Run pipeline against real namespaces,
// overlay mounts, and netlink calls. They require root (CAP_SYS_ADMIN) and a
// pre-built images/alpine.tar.gz fixture, so they are skipped
// unless RUN_INTEGRATION=1 is set in the environment.
package lifecycle

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"testing"

	"github.com/shadmanZero/mini_containier/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") != "1" {
		t.Skip("set RUN_INTEGRATION=1 (and run as root) to exercise real namespaces")
	}
}

// S1: a fresh extraction, successful run, and full teardown.
func TestIntegration_S1_FreshRunTearsDownCleanly(t *testing.T) {
	requireIntegration(t)
	cfg := config.New()

	result, err := Run(context.Background(), cfg, "alpine", []string{"/bin/true"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)

	_, statErr := os.Stat(result.Record.ContainerDir)
	assert.True(t, os.IsNotExist(statErr), "container dir must be removed after teardown")
}

// S2: the allocated id is reported inside the container via hostname.
func TestIntegration_S2_HostnameMatchesID(t *testing.T) {
	requireIntegration(t)
	t.Skip("requires capturing child stdout through the real exec path; exercised manually per spec.md S2")
}

// S3: the device tree contains every entry spec.md §4.E documents. Exercised
// against the built `container` binary rather than Run directly, since by
// the time Run returns teardown has already unmounted and removed the
// device tree.
func TestIntegration_S3_DevTreePopulated(t *testing.T) {
	requireIntegration(t)

	bin := os.Getenv("CONTAINER_BIN")
	if bin == "" {
		t.Skip("set CONTAINER_BIN to the built container binary to exercise S3")
	}

	cmd := exec.Command(bin, "run", "alpine", "/bin/sh", "-c", "ls /dev")
	var out bytes.Buffer
	cmd.Stdout = &out
	require.NoError(t, cmd.Run())

	for _, name := range []string{"console", "full", "null", "ptmx", "pts", "random", "stderr", "stdin", "stdout", "tty", "urandom", "zero", "kcore", "fd"} {
		assert.Contains(t, out.String(), name)
	}
}

// S4: the second run against the same image is a cache hit.
func TestIntegration_S4_SecondRunIsCacheHit(t *testing.T) {
	requireIntegration(t)
	cfg := config.New()

	_, err := Run(context.Background(), cfg, "alpine", []string{"/bin/true"})
	require.NoError(t, err)
	_, err = Run(context.Background(), cfg, "alpine", []string{"/bin/true"})
	require.NoError(t, err)

	_, statErr := os.Stat(cfg.ContainersPath + "/__extracted/alpine")
	assert.NoError(t, statErr)
}

// S5: a missing image archive makes Run return an error.
func TestIntegration_S5_MissingImageAborts(t *testing.T) {
	requireIntegration(t)
	cfg := config.New()

	_, err := Run(context.Background(), cfg, "does-not-exist", []string{"/bin/true"})
	require.Error(t, err)
}

// S6: running without CAP_SYS_ADMIN fails with a named syscall.
func TestIntegration_S6_WithoutCapSysAdminNamesTheSyscall(t *testing.T) {
	requireIntegration(t)
	if os.Geteuid() == 0 {
		t.Skip("this scenario specifically requires dropping CAP_SYS_ADMIN; not exercised while running as root")
	}

	cfg := config.New()
	_, err := Run(context.Background(), cfg, "alpine", []string{"/bin/true"})
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`(?i)namespace|clone|unshare`), err.Error())
}
