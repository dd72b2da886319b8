package lifecycle

import (
	"context"
	"testing"

	"github.com/shadmanZero/mini_containier/internal/cerrors"
	"github.com/shadmanZero/mini_containier/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gvisor.dev/gvisor/pkg/cleanup"
)

func TestRun_RejectsEmptyImageName(t *testing.T) {
	cfg := config.New()
	cfg.ContainersPath = t.TempDir()

	_, err := Run(context.Background(), cfg, "", []string{"/bin/true"})
	require.Error(t, err)

	var argErr *cerrors.ArgumentFailure
	require.ErrorAs(t, err, &argErr)
	assert.True(t, argErr.Null)
	assert.Equal(t, 3, argErr.ExitCode())
}

func TestRun_RejectsEmptyCommand(t *testing.T) {
	cfg := config.New()
	cfg.ContainersPath = t.TempDir()

	_, err := Run(context.Background(), cfg, "alpine", nil)
	require.Error(t, err)

	var argErr *cerrors.ArgumentFailure
	require.ErrorAs(t, err, &argErr)
	assert.True(t, argErr.Null)
}

// TestStagedRollback_UndoesOnlyCompletedSteps exercises the same
// gvisor.dev/gvisor/pkg/cleanup pattern Run uses to stage teardown, with
// fake steps standing in for launcher.Launch/netattach.Attach so the
// ordering contract can be asserted without CAP_SYS_ADMIN: a failure partway
// through must only undo the steps that actually ran, in reverse order.
func TestStagedRollback_UndoesOnlyCompletedSteps(t *testing.T) {
	var undone []string

	cu := cleanup.Make(func() { undone = append(undone, "allocate") })
	defer cu.Clean()

	cu.Add(func() { undone = append(undone, "launch") })
	cu.Add(func() { undone = append(undone, "attach") })

	// Simulate the step after "attach" failing before it registers its own
	// cleanup; cu.Clean must unwind "attach", "launch", and "allocate" in
	// that order (the deferred Clean above is then a no-op).
	failed := true
	if failed {
		cu.Clean()
		assert.Equal(t, []string{"attach", "launch", "allocate"}, undone)
		return
	}
}

func TestStagedRollback_ReleaseSkipsCleanup(t *testing.T) {
	var undone []string

	cu := cleanup.Make(func() { undone = append(undone, "allocate") })
	cu.Add(func() { undone = append(undone, "launch") })

	cu.Release()
	cu.Clean()

	assert.Empty(t, undone)
}
