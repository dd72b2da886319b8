package layout

import (
	"strings"
	"testing"

	"github.com/shadmanZero/mini_containier/internal/cerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_RejectsOverflow(t *testing.T) {
	longPart := strings.Repeat("a", PathMax)
	_, err := Join("/containers", longPart)
	require.Error(t, err)

	var overflow *cerrors.PathOverflow
	assert.ErrorAs(t, err, &overflow)
}

func TestJoin_WithinLimit(t *testing.T) {
	p, err := Join("/containers", "abcd1234", "root")
	require.NoError(t, err)
	assert.Equal(t, "/containers/abcd1234/root", p)
}

func TestForID_DerivesExpectedPaths(t *testing.T) {
	rec, err := ForID("abcd1234ef", "containers/abcd1234ef", "images", "containers", "alpine")
	require.NoError(t, err)

	assert.Equal(t, "containers/abcd1234ef/root", rec.Root)
	assert.Equal(t, "containers/abcd1234ef/work", rec.WorkDir)
	assert.Equal(t, "containers/abcd1234ef/diff", rec.DiffDir)
	assert.Equal(t, "containers/__extracted/alpine", rec.ImagePath)
	assert.Equal(t, "vbabcd1234ef", rec.VethHost)
	assert.Equal(t, "ethabcd1234ef", rec.VethContainer)
	assert.Equal(t, "nsabcd1234ef", rec.NetnsName)
}

func TestRecord_MarshalRoundTrip(t *testing.T) {
	rec, err := ForID("abcd1234ef", "containers/abcd1234ef", "images", "containers", "alpine")
	require.NoError(t, err)

	encoded, err := rec.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalRecord(encoded)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}
