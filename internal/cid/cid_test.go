package cid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_FormatAndUniqueness(t *testing.T) {
	dir := t.TempDir()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, containerDir, err := Allocate(dir, 10)
		require.NoError(t, err)

		assert.Len(t, id, 10)
		for _, c := range id {
			assert.Contains(t, hexDigits, string(c))
		}
		assert.False(t, seen[id], "id %q reused across allocations", id)
		seen[id] = true

		fi, err := os.Stat(containerDir)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
}

func TestAllocate_RetriesOnCollision(t *testing.T) {
	dir := t.TempDir()

	// Occupy 15 of the 16 possible one-character ids so that most draws
	// collide; Allocate must keep retrying until it lands on the free one and
	// must never return a containerDir that already existed going in.
	const free = "7"
	for _, c := range hexDigits {
		if string(c) != free {
			require.NoError(t, os.Mkdir(filepath.Join(dir, string(c)), 0o755))
		}
	}

	id, dir2, err := Allocate(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, free, id)
	assert.Equal(t, filepath.Join(dir, free), dir2)

	fi, err := os.Stat(dir2)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}
