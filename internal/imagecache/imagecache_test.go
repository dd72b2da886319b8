package imagecache

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shadmanZero/mini_containier/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixtureArchive builds a tiny tar.gz with one directory and one
// regular file, standing in for a real root-filesystem image archive.
func writeFixtureArchive(t *testing.T, path string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "etc/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}))
	body := []byte("fixture\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "etc/hostname",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(body)),
	}))
	_, err = tw.Write(body)
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestEnsureExtracted_MissThenHit(t *testing.T) {
	containersPath := t.TempDir()
	imagesPath := t.TempDir()
	writeFixtureArchive(t, filepath.Join(imagesPath, "alpine.tar.gz"))

	cfg := config.Defaults{ContainersPath: containersPath, ImagesPath: imagesPath}

	imagePath, err := EnsureExtracted(context.Background(), cfg, "alpine")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(imagePath, "etc", "hostname"))

	data, err := os.ReadFile(filepath.Join(imagePath, "etc", "hostname"))
	require.NoError(t, err)
	assert.Equal(t, "fixture\n", string(data))

	// Second call must be a cache hit: it must not attempt to re-extract,
	// so removing the source archive afterward must not matter.
	require.NoError(t, os.Remove(filepath.Join(imagesPath, "alpine.tar.gz")))
	imagePath2, err := EnsureExtracted(context.Background(), cfg, "alpine")
	require.NoError(t, err)
	assert.Equal(t, imagePath, imagePath2)
}

func TestPrune_RemovesUnreferencedEntriesOnly(t *testing.T) {
	containersPath := t.TempDir()
	imagesPath := t.TempDir()
	writeFixtureArchive(t, filepath.Join(imagesPath, "alpine.tar.gz"))
	writeFixtureArchive(t, filepath.Join(imagesPath, "busybox.tar.gz"))

	cfg := config.Defaults{ContainersPath: containersPath, ImagesPath: imagesPath}

	_, err := EnsureExtracted(context.Background(), cfg, "alpine")
	require.NoError(t, err)
	_, err = EnsureExtracted(context.Background(), cfg, "busybox")
	require.NoError(t, err)

	// Simulate one still-live container referencing "alpine".
	liveDir := filepath.Join(containersPath, "live0000ab")
	require.NoError(t, os.MkdirAll(liveDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(liveDir, "image"), []byte("alpine"), 0o644))

	removed, err := Prune(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"busybox"}, removed)

	assert.DirExists(t, filepath.Join(containersPath, "__extracted", "alpine"))
	assert.NoDirExists(t, filepath.Join(containersPath, "__extracted", "busybox"))
}
