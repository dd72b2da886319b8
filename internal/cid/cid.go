// Package cid allocates the container's random hex identifier and the
// per-container scratch directory derived from it.
//
// The source this runtime is modeled on draws from a process-wide PRNG
// seeded once from wall time; that is incompatible with concurrent
// controllers (spec.md §9). Allocate instead draws from crypto/rand on every
// call, so the generator carries no mutable global state.
package cid

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shadmanZero/mini_containier/internal/cerrors"
)

const hexDigits = "0123456789abcdef"

// Allocate draws a length-character lowercase hex string, retries on
// collision against containersPath, creates the container directory, and
// returns both.
func Allocate(containersPath string, length int) (id string, containerDir string, err error) {
	for {
		id, err = draw(length)
		if err != nil {
			return "", "", &cerrors.AllocationFailure{Err: err}
		}

		containerDir = filepath.Join(containersPath, id)
		if _, statErr := os.Stat(containerDir); statErr == nil {
			// Collision: some other container already claimed this id.
			continue
		} else if !os.IsNotExist(statErr) {
			return "", "", &cerrors.FilesystemFailure{Op: "stat", Path: containerDir, Err: statErr}
		}

		if err := os.MkdirAll(containerDir, 0o755); err != nil {
			return "", "", &cerrors.FilesystemFailure{Op: "mkdir", Path: containerDir, Err: err}
		}
		return id, containerDir, nil
	}
}

// draw returns length random lowercase hex characters.
func draw(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = hexDigits[b%16]
	}
	return string(out), nil
}
