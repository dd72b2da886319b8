//go:build linux

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shadmanZero/mini_containier/internal/cerrors"
	"github.com/shadmanZero/mini_containier/internal/config"
	"github.com/shadmanZero/mini_containier/internal/imagecache"
	"github.com/shadmanZero/mini_containier/internal/layout"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached image extractions not used by any container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.New()
		removed, err := imagecache.Prune(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		for _, name := range removed {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Print the recorded paths for a container directory left on disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.New()
		id := args[0]
		containerDir := filepath.Join(cfg.ContainersPath, id)

		imageBytes, err := os.ReadFile(filepath.Join(containerDir, "image"))
		if err != nil {
			return &cerrors.FilesystemFailure{Op: "read", Path: containerDir, Err: err}
		}

		rec, err := layout.ForID(id, containerDir, cfg.ImagesPath, cfg.ContainersPath, string(imageBytes))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", rec)
		return nil
	},
}
